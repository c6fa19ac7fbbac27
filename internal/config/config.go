package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DataDir       string        `mapstructure:"data_dir"`
	ImportDir     string        `mapstructure:"import_dir"`
	ExportDir     string        `mapstructure:"export_dir"`
	LogLevel      string        `mapstructure:"log_level"`
	Bots          []string      `mapstructure:"bots"`
	DefaultDays   int           `mapstructure:"default_days"`
	CreatedBy     string        `mapstructure:"created_by"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	ExportTimeout time.Duration `mapstructure:"export_timeout"`
	DBPath        string        `mapstructure:"-"`
}

const configFileName = "config.yaml"

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	return Config{
		Host:          "127.0.0.1",
		Port:          8080,
		DataDir:       filepath.Join(home, ".botsview"),
		LogLevel:      "info",
		DefaultDays:   7,
		CreatedBy:     "botsview",
		WriteTimeout:  30 * time.Second,
		FetchTimeout:  15 * time.Second,
		ExportTimeout: 60 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The config file lives in the data directory, so an env or
	// flag override of the directory applies before reading it.
	if v := os.Getenv("BOTSVIEW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if fs != nil {
		if f := fs.Lookup("data-dir"); f != nil && f.Changed {
			cfg.DataDir = f.Value.String()
		}
	}

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, fmt.Errorf("loading environment: %w", err)
	}
	applyFlags(&cfg, fs)
	cfg.resolvePaths()
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	c.DBPath = filepath.Join(c.DataDir, "botsview.db")
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(c.DataDir, "exports")
	}
}

// ConfigPath returns the config file location. BOTSVIEW_CONFIG
// overrides the default file in the data directory.
func (c *Config) ConfigPath() string {
	if v := os.Getenv("BOTSVIEW_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(c.DataDir, configFileName)
}

// loadFile overlays keys present in the config file. Keys the file
// omits keep their current values.
func (c *Config) loadFile() error {
	path := c.ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("BOTSVIEW_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("BOTSVIEW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BOTSVIEW_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("BOTSVIEW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BOTSVIEW_IMPORT_DIR"); v != "" {
		c.ImportDir = v
	}
	if v := os.Getenv("BOTSVIEW_EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := os.Getenv("BOTSVIEW_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BOTSVIEW_BOTS"); v != "" {
		c.Bots = splitList(v)
	}
	if v := os.Getenv("BOTSVIEW_CREATED_BY"); v != "" {
		c.CreatedBy = v
	}
	if v := os.Getenv("BOTSVIEW_EXPORT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BOTSVIEW_EXPORT_TIMEOUT: %w", err)
		}
		c.ExportTimeout = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must parse fs before passing it to Load.
func RegisterServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.String("import-dir", "", "Directory of JSONL files to watch and import")
	fs.StringSlice("bots", nil, "Bots selected when the dashboard opens")
	fs.Int("days", 7, "Length of the initial date range in days")
	RegisterCommonFlags(fs)
}

// RegisterCommonFlags registers flags shared by every command.
func RegisterCommonFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Data directory (database, exports, config.yaml)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// pflag already validated the int; ignore parse error
			cfg.Port, _ = fs.GetInt("port")
		case "data-dir":
			cfg.DataDir = f.Value.String()
		case "import-dir":
			cfg.ImportDir = f.Value.String()
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "bots":
			cfg.Bots, _ = fs.GetStringSlice("bots")
		case "days":
			cfg.DefaultDays, _ = fs.GetInt("days")
		}
	})
}

// Logger builds the root logger at the configured level.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).
		With().Timestamp().Logger()
}
