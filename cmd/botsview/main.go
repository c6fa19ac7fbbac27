package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/wesm/botsview/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "botsview",
		Short: "Analytics dashboard for conversational bots",
		Long: `botsview imports bot session records and daily metric series
into SQLite and serves the dashboard, session drilldown and report
builder over a local JSON API.

Data is stored in ~/.botsview/ by default.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadDotEnv,
		RunE:              runServe,
	}
	config.RegisterServeFlags(root.Flags())

	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newPruneCmd(),
		newVersionCmd(),
	)
	return root
}

// loadDotEnv applies a .env file in the working directory, if any.
// Variables already set in the environment win.
func loadDotEnv(*cobra.Command, []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(),
				"botsview %s (commit %s, built %s)\n",
				version, commit, buildDate)
		},
	}
}

// loadConfig layers configuration under the command's parsed flags
// and makes sure the data directory exists.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("creating data dir: %w", err)
	}
	return cfg, nil
}
