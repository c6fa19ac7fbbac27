package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wesm/botsview/internal/config"
	"github.com/wesm/botsview/internal/dashboard"
	"github.com/wesm/botsview/internal/db"
	"github.com/wesm/botsview/internal/export"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/ingest"
	"github.com/wesm/botsview/internal/metrics"
	"github.com/wesm/botsview/internal/report"
	"github.com/wesm/botsview/internal/server"
)

const (
	watcherDebounce = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server (default command)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

// app holds the components the server is built from.
type app struct {
	db        *db.DB
	metrics   *metrics.Metrics
	dashboard *dashboard.Dashboard
	history   *report.History
	files     *export.FileService
	builder   *report.Builder
}

func newApp(
	ctx context.Context, cfg config.Config, logger zerolog.Logger,
) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a := &app{db: database, metrics: metrics.New()}

	a.history, err = report.LoadHistory(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	initial := filter.Default(cfg.Bots, time.Now(), cfg.DefaultDays)
	a.dashboard = dashboard.New(database, initial,
		dashboard.WithLogger(logger.With().Str("component", "dashboard").Logger()),
		dashboard.WithMetrics(a.metrics),
		dashboard.WithFetchTimeout(cfg.FetchTimeout),
	)

	a.files, err = export.NewFileService(cfg.ExportDir, a.dashboard,
		export.WithCreatedBy(cfg.CreatedBy),
		export.WithLogger(logger.With().Str("component", "export").Logger()),
	)
	if err != nil {
		database.Close()
		return nil, err
	}

	a.builder = report.NewBuilder(
		report.DefaultSpec(cfg.Bots, initial.Range), a.files, a.history,
		report.WithTimeout(cfg.ExportTimeout),
		report.WithLogger(logger.With().Str("component", "reports").Logger()),
		report.WithResultHook(reportCounter(a.metrics)),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// reportCounter counts finished exports by format and result.
func reportCounter(m *metrics.Metrics) func(report.Outcome) {
	return func(o report.Outcome) {
		result := metrics.ReportOK
		var gerr *report.GenerateError
		switch {
		case errors.As(o.Err, &gerr) && gerr.Timeout():
			result = metrics.ReportTimeout
		case errors.Is(o.Err, report.ErrInvalidTransition):
			result = metrics.ReportDiscarded
		case o.Err != nil:
			result = metrics.ReportFailed
		}
		m.ObserveReport(string(o.Format), result)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(
		cmd.Context(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()
	ctx = logger.WithContext(ctx)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.ImportDir != "" {
		importer := ingest.New(a.db,
			ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
			ingest.WithMetrics(a.metrics),
		)
		runInitialImport(ctx, importer, cfg.ImportDir, logger)
		stopWatcher := startImportWatcher(ctx, cfg.ImportDir, importer, a.dashboard, logger)
		defer stopWatcher()
	}

	if _, err := a.dashboard.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial dashboard load failed")
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		logger.Info().Int("requested", cfg.Port).Int("port", port).
			Msg("port in use, using next free port")
	}
	cfg.Port = port

	srv := server.New(cfg, logger, server.Dependencies{
		Dashboard: a.dashboard,
		Builder:   a.builder,
		History:   a.history,
		Downloads: a.files,
		Metrics:   a.metrics,
	}, server.WithVersion(server.VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}))

	fmt.Fprintf(cmd.OutOrStdout(), "botsview %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), shutdownTimeout,
	)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runInitialImport(
	ctx context.Context, im *ingest.Importer, dir string,
	logger zerolog.Logger,
) {
	if _, err := os.Stat(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("import directory unavailable")
		return
	}
	res, err := im.ImportDir(ctx, dir)
	if err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("initial import failed")
		return
	}
	logger.Info().
		Int("sessions", res.Sessions).
		Int("series", res.Series).
		Int("skipped", res.Skipped).
		Msg("initial import complete")
}

// startImportWatcher imports JSONL files as they settle under dir
// and refreshes the dashboard after each batch. The returned func
// stops the watcher.
func startImportWatcher(
	ctx context.Context, dir string, im *ingest.Importer,
	dash *dashboard.Dashboard, logger zerolog.Logger,
) func() {
	onChange := func(paths []string) {
		imported := 0
		for _, p := range paths {
			res, err := im.ImportFile(ctx, p)
			if err != nil {
				logger.Error().Err(err).Str("path", p).Msg("import failed")
				continue
			}
			imported += res.Sessions + res.Series
		}
		if imported == 0 {
			return
		}
		if _, err := dash.Refresh(ctx); err != nil &&
			!errors.Is(err, dashboard.ErrSuperseded) {
			logger.Warn().Err(err).Msg("refresh after import failed")
		}
	}

	w, err := ingest.NewWatcher(watcherDebounce, logger, onChange)
	if err != nil {
		logger.Warn().Err(err).Msg("file watcher unavailable")
		return func() {}
	}
	w.Start()
	n, err := w.AddTree(dir)
	if err != nil {
		logger.Warn().Err(err).Msg("import directory not watched")
		return w.Stop
	}
	logger.Info().Int("dirs", n).Str("dir", dir).Msg("watching for imports")
	return w.Stop
}
