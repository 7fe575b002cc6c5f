package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"nsocal/internal/capture"
	"nsocal/internal/config"
	"nsocal/internal/htmltext"
	appLog "nsocal/internal/log"
	"nsocal/internal/output"
	"nsocal/internal/pipeline"
	"nsocal/internal/web"
)

// cliFlags holds command-line overrides applied on top of the config file.
type cliFlags struct {
	configPath string
	outputDir  string
	listen     string
	chromePath string
	logLevel   string
	headful    bool
}

// harvestFunc runs one pipeline pass. Tests replace it.
type harvestFunc func(ctx context.Context, cfg *config.Config, f *cliFlags) (*pipeline.Report, error)

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "nsocal",
		Short: "Publish the NSO events calendar as audience-filtered iCalendar files",
		Long: `nsocal harvests the New Student Orientation events calendar, repairs
broken event data, and writes one .ics file per configured audience.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "./nsocal.yaml", "Path to config file (created with defaults if missing)")
	pf.StringVar(&f.outputDir, "output-dir", "", "Directory for generated calendars (overrides config)")
	pf.StringVar(&f.chromePath, "chrome-path", "", "Chromium binary (overrides config)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.BoolVar(&f.headful, "headful", false, "Show the browser window")

	cmd.AddCommand(newRunCmd(f, harvest))
	cmd.AddCommand(newServeCmd(f, harvest))
	return cmd
}

func newRunCmd(f *cliFlags, run harvestFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Harvest once and write the calendars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			report, err := run(ctx, cfg, f)
			if err != nil {
				return err
			}
			for _, file := range report.Files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d events\n", file.Path, file.Events)
			}
			return nil
		},
	}
}

func newServeCmd(f *cliFlags, run harvestFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Harvest on the configured schedule and serve the calendars over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			srv := web.NewServer(cfg)
			job := newRefreshJob(ctx, cfg, f, run, srv)

			sched, err := newScheduler(cfg, job)
			if err != nil {
				return err
			}
			return runServe(ctx, cancel, sched, job, srv.ListenAndServe)
		},
	}
	cmd.Flags().StringVar(&f.listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

// runServe runs job once, starts the scheduler and blocks in serve. On the
// way out it cancels ctx and waits for scheduled runs and the startup run.
func runServe(ctx context.Context, cancel context.CancelFunc, sched *cron.Cron, job func(), serve func(context.Context) error) error {
	var startup sync.WaitGroup
	startup.Go(job)
	sched.Start()
	defer func() {
		cancel()
		<-sched.Stop().Done()
		startup.Wait()
	}()

	return serve(ctx)
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig(f *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", f.configPath, err)
	}
	applyOverrides(cfg, f)
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Info("effective config",
		"source_url", cfg.SourceURL,
		"output_dir", cfg.OutputDir,
		"timezone", cfg.Timezone,
		"workers", cfg.Workers,
		"batch_size", cfg.BatchSize,
		"fetch_timeout", cfg.FetchTimeout.String(),
		"retries", cfg.Retries,
		"partitions", len(cfg.Partitions),
	)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, f *cliFlags) {
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.chromePath != "" {
		cfg.ChromePath = f.chromePath
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
}

// harvest runs the pipeline against a fresh Chromium allocator.
func harvest(ctx context.Context, cfg *config.Config, f *cliFlags) (*pipeline.Report, error) {
	browser := capture.NewBrowser(ctx, capture.BrowserOptions{
		ExecPath: cfg.ChromePath,
		Headful:  f.headful,
	})
	defer browser.Close()

	return pipeline.Run(ctx, cfg, pipeline.Deps{
		Source: browser,
		ToText: htmltext.Convert,
		Writer: output.NewWriter(cfg.OutputDir),
	})
}

// newRefreshJob returns a job that harvests and records the result on srv.
// Overlapping invocations are skipped.
func newRefreshJob(ctx context.Context, cfg *config.Config, f *cliFlags, run harvestFunc, srv *web.Server) func() {
	var mu sync.Mutex
	return func() {
		if !mu.TryLock() {
			appLog.Warn("refresh skipped: previous run still in progress")
			return
		}
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		srv.RunStarted()
		report, err := run(ctx, cfg, f)
		if err != nil {
			appLog.Error("refresh failed", err)
		}
		srv.RunFinished(report, err)
	}
}

// newScheduler registers job on cfg.Refresh, evaluated in cfg's timezone.
func newScheduler(cfg *config.Config, job func()) (*cron.Cron, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
	)
	if _, err := c.AddFunc(cfg.Refresh, job); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", cfg.Refresh, err)
	}
	return c, nil
}

// cronLogger routes cron's own logging into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
