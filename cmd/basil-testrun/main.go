// basil-testrun executes one BASIL test run to completion.
//
// Usage: basil-testrun <run id>
//
// The process exit status is 0 when the run reached a result, including a
// failing or erroring test, and one of the codes in package exitcode on a
// fatal path.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/elisa-tech/BASIL-sub001/internal/api"
	"github.com/elisa-tech/BASIL-sub001/internal/artifacts"
	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/config"
	"github.com/elisa-tech/BASIL-sub001/internal/engine"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/sandbox"
	"github.com/elisa-tech/BASIL-sub001/internal/store"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "basil-testrun:", err)
	}
	os.Exit(exitcode.Of(err))
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "basil-testrun <run id>",
		Short:         "Execute a BASIL test run on its configured backend",
		Args:          runIDArg,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := strconv.ParseInt(args[0], 10, 64)
			return run(cmd.Context(), id)
		},
	}
}

// runIDArg accepts exactly one positive integer. Anything else cannot name a
// run record.
func runIDArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return exitcode.New(exitcode.RunNotFound, "expected exactly one test run id, got %d arguments", len(args))
	}
	if id, err := strconv.ParseInt(args[0], 10, 64); err != nil || id <= 0 {
		return exitcode.New(exitcode.RunNotFound, "invalid test run id %q", args[0])
	}
	return nil
}

func run(ctx context.Context, runID int64) error {
	cfg, err := config.Load()
	if err != nil {
		return exitcode.Wrap(exitcode.Unexpected, err, "load configuration")
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		return exitcode.Wrap(exitcode.Unexpected, err, "open database")
	}
	defer db.Close()

	env := backend.Env{
		Logger:       logger,
		Clock:        clock.New(),
		PollInterval: cfg.PollInterval,
		WorkDirRoot:  cfg.WorkDirRoot,
		PlanDir:      cfg.PlanDir,
		Sandbox: sandbox.Validator{
			UserFilesDir: cfg.UserFilesDir,
			ExamplesDir:  cfg.ExamplesDir,
		},
	}
	if cfg.Artifacts.Enabled() {
		uploader, err := artifacts.New(ctx, cfg.Artifacts)
		if err != nil {
			logger.Warn("artifact uploads disabled", "error", err)
		} else {
			env.Artifacts = uploader
		}
	}

	eng := engine.New(db, engine.Options{
		PresetsPath: cfg.PresetsPath,
		AppURL:      cfg.AppURL,
		Env:         env,
	}, logger)

	if cfg.MonitorAddr != "" {
		stopMonitor := startMonitor(ctx, cfg.MonitorAddr, db, eng, logger)
		defer stopMonitor()
	}

	logger.Info("basil-testrun: starting", "run_id", runID, "db", redactDSN(cfg.DBDSN))
	err = eng.Execute(ctx, runID)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("test run interrupted", "run_id", runID, "error", err)
	}
	return err
}

// startMonitor serves the monitor API for the lifetime of the run and
// returns a function that stops it and waits for shutdown.
func startMonitor(ctx context.Context, addr string, s store.Store, eng *engine.Engine, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	srv := api.NewServer(addr, s, eng, logger)
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			logger.Error("monitor", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// redactDSN hides credentials of a database URL.
func redactDSN(dsn string) string {
	if store.IsPostgresDSN(dsn) {
		return "postgres"
	}
	return dsn
}
