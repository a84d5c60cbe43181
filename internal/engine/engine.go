package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
	"github.com/elisa-tech/BASIL-sub001/internal/store"
)

// Options configures an Engine.
type Options struct {
	// PresetsPath is the preset document read when a run config names a
	// preset.
	PresetsPath string

	// AppURL prefixes the link carried by notifications.
	AppURL string

	// Env is handed to every backend. Emit is replaced by the engine.
	Env backend.Env

	// Factory builds the backend for a kind. Defaults to Dispatch.
	Factory Factory
}

// Engine executes test runs.
type Engine struct {
	store   store.Store
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger
	broker  *LogBroker
	factory Factory
}

// New creates an engine backed by s.
func New(s store.Store, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Env.Clock
	if clk == nil {
		clk = clock.New()
	}
	opts.Env.Clock = clk
	if opts.Env.Logger == nil {
		opts.Env.Logger = logger
	}
	factory := opts.Factory
	if factory == nil {
		factory = Dispatch
	}
	return &Engine{
		store:   s,
		opts:    opts,
		clock:   clk,
		logger:  logger,
		broker:  NewLogBroker(),
		factory: factory,
	}
}

// Broker returns the engine's log broker for live log subscribers.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Execute runs the test run with the given id to a terminal state. Fatal
// conditions are returned as *exitcode.Error; a run that finishes with a
// failing or erroring test is not an error.
//
// When ctx is canceled the backend stops polling, the record keeps the last
// status written, and Execute returns an Unexpected error.
func (e *Engine) Execute(ctx context.Context, runID int64) (err error) {
	start := e.clock.Now()
	defer func() {
		code := exitcode.Of(err)
		runsTotal.WithLabelValues(codeLabel(code)).Inc()
		runDuration.Observe(e.clock.Since(start).Seconds())
	}()

	run, err := e.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return exitcode.New(exitcode.RunNotFound, "test run %d not found", runID)
	}
	if err != nil {
		return exitcode.Wrap(exitcode.Unexpected, err, "load test run")
	}
	if run.Status != model.StatusCreated {
		return exitcode.New(exitcode.AlreadyTriggered, "test run %d already triggered (status %s)", runID, run.Status)
	}

	logger := e.logger.With("run_id", run.ID, "uid", run.UID)
	st := &runState{engine: e, run: run, logger: logger}
	defer e.broker.Close(run.ID)

	// Every run that ends completed or in error raises one notification.
	// Interrupted runs keep their last status and raise none.
	var id runconfig.Identity
	defer func() {
		if nerr := e.notify(context.WithoutCancel(ctx), st.run, id); nerr != nil {
			logger.Error("create notification", "error", nerr)
		}
	}()

	id, rc, err := e.load(ctx, st)
	if err != nil {
		return err
	}

	kind, err := backend.ParseKind(rc.Plugin)
	if err != nil {
		return st.fail(ctx, exitcode.UnsupportedBackend, "%v", err)
	}

	var presets runconfig.Presets
	if rc.PluginPreset != "" {
		presets, err = runconfig.LoadPresets(e.opts.PresetsPath)
		if err != nil {
			return st.fail(ctx, exitcode.Validation, "load presets: %v", err)
		}
	}
	cfg := runconfig.Resolve(*rc, presets, id)

	st.apply(ctx, backend.Update{LogAppend: backend.Banner(e.clock.Now(), fmt.Sprintf("Test run %s dispatched to %s", run.UID, kind))})
	logger.Info("dispatching test run", "backend", kind.String())

	env := e.opts.Env
	env.Logger = logger
	env.Emit = func(u backend.Update) { st.apply(ctx, u) }

	var (
		wg     conc.WaitGroup
		runErr error
	)
	wg.Go(func() {
		runErr = e.lifecycle(ctx, kind, cfg, env, logger)
	})
	if r := wg.WaitAndRecover(); r != nil {
		logger.Error("backend panicked", "panic", r.Value, "stack", string(r.Stack))
		return st.fail(ctx, exitcode.Unexpected, "unexpected failure in %s: %v", kind, r.Value)
	}

	if runErr != nil {
		if ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
			st.apply(ctx, backend.Update{LogAppend: backend.Banner(e.clock.Now(), fmt.Sprintf("INTERRUPTED: %v; remote job left running", context.Cause(ctx)))})
			logger.Warn("test run interrupted", "status", st.run.Status)
			return exitcode.Wrap(exitcode.Unexpected, runErr, "test run interrupted")
		}
		var fatal *exitcode.Error
		if errors.As(runErr, &fatal) {
			return runErr
		}
		return st.fail(ctx, exitcode.Unexpected, "%v", runErr)
	}

	logger.Info("test run finished", "status", st.run.Status, "result", st.run.Result)
	return nil
}

// load reads everything the run references. Lookup misses are fatal.
func (e *Engine) load(ctx context.Context, st *runState) (runconfig.Identity, *model.RunConfig, error) {
	run := st.run
	id := runconfig.Identity{Run: *run}

	rc, err := e.store.GetRunConfig(ctx, run.ConfigID)
	if err != nil {
		return id, nil, st.lookupFailed(ctx, exitcode.RunNotFound, "test run config", run.ConfigID, err)
	}
	id.Config = *rc

	if !model.IsMappingTable(run.MappingTo) {
		return id, nil, st.fail(ctx, exitcode.UnknownMappingType, "unknown mapping type %q", run.MappingTo)
	}
	mapping, err := e.store.GetMapping(ctx, run.MappingTo, run.MappingID)
	if err != nil {
		return id, nil, st.lookupFailed(ctx, exitcode.MappingNotFound, run.MappingTo, run.MappingID, err)
	}
	id.Mapping = *mapping

	api, err := e.store.GetAPI(ctx, run.APIID)
	if err != nil {
		return id, nil, st.lookupFailed(ctx, exitcode.MappingNotFound, "api", run.APIID, err)
	}
	id.API = *api

	user, err := e.store.GetUser(ctx, run.CreatedByID)
	if err != nil {
		return id, nil, st.lookupFailed(ctx, exitcode.RunNotFound, "user", run.CreatedByID, err)
	}
	id.User = *user
	return id, rc, nil
}

// lifecycle constructs the backend and drives it. Artifacts are collected
// and cleanup runs whatever Run returned, even after cancellation.
func (e *Engine) lifecycle(ctx context.Context, kind backend.Kind, cfg runconfig.Config, env backend.Env, logger *slog.Logger) error {
	b, err := e.factory(kind, cfg, env)
	if err != nil {
		return err
	}

	runErr := b.Run(ctx)

	after := context.WithoutCancel(ctx)
	if err := b.CollectArtifacts(after); err != nil {
		logger.Warn("collect artifacts", "error", err)
	}
	if err := b.Cleanup(after); err != nil {
		logger.Warn("cleanup", "error", err)
	}
	return runErr
}

// runState owns the in-memory run record. Every change goes through apply,
// which persists the full record.
type runState struct {
	engine *Engine
	run    *model.Run
	logger *slog.Logger
}

// apply merges a backend update into the record, persists it and publishes
// the log delta. Backward status moves are ignored.
func (s *runState) apply(ctx context.Context, u backend.Update) {
	if u.Status != "" {
		if model.ValidTransition(s.run.Status, u.Status) {
			s.run.Status = u.Status
		} else {
			s.logger.Warn("ignoring status transition", "from", s.run.Status, "to", u.Status)
		}
	}
	if u.Result != "" {
		s.run.Result = u.Result
	}
	if u.Report != "" {
		s.run.Report = u.Report
	}
	if u.LogAppend != "" {
		s.run.Log += u.LogAppend
		s.engine.broker.Publish(s.run.ID, u.LogAppend)
	}

	if err := s.engine.store.UpdateRun(context.WithoutCancel(ctx), s.run); err != nil {
		s.logger.Error("persist test run", "error", err)
	}
}

// fail writes the error banner, leaves the record in error and returns the
// fatal error.
func (s *runState) fail(ctx context.Context, code int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.apply(ctx, backend.Update{
		Status:    model.StatusError,
		Result:    model.ResultError,
		LogAppend: backend.Banner(s.engine.clock.Now(), "ERROR: "+msg),
	})
	s.logger.Error("test run failed", "code", code, "error", msg)
	return exitcode.New(code, "%s", msg)
}

func (s *runState) lookupFailed(ctx context.Context, code int, what string, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return s.fail(ctx, code, "%s %d not found", what, id)
	}
	return s.fail(ctx, exitcode.Unexpected, "load %s %d: %v", what, id, err)
}
