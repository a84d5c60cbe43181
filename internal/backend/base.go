package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

const bannerRule = "========================================"

// Banner frames msg with a timestamp for the run log.
func Banner(t time.Time, msg string) string {
	return fmt.Sprintf("\n%s\n%s %s\n%s\n", bannerRule, t.UTC().Format(time.RFC3339), msg, bannerRule)
}

// Base holds the state shared by all backends and reports every change
// through Env.Emit. Backends embed it.
type Base struct {
	kind   Kind
	cfg    runconfig.Config
	env    Env
	logger *slog.Logger

	status  string
	result  string
	report  string
	pending strings.Builder
}

// NewBase returns a Base in the created state.
func NewBase(kind Kind, cfg runconfig.Config, env Env) *Base {
	env = env.withDefaults()
	return &Base{
		kind:   kind,
		cfg:    cfg,
		env:    env,
		logger: env.Logger.With("backend", kind.String(), "uid", cfg.String(runconfig.KeyUID)),
		status: model.StatusCreated,
	}
}

// Kind returns the backend kind.
func (b *Base) Kind() Kind { return b.kind }

// Config returns the resolved configuration. Backends may add keys such as a
// discovered remote job id.
func (b *Base) Config() runconfig.Config { return b.cfg }

// Env returns the backend dependencies.
func (b *Base) Env() Env { return b.env }

// Logger returns the process logger scoped to this backend.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Status returns the current run status.
func (b *Base) Status() string { return b.status }

// Result returns the current run result.
func (b *Base) Result() string { return b.result }

// Report returns the current report location.
func (b *Base) Report() string { return b.report }

// Logf appends a line to the run log. It is flushed by the next Propagate.
func (b *Base) Logf(format string, args ...any) {
	b.pending.WriteString(fmt.Sprintf(format, args...))
	b.pending.WriteString("\n")
}

// LogRaw appends text to the run log unchanged.
func (b *Base) LogRaw(s string) {
	b.pending.WriteString(s)
}

// SetReport records where the human readable result lives.
func (b *Base) SetReport(report string) { b.report = report }

// Propagate emits the current state and the log produced since the last call.
func (b *Base) Propagate() {
	u := Update{
		Status:    b.status,
		Result:    b.result,
		Report:    b.report,
		LogAppend: b.pending.String(),
	}
	b.pending.Reset()
	b.env.Emit(u)
}

// Start is the common beginning of Run: it marks the run as running and
// honors the optional delay directive before any dispatch happens.
func (b *Base) Start(ctx context.Context) error {
	b.status = model.StatusRunning
	b.Logf("Test run started on %s", b.kind)
	b.Propagate()

	minutes, ok := b.delay()
	if !ok {
		return nil
	}
	b.Logf("Waiting %d minute(s) before dispatch", minutes)
	b.Propagate()
	return b.env.Wait(ctx, time.Duration(minutes)*time.Minute)
}

// delay reads "delay" from the top level or from env. Only a positive number
// without leading zeros is honored.
func (b *Base) delay() (int, bool) {
	raw := b.cfg.String(runconfig.KeyDelay)
	if raw == "" {
		raw = b.cfg.EnvValue(runconfig.KeyDelay)
	}
	if raw == "" || strings.HasPrefix(raw, "0") {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Finish records a terminal outcome. Pass and fail complete the run; an
// error outcome leaves it in the error status.
func (b *Base) Finish(o Outcome) {
	b.result = o.Result()
	if o == OutcomeError {
		b.status = model.StatusError
	} else {
		b.status = model.StatusCompleted
	}
	b.Logf("Result: %s", b.result)
	b.Propagate()
	resultsTotal.WithLabelValues(b.kind.String(), b.result).Inc()
	b.logger.Info("test run finished", "result", b.result)
}

// NotExecuted records that the test never ran. The run ends in the error
// status but the process does not fail.
func (b *Base) NotExecuted(reason string) {
	b.status = model.StatusError
	b.result = model.ResultNotExecuted
	b.Logf("Result: %s (%s)", b.result, reason)
	b.Propagate()
	b.logger.Warn("test not executed", "reason", reason)
}

// Fail writes a banner to the run log, moves status and result to error,
// propagates, and returns the error carrying code.
func (b *Base) Fail(code int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	b.LogRaw(Banner(b.env.Clock.Now(), "ERROR: "+msg))
	b.status = model.StatusError
	b.result = model.ResultError
	b.Propagate()
	resultsTotal.WithLabelValues(b.kind.String(), model.ResultError).Inc()
	b.logger.Error("test run failed", "code", code, "error", msg)
	return exitcode.New(code, "%s", msg)
}

// Require fails validation when any of keys is missing from the config.
func (b *Base) Require(keys ...string) error {
	for _, k := range keys {
		if !b.cfg.Has(k) {
			return b.Fail(exitcode.Validation, "missing mandatory field %q for %s", k, b.kind)
		}
	}
	return nil
}

// RequireURL parses the http(s) URL at key. A missing or malformed URL fails
// validation.
func (b *Base) RequireURL(key string) (*url.URL, error) {
	raw := b.cfg.String(key)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, b.Fail(exitcode.Validation, "malformed %s %q for %s", key, raw, b.kind)
	}
	return u, nil
}

// Trigger runs the request that starts the remote job. Any error is fatal
// with the execution failure code.
func (b *Base) Trigger(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	start := b.env.Clock.Now()
	err := fn(ctx)
	triggerDuration.WithLabelValues(b.kind.String()).Observe(b.env.Clock.Since(start).Seconds())
	if err != nil {
		triggersTotal.WithLabelValues(b.kind.String(), triggerError).Inc()
		var fatal *exitcode.Error
		if errors.As(err, &fatal) {
			return err
		}
		return b.Fail(exitcode.ExecutionFailure, "%s: %v", what, err)
	}
	triggersTotal.WithLabelValues(b.kind.String(), triggerOK).Inc()
	return nil
}

// CollectArtifacts does nothing by default.
func (b *Base) CollectArtifacts(context.Context) error { return nil }

// Cleanup does nothing by default.
func (b *Base) Cleanup(context.Context) error { return nil }
