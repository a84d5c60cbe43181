package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/elisa-tech/BASIL-sub001/internal/sandbox"
)

// DefaultPollInterval is the wait between two polls of a remote job.
const DefaultPollInterval = 60 * time.Second

// Backend is implemented by every test-execution backend. Constructors call
// Validate before returning, so a constructed Backend is always valid.
type Backend interface {
	// Validate checks mandatory configuration. Failures carry exit code 7.
	Validate() error

	// Run triggers the remote job and monitors it to a terminal state.
	Run(ctx context.Context) error

	// CollectArtifacts and Cleanup are always called after Run, whatever
	// its outcome.
	CollectArtifacts(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Update is a status change emitted by a backend. LogAppend holds only the
// log text produced since the previous update.
type Update struct {
	Status    string
	Result    string
	Report    string
	LogAppend string
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// ExecFunc runs a command in dir and returns its combined output and exit
// code. err is set only when the command could not run at all.
type ExecFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (output []byte, exitCode int, err error)

// ArtifactSink stores a local file and returns a URL to it.
type ArtifactSink interface {
	Upload(ctx context.Context, key, path string) (string, error)
}

// Env carries the dependencies shared by all backends.
type Env struct {
	Logger       *slog.Logger
	Clock        clock.Clock
	Wait         WaitFunc
	PollInterval time.Duration
	HTTPClient   *http.Client

	// Emit receives every status update. The engine persists them.
	Emit func(Update)

	// Local runner only.
	WorkDirRoot string
	PlanDir     string
	Sandbox     sandbox.Validator
	Exec        ExecFunc
	Artifacts   ArtifactSink
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Clock == nil {
		e.Clock = clock.New()
	}
	if e.PollInterval <= 0 {
		e.PollInterval = DefaultPollInterval
	}
	if e.HTTPClient == nil {
		e.HTTPClient = http.DefaultClient
	}
	if e.Emit == nil {
		e.Emit = func(Update) {}
	}
	if e.Exec == nil {
		e.Exec = RunCommand
	}
	if e.Wait == nil {
		clk := e.Clock
		e.Wait = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clk.After(d):
				return nil
			}
		}
	}
	return e
}
