package engine

import (
	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/backend/githubactions"
	"github.com/elisa-tech/BASIL-sub001/internal/backend/gitlabci"
	"github.com/elisa-tech/BASIL-sub001/internal/backend/lava"
	"github.com/elisa-tech/BASIL-sub001/internal/backend/testingfarm"
	"github.com/elisa-tech/BASIL-sub001/internal/backend/tmt"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Factory constructs a validated backend.
type Factory func(kind backend.Kind, cfg runconfig.Config, env backend.Env) (backend.Backend, error)

// Dispatch constructs the backend implementing kind.
func Dispatch(kind backend.Kind, cfg runconfig.Config, env backend.Env) (backend.Backend, error) {
	switch kind {
	case backend.KindTMT:
		return construct(tmt.New(cfg, env))
	case backend.KindGitHubActions:
		return construct(githubactions.New(cfg, env))
	case backend.KindGitLabCI:
		return construct(gitlabci.New(cfg, env))
	case backend.KindLAVA:
		return construct(lava.New(cfg, env))
	case backend.KindTestingFarm:
		return construct(testingfarm.New(cfg, env))
	default:
		return nil, exitcode.New(exitcode.UnsupportedBackend, "unsupported backend %s", kind)
	}
}

// construct keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func construct[B backend.Backend](b B, err error) (backend.Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
