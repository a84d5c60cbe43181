// Package gitlabci runs tests as a GitLab CI pipeline started through a
// pipeline trigger.
package gitlabci

import (
	"context"
	"fmt"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Config keys.
const (
	KeyURL          = "url"
	KeyPrivateToken = "private_token"
	KeyProjectID    = "project_id"
	KeyTriggerToken = "trigger_token"
	KeyRef          = "git_repo_ref"
	KeyStage        = "stage"
	KeyJob          = "job"
)

const defaultRef = "main"

// Vocabulary maps pipeline and job statuses to outcomes.
var Vocabulary = backend.Vocabulary{
	"success":              backend.OutcomePass,
	"failed":               backend.OutcomeFail,
	"canceled":             backend.OutcomeFail,
	"skipped":              backend.OutcomeFail,
	"warning":              backend.OutcomePending,
	"pending":              backend.OutcomePending,
	"running":              backend.OutcomePending,
	"manual":               backend.OutcomePending,
	"scheduled":            backend.OutcomePending,
	"created":              backend.OutcomePending,
	"preparing":            backend.OutcomePending,
	"waiting_for_resource": backend.OutcomePending,
}

// Backend triggers one pipeline and follows it, or a subset of its jobs, to
// completion.
type Backend struct {
	*backend.Base

	client *gitlab.Client
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg and returns a ready Backend.
func New(cfg runconfig.Config, env backend.Env) (*Backend, error) {
	b := &Backend{Base: backend.NewBase(backend.KindGitLabCI, cfg, env)}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	client, err := gitlab.NewClient(
		cfg.String(KeyPrivateToken),
		gitlab.WithBaseURL(cfg.String(KeyURL)),
		gitlab.WithHTTPClient(b.Env().HTTPClient),
		gitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, b.Fail(exitcode.Validation, "gitlab client: %v", err)
	}
	b.client = client
	return b, nil
}

// Validate checks the mandatory connection settings.
func (b *Backend) Validate() error {
	if err := b.Require(KeyPrivateToken, KeyProjectID, KeyTriggerToken, KeyURL); err != nil {
		return err
	}
	_, err := b.RequireURL(KeyURL)
	return err
}

// Run triggers the pipeline and polls it until it finishes.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	cfg := b.Config()
	pid := cfg.String(KeyProjectID)
	ref := cfg.StringOr(KeyRef, defaultRef)

	var pipeline *gitlab.Pipeline
	err := b.Trigger(ctx, "trigger pipeline", func(ctx context.Context) error {
		var err error
		pipeline, _, err = b.client.PipelineTriggers.RunPipelineTrigger(pid, &gitlab.RunPipelineTriggerOptions{
			Ref:       gitlab.Ptr(ref),
			Token:     gitlab.Ptr(cfg.String(KeyTriggerToken)),
			Variables: cfg.Env(),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return err
		}
		if pipeline == nil || pipeline.ID == 0 {
			return b.Fail(exitcode.MonitorFailure, "trigger response carries no pipeline id")
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.SetReport(pipeline.WebURL)
	b.Logf("Pipeline %d triggered on %s (ref %s)", pipeline.ID, pid, ref)
	b.Propagate()

	stage, job := cfg.String(KeyStage), cfg.String(KeyJob)
	outcome, err := b.Poll(ctx, func(ctx context.Context, iteration int) (backend.Outcome, error) {
		p, _, err := b.client.Pipelines.GetPipeline(pid, pipeline.ID, gitlab.WithContext(ctx))
		if err != nil {
			return backend.OutcomePending, err
		}
		if p.Status == "" {
			return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "pipeline %d has no status", pipeline.ID)
		}
		if p.WebURL != "" {
			b.SetReport(p.WebURL)
		}
		b.Logf("Poll %d: pipeline %d status %s", iteration, pipeline.ID, p.Status)

		if stage == "" && job == "" {
			b.Propagate()
			return Vocabulary.Map(p.Status), nil
		}

		jobs, _, err := b.client.Jobs.ListPipelineJobs(pid, pipeline.ID, &gitlab.ListJobsOptions{
			ListOptions: gitlab.ListOptions{PerPage: 100},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return backend.OutcomePending, err
		}
		outcome, matched := jobsOutcome(jobs, stage, job)
		b.Logf("Poll %d: %s", iteration, matched)
		b.Propagate()
		if matched == "" && Vocabulary.Map(p.Status).Terminal() {
			return backend.OutcomePending, b.Fail(exitcode.MonitorFailure,
				"pipeline %d finished without jobs matching stage %q job %q", pipeline.ID, stage, job)
		}
		return outcome, nil
	})
	if err != nil {
		return err
	}

	b.Finish(outcome)
	return nil
}

// jobsOutcome combines the jobs selected by stage and name. matched describes
// them for the run log and is empty when nothing matched.
func jobsOutcome(jobs []*gitlab.Job, stage, name string) (backend.Outcome, string) {
	var (
		outcomes []backend.Outcome
		parts    []string
	)
	for _, j := range jobs {
		if stage != "" && j.Stage != stage {
			continue
		}
		if name != "" && j.Name != name {
			continue
		}
		outcomes = append(outcomes, Vocabulary.Map(j.Status))
		parts = append(parts, fmt.Sprintf("%s/%s=%s", j.Stage, j.Name, j.Status))
	}
	if len(outcomes) == 0 {
		return backend.OutcomePending, ""
	}
	return backend.Combine(outcomes...), strings.Join(parts, " ")
}
