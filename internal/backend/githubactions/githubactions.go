// Package githubactions runs tests as a GitHub Actions workflow dispatched
// with a correlation id input.
package githubactions

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v72/github"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Config keys.
const (
	KeyURL           = "url"
	KeyPrivateToken  = "private_token"
	KeyWorkflowID    = "workflow_id"
	KeyRef           = "git_repo_ref"
	KeyJob           = "job"
	KeyAPIURL        = "api_url"
	KeyCorrelationID = "correlation_id"
)

const (
	defaultWorkflow = "basil.yml"
	defaultRef      = "main"
	publicAPI       = "https://api.github.com/"

	statusCompleted = "completed"
)

// StatusVocabulary maps workflow run and job statuses that are not yet
// final. "completed" is resolved through ConclusionVocabulary.
var StatusVocabulary = backend.Vocabulary{
	"queued":      backend.OutcomePending,
	"in_progress": backend.OutcomePending,
	"waiting":     backend.OutcomePending,
	"requested":   backend.OutcomePending,
	"pending":     backend.OutcomePending,
}

// ConclusionVocabulary maps the conclusion of a completed run or job.
var ConclusionVocabulary = backend.Vocabulary{
	"success":         backend.OutcomePass,
	"failure":         backend.OutcomeFail,
	"neutral":         backend.OutcomeFail,
	"cancelled":       backend.OutcomeFail,
	"skipped":         backend.OutcomeFail,
	"timed_out":       backend.OutcomeFail,
	"action_required": backend.OutcomeFail,
}

// Backend dispatches one workflow run and follows it to completion.
type Backend struct {
	*backend.Base

	client *github.Client
	owner  string
	repo   string
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg and returns a ready Backend.
func New(cfg runconfig.Config, env backend.Env) (*Backend, error) {
	b := &Backend{Base: backend.NewBase(backend.KindGitHubActions, cfg, env)}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	api, err := apiURL(cfg)
	if err != nil {
		return nil, b.Fail(exitcode.Validation, "malformed %s: %v", KeyAPIURL, err)
	}
	b.client = github.NewClient(b.Env().HTTPClient).WithAuthToken(cfg.String(KeyPrivateToken))
	b.client.BaseURL = api
	return b, nil
}

// Validate checks the token and the repository URL.
func (b *Backend) Validate() error {
	if err := b.Require(KeyPrivateToken, KeyURL); err != nil {
		return err
	}
	u, err := b.RequireURL(KeyURL)
	if err != nil {
		return err
	}
	owner, repo, ok := splitRepository(u)
	if !ok {
		return b.Fail(exitcode.Validation, "%s %q does not name a repository", KeyURL, u)
	}
	b.owner, b.repo = owner, repo
	return nil
}

// splitRepository extracts owner and name from https://host/owner/repo[.git].
func splitRepository(u *url.URL) (string, string, bool) {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// apiURL returns the REST endpoint: api_url when set, the public API for
// github.com, otherwise the GitHub Enterprise /api/v3/ path of the host.
func apiURL(cfg runconfig.Config) (*url.URL, error) {
	raw := cfg.String(KeyAPIURL)
	if raw == "" {
		repo, err := url.Parse(cfg.String(KeyURL))
		if err != nil {
			return nil, err
		}
		if repo.Host == "github.com" || repo.Host == "www.github.com" {
			raw = publicAPI
		} else {
			raw = fmt.Sprintf("%s://%s/api/v3/", repo.Scheme, repo.Host)
		}
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return url.Parse(raw)
}

// Run dispatches the workflow and polls until its run, or the configured
// job of it, completes.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	cfg := b.Config()
	workflow := cfg.StringOr(KeyWorkflowID, defaultWorkflow)
	ref := cfg.StringOr(KeyRef, defaultRef)
	correlationID := model.NewID()
	cfg[KeyCorrelationID] = correlationID

	err := b.Trigger(ctx, "dispatch workflow", func(ctx context.Context) error {
		event := github.CreateWorkflowDispatchEventRequest{
			Ref:    ref,
			Inputs: map[string]interface{}{"uid": correlationID},
		}
		if id, err := strconv.ParseInt(workflow, 10, 64); err == nil {
			_, err = b.client.Actions.CreateWorkflowDispatchEventByID(ctx, b.owner, b.repo, id, event)
			return err
		}
		_, err := b.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, b.owner, b.repo, workflow, event)
		return err
	})
	if err != nil {
		return err
	}
	b.Logf("Workflow %s dispatched on %s/%s@%s with uid %s", workflow, b.owner, b.repo, ref, correlationID)
	b.Propagate()

	job := cfg.String(KeyJob)
	outcome, err := b.Poll(ctx, func(ctx context.Context, iteration int) (backend.Outcome, error) {
		run, err := b.findRun(ctx, workflow, ref, correlationID)
		if err != nil {
			return backend.OutcomePending, err
		}
		if run == nil {
			b.Logf("Poll %d: waiting for workflow run %s", iteration, correlationID)
			b.Propagate()
			return backend.OutcomePending, nil
		}
		if run.GetStatus() == "" {
			return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "workflow run %d has no status", run.GetID())
		}
		b.SetReport(run.GetHTMLURL())
		b.Logf("Poll %d: workflow run %d status %s %s", iteration, run.GetID(), run.GetStatus(), run.GetConclusion())
		b.Propagate()

		if job == "" {
			return completion(run.GetStatus(), run.GetConclusion()), nil
		}
		return b.jobOutcome(ctx, run, job, iteration)
	})
	if err != nil {
		return err
	}

	b.Finish(outcome)
	return nil
}

// findRun returns the dispatched run carrying correlationID in its title, or
// nil when GitHub does not list it yet.
func (b *Backend) findRun(ctx context.Context, workflow, ref, correlationID string) (*github.WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		Event:       "workflow_dispatch",
		Branch:      ref,
		ListOptions: github.ListOptions{PerPage: 50},
	}

	var (
		runs *github.WorkflowRuns
		err  error
	)
	if id, perr := strconv.ParseInt(workflow, 10, 64); perr == nil {
		runs, _, err = b.client.Actions.ListWorkflowRunsByID(ctx, b.owner, b.repo, id, opts)
	} else {
		runs, _, err = b.client.Actions.ListWorkflowRunsByFileName(ctx, b.owner, b.repo, workflow, opts)
	}
	if err != nil {
		return nil, err
	}
	if runs == nil {
		return nil, b.Fail(exitcode.MonitorFailure, "workflow runs response is empty")
	}
	for _, run := range runs.WorkflowRuns {
		if strings.Contains(run.GetDisplayTitle(), correlationID) || strings.Contains(run.GetName(), correlationID) {
			return run, nil
		}
	}
	return nil, nil
}

func (b *Backend) jobOutcome(ctx context.Context, run *github.WorkflowRun, name string, iteration int) (backend.Outcome, error) {
	jobs, _, err := b.client.Actions.ListWorkflowJobs(ctx, b.owner, b.repo, run.GetID(), &github.ListWorkflowJobsOptions{
		Filter:      "latest",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return backend.OutcomePending, err
	}
	if jobs == nil {
		return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "workflow jobs response is empty")
	}
	for _, j := range jobs.Jobs {
		if j.GetName() != name {
			continue
		}
		if j.GetHTMLURL() != "" {
			b.SetReport(j.GetHTMLURL())
		}
		b.Logf("Poll %d: job %s status %s %s", iteration, name, j.GetStatus(), j.GetConclusion())
		b.Propagate()
		return completion(j.GetStatus(), j.GetConclusion()), nil
	}
	if run.GetStatus() == statusCompleted {
		return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "workflow run %d completed without job %q", run.GetID(), name)
	}
	return backend.OutcomePending, nil
}

func completion(status, conclusion string) backend.Outcome {
	if status == statusCompleted {
		return ConclusionVocabulary.Map(conclusion)
	}
	return StatusVocabulary.Map(status)
}
