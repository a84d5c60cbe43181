// Package lava submits a job definition to a LAVA lab and reads the result
// of the injected test definition.
package lava

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Config keys.
const (
	KeyURL           = "url"
	KeyPrivateToken  = "private_token"
	KeyJobDefinition = "job_definition"
	KeyJobID         = "job_id"
)

//go:embed job.yaml
var defaultJob []byte

// StateVocabulary maps job states. Every state but the queued and running
// ones ends polling; the result then comes from the job's test suites.
var StateVocabulary = backend.Vocabulary{
	"Submitted":  backend.OutcomePending,
	"Scheduling": backend.OutcomePending,
	"Scheduled":  backend.OutcomePending,
	"Running":    backend.OutcomePending,
	"Canceling":  backend.OutcomeFail,
	"Finished":   backend.OutcomeFail,
}

// ResultVocabulary maps test case results.
var ResultVocabulary = backend.Vocabulary{
	"pass":    backend.OutcomePass,
	"fail":    backend.OutcomeFail,
	"skip":    backend.OutcomeFail,
	"unknown": backend.OutcomeFail,
}

var unsafeName = regexp.MustCompile(`[^-_a-zA-Z0-9.]+`)

// SanitizeName makes s usable as a LAVA test definition name.
func SanitizeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "basil"
	}
	return s
}

// Backend submits one job and waits for it to finish.
type Backend struct {
	*backend.Base

	client   *resty.Client
	base     string
	testName string
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg and returns a ready Backend.
func New(cfg runconfig.Config, env backend.Env) (*Backend, error) {
	b := &Backend{Base: backend.NewBase(backend.KindLAVA, cfg, env)}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.base = strings.TrimSuffix(cfg.String(KeyURL), "/")
	b.client = resty.NewWithClient(b.Env().HTTPClient).
		SetBaseURL(b.base).
		SetHeader("Authorization", "Token "+cfg.String(KeyPrivateToken)).
		SetHeader("Accept", "application/json")
	b.testName = SanitizeName(cfg.EnvValue(runconfig.VarTestCaseTitle))
	return b, nil
}

// Validate checks the token and the lab URL.
func (b *Backend) Validate() error {
	if err := b.Require(KeyPrivateToken, KeyURL); err != nil {
		return err
	}
	_, err := b.RequireURL(KeyURL)
	return err
}

// Run submits the job, polls its state and reads the test result once the
// job has finished.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	definition, err := b.jobDefinition()
	if err != nil {
		return err
	}

	var jobID int64
	err = b.Trigger(ctx, "submit job", func(ctx context.Context) error {
		resp, err := b.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"definition": definition}).
			Post("/api/v0.2/jobs/")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
		}
		var submitted struct {
			JobIDs []int64 `json:"job_ids"`
		}
		if err := json.Unmarshal(resp.Body(), &submitted); err != nil {
			return fmt.Errorf("decode submit response: %w", err)
		}
		if len(submitted.JobIDs) == 0 {
			return b.Fail(exitcode.MonitorFailure, "submit response carries no job id")
		}
		jobID = submitted.JobIDs[0]
		return nil
	})
	if err != nil {
		return err
	}

	b.Config()[KeyJobID] = jobID
	b.SetReport(fmt.Sprintf("%s/scheduler/job/%d", b.base, jobID))
	b.Logf("Job %d submitted with test definition %s", jobID, b.testName)
	b.Propagate()

	_, err = b.Poll(ctx, func(ctx context.Context, iteration int) (backend.Outcome, error) {
		var job struct {
			State *string `json:"state"`
		}
		if err := b.get(ctx, fmt.Sprintf("/api/v0.2/jobs/%d/", jobID), &job); err != nil {
			return backend.OutcomePending, err
		}
		if job.State == nil {
			return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "job %d has no state", jobID)
		}
		b.Logf("Poll %d: job %d state %s", iteration, jobID, *job.State)
		b.Propagate()
		return StateVocabulary.Map(*job.State), nil
	})
	if err != nil {
		return err
	}

	outcome, err := b.Poll(ctx, func(ctx context.Context, _ int) (backend.Outcome, error) {
		return b.result(ctx, jobID)
	})
	if err != nil {
		return err
	}
	b.Finish(outcome)
	return nil
}

// jobDefinition loads the job template and injects the test definition of
// the mapped test case.
func (b *Backend) jobDefinition() (string, error) {
	cfg := b.Config()
	raw := defaultJob
	if path := cfg.String(KeyJobDefinition); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", b.Fail(exitcode.Validation, "read job definition: %v", err)
		}
		raw = data
	}

	var job map[string]any
	if err := yaml.Unmarshal(raw, &job); err != nil {
		return "", b.Fail(exitcode.Validation, "parse job definition: %v", err)
	}
	if job == nil {
		return "", b.Fail(exitcode.Validation, "job definition is empty")
	}
	job["job_name"] = "basil-" + cfg.String(runconfig.KeyUID)

	test := firstTestAction(job)
	if test == nil {
		return "", b.Fail(exitcode.Validation, "job definition has no test action")
	}

	params := make(map[string]any)
	for k, v := range cfg.Env() {
		params[k] = v
	}
	definitions, _ := test["definitions"].([]any)
	test["definitions"] = append(definitions, map[string]any{
		"repository": cfg.EnvValue(runconfig.VarTestRepoPath),
		"from":       "git",
		"path":       cfg.EnvValue(runconfig.VarTestRelativePath),
		"name":       b.testName,
		"parameters": params,
	})

	out, err := yaml.Marshal(job)
	if err != nil {
		return "", b.Fail(exitcode.Validation, "encode job definition: %v", err)
	}
	return string(out), nil
}

func firstTestAction(job map[string]any) map[string]any {
	actions, _ := job["actions"].([]any)
	for _, a := range actions {
		action, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if test, ok := action["test"].(map[string]any); ok {
			return test
		}
	}
	return nil
}

type suite struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type testCase struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

type page[T any] struct {
	Results []T `json:"results"`
}

// result finds the suite named <ordinal>_<test name> and combines its test
// case results. A missing suite fails the run. Fetch errors are returned
// plain so the caller retries them.
func (b *Backend) result(ctx context.Context, jobID int64) (backend.Outcome, error) {
	var suites page[suite]
	if err := b.get(ctx, fmt.Sprintf("/api/v0.2/jobs/%d/suites/", jobID), &suites); err != nil {
		return backend.OutcomePending, fmt.Errorf("read suites of job %d: %w", jobID, err)
	}

	pattern := regexp.MustCompile(`^\d+_` + regexp.QuoteMeta(b.testName) + `$`)
	var found *suite
	for i := range suites.Results {
		if pattern.MatchString(suites.Results[i].Name) {
			found = &suites.Results[i]
			break
		}
	}
	if found == nil {
		b.Logf("Test definition %s not found in the results of job %d", b.testName, jobID)
		return backend.OutcomeFail, nil
	}

	var tests page[testCase]
	if err := b.get(ctx, fmt.Sprintf("/api/v0.2/jobs/%d/suites/%d/tests/", jobID, found.ID), &tests); err != nil {
		return backend.OutcomePending, fmt.Errorf("read tests of suite %s: %w", found.Name, err)
	}
	outcomes := make([]backend.Outcome, 0, len(tests.Results))
	for _, tc := range tests.Results {
		b.Logf("%s: %s", tc.Name, tc.Result)
		outcomes = append(outcomes, ResultVocabulary.Map(tc.Result))
	}
	return backend.Combine(outcomes...), nil
}

func (b *Backend) get(ctx context.Context, path string, into any) error {
	resp, err := b.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), into); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
