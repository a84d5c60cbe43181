// Package testingfarm runs the hosted BASIL tmt plan through a Testing Farm
// request.
package testingfarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Config keys.
const (
	KeyURL          = "url"
	KeyPrivateToken = "private_token"
	KeyArch         = "arch"
	KeyCompose      = "compose"
	KeyRef          = "git_repo_ref"
	KeyFMFURL       = "fmf_url"
	KeyFMFPlan      = "fmf_plan"
	KeyRequestID    = "request_id"
)

// Defaults pointing at the plan shipped with BASIL.
const (
	DefaultFMFURL  = "https://github.com/elisa-tech/BASIL.git"
	DefaultFMFPlan = "/tmt/plans/basil"
)

const stateComplete = "complete"

// StateVocabulary maps request states. "complete" is resolved through
// ResultVocabulary.
var StateVocabulary = backend.Vocabulary{
	"new":              backend.OutcomePending,
	"queued":           backend.OutcomePending,
	"running":          backend.OutcomePending,
	"error":            backend.OutcomeError,
	"canceled":         backend.OutcomeFail,
	"cancel-requested": backend.OutcomePending,
}

// ResultVocabulary maps result.overall of a complete request.
var ResultVocabulary = backend.Vocabulary{
	"passed":  backend.OutcomePass,
	"failed":  backend.OutcomeFail,
	"skipped": backend.OutcomeFail,
	"unknown": backend.OutcomeFail,
	"error":   backend.OutcomeError,
}

type fmfTest struct {
	URL  string `json:"url"`
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

type environment struct {
	Arch      string            `json:"arch"`
	OS        map[string]string `json:"os"`
	Variables map[string]string `json:"variables"`
	TMT       map[string]any    `json:"tmt"`
}

type request struct {
	APIKey       string             `json:"api_key"`
	Test         map[string]fmfTest `json:"test"`
	Environments []environment      `json:"environments"`
}

// requestStatus uses pointers so absent fields can be told from empty ones.
type requestStatus struct {
	ID     *string `json:"id"`
	State  *string `json:"state"`
	Result *struct {
		Overall *string `json:"overall"`
	} `json:"result"`
	Run *struct {
		Artifacts string `json:"artifacts"`
	} `json:"run"`
}

// Backend submits one request and follows it to completion.
type Backend struct {
	*backend.Base

	client *resty.Client
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg and returns a ready Backend.
func New(cfg runconfig.Config, env backend.Env) (*Backend, error) {
	b := &Backend{Base: backend.NewBase(backend.KindTestingFarm, cfg, env)}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.client = resty.NewWithClient(b.Env().HTTPClient).
		SetBaseURL(strings.TrimSuffix(cfg.String(KeyURL), "/")).
		SetHeader("Accept", "application/json")
	return b, nil
}

// Validate checks the mandatory request fields.
func (b *Backend) Validate() error {
	if err := b.Require(KeyArch, KeyCompose, KeyRef, KeyPrivateToken, KeyURL); err != nil {
		return err
	}
	_, err := b.RequireURL(KeyURL)
	return err
}

// Run submits the request and polls it until its state is final.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	var id string
	err := b.Trigger(ctx, "submit request", func(ctx context.Context) error {
		resp, err := b.client.R().SetContext(ctx).SetBody(b.request()).Post("/requests")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
		}
		var st requestStatus
		if err := json.Unmarshal(resp.Body(), &st); err != nil {
			return fmt.Errorf("decode request response: %w", err)
		}
		if st.ID == nil || *st.ID == "" {
			return b.Fail(exitcode.MonitorFailure, "request response carries no id")
		}
		id = *st.ID
		return nil
	})
	if err != nil {
		return err
	}
	b.Config()[KeyRequestID] = id
	b.Logf("Request %s submitted", id)
	b.Propagate()

	outcome, err := b.Poll(ctx, func(ctx context.Context, iteration int) (backend.Outcome, error) {
		resp, err := b.client.R().SetContext(ctx).Get("/requests/" + id)
		if err != nil {
			return backend.OutcomePending, err
		}
		if resp.IsError() {
			return backend.OutcomePending, fmt.Errorf("HTTP %d", resp.StatusCode())
		}
		var st requestStatus
		if err := json.Unmarshal(resp.Body(), &st); err != nil {
			return backend.OutcomePending, fmt.Errorf("decode request %s: %w", id, err)
		}
		return b.check(st, id, iteration)
	})
	if err != nil {
		return err
	}

	b.Finish(outcome)
	return nil
}

func (b *Backend) check(st requestStatus, id string, iteration int) (backend.Outcome, error) {
	if st.State == nil {
		return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "request %s has no state", id)
	}
	state := *st.State
	if st.Run != nil && st.Run.Artifacts != "" {
		b.SetReport(st.Run.Artifacts)
	}
	b.Logf("Poll %d: request %s state %s", iteration, id, state)
	b.Propagate()

	if state != stateComplete {
		return StateVocabulary.Map(state), nil
	}
	if st.Result == nil || st.Result.Overall == nil {
		return backend.OutcomePending, b.Fail(exitcode.MonitorFailure, "complete request %s has no overall result", id)
	}
	b.Logf("Overall result: %s", *st.Result.Overall)
	return ResultVocabulary.Map(*st.Result.Overall), nil
}

// request composes the submission: the hosted plan, one environment, and the
// run variables including identity.
func (b *Backend) request() request {
	cfg := b.Config()
	tmtContext := make(map[string]any)
	for k, v := range cfg.Context() {
		tmtContext[k] = v
	}
	return request{
		APIKey: cfg.String(KeyPrivateToken),
		Test: map[string]fmfTest{"fmf": {
			URL:  cfg.StringOr(KeyFMFURL, DefaultFMFURL),
			Ref:  cfg.String(KeyRef),
			Name: cfg.StringOr(KeyFMFPlan, DefaultFMFPlan),
		}},
		Environments: []environment{{
			Arch:      cfg.String(KeyArch),
			OS:        map[string]string{"compose": cfg.String(KeyCompose)},
			Variables: cfg.Env(),
			TMT:       map[string]any{"context": tmtContext},
		}},
	}
}
