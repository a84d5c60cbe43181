package gitlabci

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// fakeGitLab serves the trigger, pipeline and job endpoints. Pipeline
// statuses are returned in order; the last one repeats.
type fakeGitLab struct {
	mu        sync.Mutex
	statuses  []string
	jobs      []map[string]any
	triggered map[string]any
	gets      int
}

func (f *fakeGitLab) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/projects/{pid}/trigger/pipeline", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&f.triggered); err != nil {
			t.Errorf("decode trigger body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "status": "created", "web_url": "https://gitlab.example.com/p/-/pipelines/42"}`))
	})
	mux.HandleFunc("GET /api/v4/projects/{pid}/pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.PathValue("id") != "42" {
			http.NotFound(w, r)
			return
		}
		status := f.statuses[min(f.gets, len(f.statuses)-1)]
		f.gets++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "status": status})
	})
	mux.HandleFunc("GET /api/v4/projects/{pid}/pipelines/{id}/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.jobs)
	})
	return mux
}

type harness struct {
	updates []backend.Update
	waits   int
}

func (h *harness) log() string {
	var b strings.Builder
	for _, u := range h.updates {
		b.WriteString(u.LogAppend)
	}
	return b.String()
}

func newHarness(t *testing.T, srv *httptest.Server) (*harness, backend.Env) {
	t.Helper()
	h := &harness{}
	mock := clock.NewMock()
	return h, backend.Env{
		Clock:      mock,
		HTTPClient: srv.Client(),
		Emit:       func(u backend.Update) { h.updates = append(h.updates, u) },
		Wait: func(_ context.Context, d time.Duration) error {
			h.waits++
			mock.Add(d)
			return nil
		},
	}
}

func testConfig(url string) runconfig.Config {
	return runconfig.Config{
		KeyURL:           url,
		KeyPrivateToken:  "glpat-secret",
		KeyProjectID:     "1234",
		KeyTriggerToken:  "trigger-secret",
		runconfig.KeyUID: "01jrun",
		runconfig.KeyEnv: map[string]any{"basil_test_run_uid": "01jrun", "TARGET": "x86"},
	}
}

func TestRunPipelinePasses(t *testing.T) {
	fake := &fakeGitLab{statuses: []string{"running", "running", "success"}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	h, env := newHarness(t, srv)
	b, err := New(testConfig(srv.URL), env)
	require.NoError(t, err)
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, model.StatusCompleted, b.Status())
	assert.Equal(t, model.ResultPass, b.Result())
	assert.Equal(t, 3, fake.gets)
	assert.Equal(t, 2, h.waits)

	log := h.log()
	for _, line := range []string{"Poll 1: pipeline 42 status running", "Poll 2: pipeline 42 status running", "Poll 3: pipeline 42 status success"} {
		assert.Contains(t, log, line)
	}
	assert.Equal(t, "https://gitlab.example.com/p/-/pipelines/42", b.Report())

	assert.Equal(t, "main", fake.triggered["ref"])
	assert.Equal(t, "trigger-secret", fake.triggered["token"])
	vars, _ := fake.triggered["variables"].(map[string]any)
	assert.Equal(t, "01jrun", vars["basil_test_run_uid"])
	assert.Equal(t, "x86", vars["TARGET"])
}

func TestRunPipelineFails(t *testing.T) {
	for _, status := range []string{"failed", "canceled", "skipped", "something-new"} {
		t.Run(status, func(t *testing.T) {
			fake := &fakeGitLab{statuses: []string{"pending", status}}
			srv := httptest.NewServer(fake.handler(t))
			t.Cleanup(srv.Close)

			_, env := newHarness(t, srv)
			b, err := New(testConfig(srv.URL), env)
			require.NoError(t, err)
			require.NoError(t, b.Run(context.Background()))
			assert.Equal(t, model.StatusCompleted, b.Status())
			assert.Equal(t, model.ResultFail, b.Result())
		})
	}
}

func TestRunJobFilter(t *testing.T) {
	fake := &fakeGitLab{
		statuses: []string{"failed"},
		jobs: []map[string]any{
			{"id": 1, "name": "build", "stage": "build", "status": "success"},
			{"id": 2, "name": "basil", "stage": "test", "status": "success"},
			{"id": 3, "name": "lint", "stage": "test", "status": "failed"},
		},
	}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg[KeyJob] = "basil"
	h, env := newHarness(t, srv)
	b, err := New(cfg, env)
	require.NoError(t, err)
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, model.ResultPass, b.Result(), "only the selected job counts")
	assert.Contains(t, h.log(), "test/basil=success")

	cfg = testConfig(srv.URL)
	cfg[KeyStage] = "test"
	_, env = newHarness(t, srv)
	b, err = New(cfg, env)
	require.NoError(t, err)
	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, model.ResultFail, b.Result(), "any failing job in the stage fails the run")
}

func TestRunNoMatchingJob(t *testing.T) {
	fake := &fakeGitLab{statuses: []string{"success"}, jobs: []map[string]any{{"id": 1, "name": "build", "stage": "build", "status": "success"}}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg[KeyJob] = "basil"
	_, env := newHarness(t, srv)
	b, err := New(cfg, env)
	require.NoError(t, err)

	err = b.Run(context.Background())
	assert.Equal(t, exitcode.MonitorFailure, exitcode.Of(err))
	assert.Equal(t, model.StatusError, b.Status())
}

func TestRunEmptyStatusIsFatal(t *testing.T) {
	fake := &fakeGitLab{statuses: []string{""}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	_, env := newHarness(t, srv)
	b, err := New(testConfig(srv.URL), env)
	require.NoError(t, err)
	assert.Equal(t, exitcode.MonitorFailure, exitcode.Of(b.Run(context.Background())))
	assert.Equal(t, model.ResultError, b.Result())
}

func TestRunTriggerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"404 Not found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	h, env := newHarness(t, srv)
	b, err := New(testConfig(srv.URL), env)
	require.NoError(t, err)

	err = b.Run(context.Background())
	assert.Equal(t, exitcode.ExecutionFailure, exitcode.Of(err))
	assert.Equal(t, model.StatusError, b.Status())
	assert.Contains(t, h.log(), "ERROR: trigger pipeline")
}

func TestRunRetriesPollErrors(t *testing.T) {
	fake := &fakeGitLab{statuses: []string{"success"}}
	var failed bool
	inner := fake.handler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && !failed {
			failed = true
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	h, env := newHarness(t, srv)
	b, err := New(testConfig(srv.URL), env)
	require.NoError(t, err)
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, model.ResultPass, b.Result())
	assert.Contains(t, h.log(), "Poll 1 failed")
}

func TestValidate(t *testing.T) {
	for _, key := range []string{KeyPrivateToken, KeyProjectID, KeyTriggerToken, KeyURL} {
		t.Run(key, func(t *testing.T) {
			cfg := testConfig("https://gitlab.example.com")
			delete(cfg, key)
			h := &harness{}
			_, err := New(cfg, backend.Env{Emit: func(u backend.Update) { h.updates = append(h.updates, u) }})
			assert.Equal(t, exitcode.Validation, exitcode.Of(err))
			require.NotEmpty(t, h.updates)
			assert.Equal(t, model.StatusError, h.updates[len(h.updates)-1].Status)
		})
	}

	_, err := New(testConfig("gitlab.example.com"), backend.Env{})
	assert.Equal(t, exitcode.Validation, exitcode.Of(err), "url without scheme")
}

func TestVocabularyTotal(t *testing.T) {
	tests := map[string]backend.Outcome{
		"success":   backend.OutcomePass,
		"failed":    backend.OutcomeFail,
		"canceled":  backend.OutcomeFail,
		"skipped":   backend.OutcomeFail,
		"warning":   backend.OutcomePending,
		"pending":   backend.OutcomePending,
		"running":   backend.OutcomePending,
		"manual":    backend.OutcomePending,
		"scheduled": backend.OutcomePending,
		"created":   backend.OutcomePending,
		"bogus":     backend.OutcomeFail,
	}
	for token, want := range tests {
		assert.Equal(t, want, Vocabulary.Map(token), token)
	}
}
