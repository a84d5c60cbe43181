// Package e2e builds basil-testrun and drives it as a subprocess against a
// seeded database and fake CI services.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/store"
)

const (
	runTimeout   = 30 * time.Second
	pollInterval = 50 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "basil-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "basil-testrun")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/basil-testrun")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// fixture is a seeded database with one run in status created.
type fixture struct {
	dbPath string
	runID  int64
	apiID  int64
}

func seed(t *testing.T, plugin, pluginVars string) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "basil.db")
	s, err := store.NewSQLStore(store.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	api := &model.API{Name: "sched_setattr", Library: "glibc", LibraryVersion: "2.39"}
	user := &model.User{Email: "dev@example.com"}
	tc := &model.TestCase{Title: "setattr basics", Repository: "https://git.example.com/tests.git", RelativePath: "sched/setattr"}
	for _, err := range []error{s.CreateAPI(ctx, api), s.CreateUser(ctx, user), s.CreateTestCase(ctx, tc)} {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mappingID, err := s.CreateMapping(ctx, model.MappingAPI, tc.ID)
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	rc := &model.RunConfig{Title: "e2e", Plugin: plugin, PluginVars: pluginVars, CreatedByID: user.ID}
	if err := s.CreateRunConfig(ctx, rc); err != nil {
		t.Fatalf("CreateRunConfig: %v", err)
	}
	run := &model.Run{
		UID:         model.NewID(),
		Title:       "e2e run",
		Status:      model.StatusCreated,
		MappingTo:   model.MappingAPI,
		MappingID:   mappingID,
		APIID:       api.ID,
		CreatedByID: user.ID,
		ConfigID:    rc.ID,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return &fixture{dbPath: dbPath, runID: run.ID, apiID: api.ID}
}

func (f *fixture) load(t *testing.T) *model.Run {
	t.Helper()
	s, err := store.NewSQLStore(store.DriverSQLite, f.dbPath)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	defer s.Close()
	run, err := s.GetRun(context.Background(), f.runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run
}

func (f *fixture) command(t *testing.T, extraEnv ...string) (*exec.Cmd, *lockedBuffer) {
	t.Helper()
	stderr := &lockedBuffer{}
	cmd := exec.Command(getBinary(t), strconv.FormatInt(f.runID, 10))
	cmd.Env = append(os.Environ(),
		"BASIL_DB_DSN="+f.dbPath,
		"BASIL_POLL_INTERVAL=10ms",
		"BASIL_LOG_LEVEL=info",
		"BASIL_PRESETS_PATH="+filepath.Join(t.TempDir(), "presets.yaml"),
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stderr = stderr
	return cmd, stderr
}

// execute runs the binary to completion and returns its exit code.
func (f *fixture) execute(t *testing.T, extraEnv ...string) (int, string) {
	t.Helper()
	cmd, stderr := f.command(t, extraEnv...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return exitStatus(t, err), stderr.String()
	case <-time.After(runTimeout):
		cmd.Process.Kill()
		t.Fatalf("basil-testrun did not exit within %v\nstderr:\n%s", runTimeout, stderr.String())
	}
	return -1, ""
}

func exitStatus(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("wait: %v", err)
	}
	return exitErr.ExitCode()
}

// fakeGitLab triggers pipeline 42 and answers polls with status until the
// test changes it.
type fakeGitLab struct {
	mu     sync.Mutex
	status string
	polls  int
	srv    *httptest.Server
}

func newFakeGitLab(t *testing.T, status string) *fakeGitLab {
	t.Helper()
	f := &fakeGitLab{status: status}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/projects/{pid}/trigger/pipeline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "status": "created"}`))
	})
	mux.HandleFunc("GET /api/v4/projects/{pid}/pipelines/42", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "status": f.status})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitLab) vars() string {
	return "url=" + f.srv.URL + ";private_token=glpat;project_id=7;trigger_token=trig"
}

func (f *fakeGitLab) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func TestGitLabRunPasses(t *testing.T) {
	gl := newFakeGitLab(t, "success")
	f := seed(t, "gitlab_ci", gl.vars())

	code, stderr := f.execute(t)
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want 0\nstderr:\n%s", code, stderr)
	}

	run := f.load(t)
	if run.Status != model.StatusCompleted || run.Result != model.ResultPass {
		t.Errorf("record = %s/%s, want completed/pass", run.Status, run.Result)
	}
	if !strings.Contains(run.Log, "Pipeline 42 triggered") || !strings.Contains(run.Log, "Result: pass") {
		t.Errorf("unexpected log:\n%s", run.Log)
	}

	// A second invocation refuses to run again and leaves the record alone.
	code, _ = f.execute(t)
	if code != exitcode.AlreadyTriggered {
		t.Errorf("second exit code = %d, want %d", code, exitcode.AlreadyTriggered)
	}
	if again := f.load(t); again.Log != run.Log || again.Status != run.Status {
		t.Error("record changed by the refused invocation")
	}
}

func TestFailingTestExitsZero(t *testing.T) {
	gl := newFakeGitLab(t, "failed")
	f := seed(t, "gitlab_ci", gl.vars())

	code, stderr := f.execute(t)
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want 0\nstderr:\n%s", code, stderr)
	}
	if run := f.load(t); run.Status != model.StatusCompleted || run.Result != model.ResultFail {
		t.Errorf("record = %s/%s, want completed/fail", run.Status, run.Result)
	}
}

func TestFatalExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		plugin     string
		pluginVars string
		want       int
	}{
		{"unsupported backend", "kernel_ci", "", exitcode.UnsupportedBackend},
		{"missing mandatory field", "gitlab_ci", "url=https://gitlab.example.com;private_token=x", exitcode.Validation},
		{"trigger refused", "gitlab_ci", "url=http://127.0.0.1:1;private_token=x;project_id=7;trigger_token=t", exitcode.ExecutionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := seed(t, tt.plugin, tt.pluginVars)
			code, stderr := f.execute(t)
			if code != tt.want {
				t.Fatalf("exit code = %d, want %d\nstderr:\n%s", code, tt.want, stderr)
			}
			run := f.load(t)
			if run.Status != model.StatusError || run.Result != model.ResultError {
				t.Errorf("record = %s/%s, want error/error", run.Status, run.Result)
			}
			if !strings.Contains(run.Log, "=====\n") || !strings.Contains(run.Log, "ERROR:") {
				t.Errorf("log has no error banner:\n%s", run.Log)
			}
		})
	}
}

func TestRunNotFound(t *testing.T) {
	f := seed(t, "gitlab_ci", "")
	f.runID = 999

	code, _ := f.execute(t)
	if code != exitcode.RunNotFound {
		t.Errorf("exit code = %d, want %d", code, exitcode.RunNotFound)
	}

	cmd, _ := f.command(t)
	cmd.Args = []string{cmd.Path, "not-a-number"}
	if code := exitStatus(t, cmd.Run()); code != exitcode.RunNotFound {
		t.Errorf("exit code for invalid id = %d, want %d", code, exitcode.RunNotFound)
	}
}

func TestStructuredJSONLogs(t *testing.T) {
	gl := newFakeGitLab(t, "success")
	f := seed(t, "gitlab_ci", gl.vars())

	_, stderr := f.execute(t)

	found := false
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "test run finished" {
			found = true
			if entry["result"] != model.ResultPass {
				t.Errorf("finished log result = %v", entry["result"])
			}
		}
	}
	if !found {
		t.Errorf("no structured completion log\nstderr:\n%s", stderr)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func TestMonitorAndInterrupt(t *testing.T) {
	gl := newFakeGitLab(t, "running")
	f := seed(t, "gitlab_ci", gl.vars())
	addr := freeAddr(t)

	cmd, stderr := f.command(t, "BASIL_MONITOR_ADDR="+addr)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { cmd.Process.Kill() })

	// Wait until the run is being polled and the monitor reports it.
	var run model.Run
	deadline := time.Now().Add(runTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/v1/runs/" + strconv.FormatInt(f.runID, 10))
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&run)
			resp.Body.Close()
			if run.Status == model.StatusRunning && gl.pollCount() >= 2 {
				break
			}
		}
		time.Sleep(pollInterval)
	}
	if run.Status != model.StatusRunning {
		t.Fatalf("monitor never reported a running run\nstderr:\n%s", stderr.String())
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if code := exitStatus(t, cmd.Wait()); code != exitcode.Unexpected {
		t.Errorf("exit code = %d, want %d\nstderr:\n%s", code, exitcode.Unexpected, stderr.String())
	}
	if got := f.load(t); got.Status != model.StatusRunning {
		t.Errorf("status = %s, want running after interrupt", got.Status)
	}
	if !strings.Contains(stderr.String(), "interrupted") {
		t.Errorf("stderr has no interrupt message:\n%s", stderr.String())
	}
}
