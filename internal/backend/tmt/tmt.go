// Package tmt runs the mapped test locally with the tmt tool, provisioning
// an ephemeral guest for it.
package tmt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// Config keys.
const (
	KeyProvisionType = "provision_type"
	KeyGuest         = "provision_guest"
	KeyGuestPort     = "provision_guest_port"
	KeySSHKey        = "ssh_key"
	KeyImage         = "image"
	KeyPlan          = "plan"
)

// Provision types.
const (
	ProvisionContainer = "container"
	ProvisionConnect   = "connect"
	ProvisionLocal     = "local"
	ProvisionVirtual   = "virtual"
)

const (
	// Binary is the tmt executable.
	Binary = "tmt"

	defaultPlan = "/tmt/plans/basil"
	defaultPort = "22"
	resultsFile = "results.yaml"
	reportPath  = "report/default-0/index.html"
)

var provisionTypes = map[string]bool{
	ProvisionContainer: true,
	ProvisionConnect:   true,
	ProvisionLocal:     true,
	ProvisionVirtual:   true,
}

// Vocabulary maps tmt test results.
var Vocabulary = backend.Vocabulary{
	"pass":  backend.OutcomePass,
	"info":  backend.OutcomePass,
	"fail":  backend.OutcomeFail,
	"warn":  backend.OutcomeFail,
	"error": backend.OutcomeError,
}

// Backend runs one tmt invocation in the plan directory.
type Backend struct {
	*backend.Base

	workDir string
	results string
}

var _ backend.Backend = (*Backend)(nil)

// New validates cfg and returns a ready Backend.
func New(cfg runconfig.Config, env backend.Env) (*Backend, error) {
	b := &Backend{Base: backend.NewBase(backend.KindTMT, cfg, env)}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.workDir = filepath.Join(b.Env().WorkDirRoot, cfg.String(runconfig.KeyUID))
	return b, nil
}

// Validate checks the provisioning settings and, for a repository on the
// local filesystem, confines it to the requesting user's files.
func (b *Backend) Validate() error {
	cfg := b.Config()
	how := cfg.StringOr(KeyProvisionType, ProvisionContainer)
	if !provisionTypes[how] {
		return b.Fail(exitcode.Validation, "unsupported %s %q", KeyProvisionType, how)
	}
	if how == ProvisionConnect {
		if err := b.Require(KeyGuest); err != nil {
			return err
		}
	}
	if !cfg.Has(runconfig.KeyUID) {
		return b.Fail(exitcode.Validation, "missing run uid")
	}

	repo := cfg.EnvValue(runconfig.VarTestRepoPath)
	rel := cfg.EnvValue(runconfig.VarTestRelativePath)
	if strings.TrimSpace(repo) == "" || strings.TrimSpace(rel) == "" {
		return b.Fail(exitcode.Validation, "test case repository and relative path are required")
	}
	if !IsLocalPath(repo) {
		return nil
	}
	userID, err := cfg.Int64(runconfig.KeyUserID)
	if err != nil {
		return b.Fail(exitcode.Validation, "invalid %s %q", runconfig.KeyUserID, cfg.String(runconfig.KeyUserID))
	}
	if err := b.Env().Sandbox.Check(repo, rel, userID); err != nil {
		return b.Fail(exitcode.Validation, "%v", err)
	}
	return nil
}

// IsLocalPath reports whether repo names a directory rather than a remote
// git URL.
func IsLocalPath(repo string) bool {
	if strings.Contains(repo, "://") {
		return false
	}
	// scp-like git@host:path
	if at, colon := strings.Index(repo, "@"), strings.Index(repo, ":"); at >= 0 && colon > at {
		return false
	}
	return true
}

// Args returns the tmt command line for cfg using workDir as the run id.
func Args(cfg runconfig.Config, workDir string) []string {
	var args []string
	for _, kv := range sortedPairs(cfg.Context()) {
		args = append(args, "-c", kv)
	}
	args = append(args, "run", "-vvv", "-a", "--id", workDir)
	for _, kv := range sortedPairs(cfg.Env()) {
		args = append(args, "-e", kv)
	}

	how := cfg.StringOr(KeyProvisionType, ProvisionContainer)
	args = append(args, "provision", "--how", how)
	if image := cfg.String(KeyImage); image != "" && (how == ProvisionContainer || how == ProvisionVirtual) {
		args = append(args, "--image", image)
	}
	if how == ProvisionConnect {
		args = append(args, "--guest", cfg.String(KeyGuest), "--port", cfg.StringOr(KeyGuestPort, defaultPort))
		if key := cfg.String(KeySSHKey); key != "" {
			args = append(args, "--key", key)
		}
	}

	args = append(args,
		"plan", "--name", cfg.StringOr(KeyPlan, defaultPlan),
		"test", "--name", cfg.EnvValue(runconfig.VarTestRelativePath),
	)
	return args
}

func sortedPairs(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Run executes tmt and maps its results. Exit codes other than 0 and 1 mean
// tmt did not get to run the test.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	env := b.Env()
	args := Args(b.Config(), b.workDir)
	b.Logf("$ %s %s", Binary, strings.Join(args, " "))
	b.Propagate()

	out, code, err := env.Exec(ctx, env.PlanDir, nil, Binary, args...)
	b.LogRaw(string(out))
	if ctx.Err() != nil {
		b.Propagate()
		return ctx.Err()
	}
	if err != nil {
		return b.Fail(exitcode.ExecutionFailure, "run %s: %v", Binary, err)
	}
	b.Logf("%s exited with code %d", Binary, code)
	b.Propagate()

	if code != 0 && code != 1 {
		b.NotExecuted(fmt.Sprintf("%s exited with code %d", Binary, code))
		return nil
	}

	path, err := FindResults(b.workDir)
	if err != nil {
		return b.Fail(exitcode.MonitorFailure, "%v", err)
	}
	b.results = path
	outcome, err := b.readResults(path)
	if err != nil {
		return b.Fail(exitcode.MonitorFailure, "%v", err)
	}

	report := filepath.Join(filepath.Dir(filepath.Dir(path)), reportPath)
	if _, err := os.Stat(report); err == nil {
		b.SetReport(report)
	}
	b.Finish(outcome)
	return nil
}

type testResult struct {
	Name   string `yaml:"name"`
	Result string `yaml:"result"`
}

func (b *Backend) readResults(path string) (backend.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return backend.OutcomePending, fmt.Errorf("read results: %w", err)
	}
	var results []testResult
	if err := yaml.Unmarshal(data, &results); err != nil {
		return backend.OutcomePending, fmt.Errorf("parse %s: %w", path, err)
	}

	outcomes := make([]backend.Outcome, 0, len(results))
	for _, r := range results {
		if r.Result == "" {
			return backend.OutcomePending, fmt.Errorf("result of test %q is missing in %s", r.Name, path)
		}
		b.Logf("%s: %s", r.Name, r.Result)
		outcomes = append(outcomes, Vocabulary.Map(r.Result))
	}
	return backend.Combine(outcomes...), nil
}

// FindResults returns the first execute/results.yaml below workDir.
func FindResults(workDir string) (string, error) {
	var found string
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == resultsFile && filepath.Base(filepath.Dir(path)) == "execute" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("search results in %s: %w", workDir, err)
	}
	if found == "" {
		return "", fmt.Errorf("no execute/%s under %s", resultsFile, workDir)
	}
	return found, nil
}

// CollectArtifacts uploads the report and the results document when an
// artifact store is configured.
func (b *Backend) CollectArtifacts(ctx context.Context) error {
	sink := b.Env().Artifacts
	if sink == nil || b.results == "" {
		return nil
	}

	uid := b.Config().String(runconfig.KeyUID)
	var errs []error
	if _, err := sink.Upload(ctx, uid+"/"+resultsFile, b.results); err != nil {
		errs = append(errs, err)
	}
	if report := b.Report(); report != "" && !strings.Contains(report, "://") {
		url, err := sink.Upload(ctx, uid+"/index.html", report)
		if err != nil {
			errs = append(errs, err)
		} else {
			b.SetReport(url)
			b.Logf("Report uploaded to %s", url)
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.Logf("Artifact upload failed: %v", err)
		b.Propagate()
		return fmt.Errorf("upload artifacts: %w", err)
	}
	b.Propagate()
	return nil
}

// Cleanup removes the guests tmt provisioned for this run.
func (b *Backend) Cleanup(ctx context.Context) error {
	env := b.Env()
	if _, err := os.Stat(b.workDir); err != nil {
		return nil
	}
	out, code, err := env.Exec(ctx, env.PlanDir, nil, Binary, "clean", "guests", "--id", b.workDir)
	if err != nil {
		return fmt.Errorf("%s clean: %w", Binary, err)
	}
	if code != 0 {
		return fmt.Errorf("%s clean exited with code %d: %s", Binary, code, strings.TrimSpace(string(out)))
	}
	return nil
}
