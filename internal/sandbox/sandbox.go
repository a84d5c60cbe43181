// Package sandbox confines locally executed test runs to the requesting
// user's working tree or the shared examples tree.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath is returned when the repository or test path is empty.
	ErrEmptyPath = errors.New("empty path")

	// ErrOutsideSandbox is returned when a path resolves outside every
	// allowed tree.
	ErrOutsideSandbox = errors.New("path outside of the allowed directories")
)

// Validator checks repository paths against the per-user files root and the
// shared examples root.
type Validator struct {
	UserFilesDir string
	ExamplesDir  string
}

// Check accepts repository (and the test path inside it) only when the
// resolved repository lies in <UserFilesDir>/<userID> or in ExamplesDir, and
// the test path does not escape the repository.
func (v Validator) Check(repository, relativePath string, userID int64) error {
	if strings.TrimSpace(repository) == "" {
		return fmt.Errorf("repository: %w", ErrEmptyPath)
	}
	if strings.TrimSpace(relativePath) == "" {
		return fmt.Errorf("relative path: %w", ErrEmptyPath)
	}

	repo, err := resolve(repository)
	if err != nil {
		return fmt.Errorf("resolve repository: %w", err)
	}

	var roots []string
	if v.UserFilesDir != "" {
		roots = append(roots, filepath.Join(v.UserFilesDir, strconv.FormatInt(userID, 10)))
	}
	if v.ExamplesDir != "" {
		roots = append(roots, v.ExamplesDir)
	}

	for _, root := range roots {
		r, err := resolve(root)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", root, err)
		}
		if !within(r, repo) {
			continue
		}
		test, err := resolve(filepath.Join(repo, relativePath))
		if err != nil {
			return fmt.Errorf("resolve test path: %w", err)
		}
		if !within(repo, test) {
			return fmt.Errorf("test path %q: %w", relativePath, ErrOutsideSandbox)
		}
		return nil
	}
	return fmt.Errorf("repository %q: %w", repository, ErrOutsideSandbox)
}

// within reports whether p is root or a descendant of it. Both must be clean
// absolute paths.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolve returns the absolute, cleaned form of p with symlinks evaluated on
// the longest prefix that exists.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	existing := abs
	var rest []string
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			parts := append([]string{real}, rest...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}
