package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newValidator(t *testing.T) (Validator, string, string) {
	t.Helper()
	base := t.TempDir()
	users := filepath.Join(base, "user-files")
	examples := filepath.Join(base, "examples")
	for _, dir := range []string{
		filepath.Join(users, "1", "repo"),
		filepath.Join(users, "2", "repo"),
		filepath.Join(examples, "demo"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	return Validator{UserFilesDir: users, ExamplesDir: examples}, users, examples
}

func TestCheck(t *testing.T) {
	v, users, examples := newValidator(t)

	tests := []struct {
		name    string
		repo    string
		rel     string
		userID  int64
		wantErr error
	}{
		{"own tree", filepath.Join(users, "1", "repo"), "tests/boot.fmf", 1, nil},
		{"own tree, not yet existing", filepath.Join(users, "1", "new", "deep"), "x", 1, nil},
		{"own root", filepath.Join(users, "1"), "x", 1, nil},
		{"other user", filepath.Join(users, "2", "repo"), "x", 1, ErrOutsideSandbox},
		{"traversal to other user", filepath.Join(users, "1") + "/../2/repo", "x", 1, ErrOutsideSandbox},
		{"prefix sibling", filepath.Join(users, "1") + "0", "x", 1, ErrOutsideSandbox},
		{"examples any user", filepath.Join(examples, "demo"), "t", 2, nil},
		{"examples root user 7", examples, "t", 7, nil},
		{"outside everything", "/etc", "passwd", 1, ErrOutsideSandbox},
		{"test path escapes repo", filepath.Join(users, "1", "repo"), "../../2/repo/x", 1, ErrOutsideSandbox},
		{"empty repository", "", "x", 1, ErrEmptyPath},
		{"empty relative path", filepath.Join(users, "1", "repo"), "", 1, ErrEmptyPath},
		{"blank relative path", filepath.Join(users, "1", "repo"), "  ", 1, ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.repo, tt.rel, tt.userID)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Check() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckSymlinkOutside(t *testing.T) {
	v, users, _ := newValidator(t)

	link := filepath.Join(users, "1", "escape")
	if err := os.Symlink(filepath.Join(users, "2", "repo"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := v.Check(link, "x", 1); !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("Check(symlink) = %v, want ErrOutsideSandbox", err)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, p string
		want    bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/a/b/..c", true},
	}
	for _, tt := range tests {
		if got := within(tt.root, tt.p); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.root, tt.p, got, tt.want)
		}
	}
}
