package backend

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by ParseKind for an unknown plugin selector.
var ErrUnsupported = errors.New("unsupported backend")

// Kind selects one of the supported backends.
type Kind int

// Supported backends.
const (
	KindTMT Kind = iota + 1
	KindGitHubActions
	KindGitLabCI
	KindLAVA
	KindTestingFarm
)

var kindNames = map[Kind]string{
	KindTMT:           "tmt",
	KindGitHubActions: "github_actions",
	KindGitLabCI:      "gitlab_ci",
	KindLAVA:          "LAVA",
	KindTestingFarm:   "testing_farm",
}

// String returns the plugin selector of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a plugin selector to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnsupported, s)
}

// Kinds returns every supported backend in declaration order.
func Kinds() []Kind {
	return []Kind{KindTMT, KindGitHubActions, KindGitLabCI, KindLAVA, KindTestingFarm}
}
