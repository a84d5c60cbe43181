package model

import "time"

// Run status constants.
const (
	StatusCreated   = "created"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Run result constants. An empty result means the run has not produced one.
const (
	ResultPass        = "pass"
	ResultFail        = "fail"
	ResultError       = "error"
	ResultNotExecuted = "not executed"
)

// Mapping tables a run may be attached to.
const (
	MappingAPI               = "api_test_case"
	MappingSwRequirement     = "sw_requirement_test_case"
	MappingTestSpecification = "test_specification_test_case"
)

// Notification categories.
const (
	NotifySuccess = "success"
	NotifyDanger  = "danger"
)

// validTransitions maps each status to the set of statuses it may move to.
// Status only advances; error is reachable from every non-terminal state.
var validTransitions = map[string]map[string]bool{
	StatusCreated: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusError:     true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusError:     true,
	},
	StatusCompleted: {
		StatusError: true,
	},
}

// ValidTransition reports whether a run may move from one status to another.
// Re-asserting the current status is always allowed.
func ValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// IsMappingTable reports whether table names a recognized mapping owner type.
func IsMappingTable(table string) bool {
	switch table {
	case MappingAPI, MappingSwRequirement, MappingTestSpecification:
		return true
	}
	return false
}

// Run is a single attempt to execute a mapped test case on a backend.
type Run struct {
	ID          int64     `json:"id"`
	UID         string    `json:"uid"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Log         string    `json:"log"`
	Report      string    `json:"report,omitempty"`
	MappingTo   string    `json:"mapping_to"`
	MappingID   int64     `json:"mapping_id"`
	APIID       int64     `json:"api_id"`
	CreatedByID int64     `json:"created_by_id"`
	ConfigID    int64     `json:"test_run_config_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunConfig is the stored configuration a run is executed with.
type RunConfig struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Plugin             string `json:"plugin"`
	PluginPreset       string `json:"plugin_preset,omitempty"`
	PluginVars         string `json:"plugin_vars,omitempty"`
	EnvironmentVars    string `json:"environment_vars,omitempty"`
	ContextVars        string `json:"context_vars,omitempty"`
	GitRepoRef         string `json:"git_repo_ref,omitempty"`
	ProvisionType      string `json:"provision_type,omitempty"`
	ProvisionGuest     string `json:"provision_guest,omitempty"`
	ProvisionGuestPort string `json:"provision_guest_port,omitempty"`
	SSHKey             string `json:"ssh_key,omitempty"`
	CreatedByID        int64  `json:"created_by_id"`
}

// TestCase is the test artifact a mapping points to.
type TestCase struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Repository   string `json:"repository"`
	RelativePath string `json:"relative_path"`
}

// Mapping associates a test case with the item it verifies.
type Mapping struct {
	Table    string   `json:"table"`
	ID       int64    `json:"id"`
	TestCase TestCase `json:"test_case"`
}

// API is the software component owning a mapping.
type API struct {
	ID             int64  `json:"id"`
	Name           string `json:"api"`
	Library        string `json:"library"`
	LibraryVersion string `json:"library_version"`
}

// User is the creator of a run.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Notification is raised once per completed or errored run.
type Notification struct {
	ID          int64     `json:"id"`
	APIID       int64     `json:"api_id"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}
