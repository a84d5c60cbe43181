package runconfig

import (
	"strconv"

	"github.com/elisa-tech/BASIL-sub001/internal/model"
)

// Identity variables exported to every backend through the env map.
const (
	VarTestCaseID       = "basil_test_case_id"
	VarTestCaseTitle    = "basil_test_case_title"
	VarAPI              = "basil_api_api"
	VarAPILibrary       = "basil_api_library"
	VarAPILibraryVer    = "basil_api_library_version"
	VarMappingTable     = "basil_test_case_mapping_table"
	VarMappingID        = "basil_test_case_mapping_id"
	VarTestRelativePath = "basil_test_relative_path"
	VarTestRepoPath     = "basil_test_repo_path"
	VarRunID            = "basil_test_run_id"
	VarRunUID           = "basil_test_run_uid"
	VarRunTitle         = "basil_test_run_title"
	VarConfigID         = "basil_test_run_config_id"
	VarConfigTitle      = "basil_test_run_config_title"
	VarUserEmail        = "basil_user_email"
)

// Identity is what the engine knows about a run when resolving its config.
type Identity struct {
	Run     model.Run
	Config  model.RunConfig
	Mapping model.Mapping
	API     model.API
	User    model.User
}

// Vars returns the basil_* identity variables.
func (id Identity) Vars() map[string]string {
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }
	return map[string]string{
		VarTestCaseID:       itoa(id.Mapping.TestCase.ID),
		VarTestCaseTitle:    id.Mapping.TestCase.Title,
		VarAPI:              id.API.Name,
		VarAPILibrary:       id.API.Library,
		VarAPILibraryVer:    id.API.LibraryVersion,
		VarMappingTable:     id.Mapping.Table,
		VarMappingID:        itoa(id.Mapping.ID),
		VarTestRelativePath: id.Mapping.TestCase.RelativePath,
		VarTestRepoPath:     id.Mapping.TestCase.Repository,
		VarRunID:            itoa(id.Run.ID),
		VarRunUID:           id.Run.UID,
		VarRunTitle:         id.Run.Title,
		VarConfigID:         itoa(id.Config.ID),
		VarConfigTitle:      id.Config.Title,
		VarUserEmail:        id.User.Email,
	}
}
