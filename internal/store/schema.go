package store

import "fmt"

// Driver names accepted by NewSQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type dialect struct {
	idColumn   string
	timeColumn string
}

var dialects = map[string]dialect{
	DriverSQLite:   {idColumn: "INTEGER PRIMARY KEY", timeColumn: "DATETIME"},
	DriverPostgres: {idColumn: "BIGSERIAL PRIMARY KEY", timeColumn: "TIMESTAMPTZ"},
}

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS apis (
    id              %s,
    api             TEXT NOT NULL,
    library         TEXT NOT NULL DEFAULT '',
    library_version TEXT NOT NULL DEFAULT ''
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
    id    %s,
    email TEXT NOT NULL DEFAULT ''
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS test_cases (
    id            %s,
    title         TEXT NOT NULL DEFAULT '',
    repository    TEXT NOT NULL DEFAULT '',
    relative_path TEXT NOT NULL DEFAULT ''
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS test_case_mappings (
    id            %s,
    mapping_table TEXT NOT NULL,
    test_case_id  BIGINT NOT NULL
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS test_run_configs (
    id                   %s,
    title                TEXT NOT NULL DEFAULT '',
    plugin               TEXT NOT NULL DEFAULT '',
    plugin_preset        TEXT NOT NULL DEFAULT '',
    plugin_vars          TEXT NOT NULL DEFAULT '',
    environment_vars     TEXT NOT NULL DEFAULT '',
    context_vars         TEXT NOT NULL DEFAULT '',
    git_repo_ref         TEXT NOT NULL DEFAULT '',
    provision_type       TEXT NOT NULL DEFAULT '',
    provision_guest      TEXT NOT NULL DEFAULT '',
    provision_guest_port TEXT NOT NULL DEFAULT '',
    ssh_key              TEXT NOT NULL DEFAULT '',
    created_by_id        BIGINT NOT NULL DEFAULT 0
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS test_runs (
    id                 %s,
    uid                TEXT NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL,
    result             TEXT NOT NULL DEFAULT '',
    log                TEXT NOT NULL DEFAULT '',
    report             TEXT NOT NULL DEFAULT '',
    mapping_to         TEXT NOT NULL DEFAULT '',
    mapping_id         BIGINT NOT NULL DEFAULT 0,
    api_id             BIGINT NOT NULL DEFAULT 0,
    created_by_id      BIGINT NOT NULL DEFAULT 0,
    test_run_config_id BIGINT NOT NULL DEFAULT 0,
    created_at         %s NOT NULL
)`, d.idColumn, d.timeColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS notifications (
    id          %s,
    api_id      BIGINT NOT NULL DEFAULT 0,
    category    TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    created_at  %s NOT NULL
)`, d.idColumn, d.timeColumn),
	}
}
