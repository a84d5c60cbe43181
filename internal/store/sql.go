package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elisa-tech/BASIL-sub001/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Compile-time interface satisfaction check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open picks the driver from dsn: postgres URLs use pgx, anything else is
// treated as an SQLite path.
func Open(dsn string) (*SQLStore, error) {
	if IsPostgresDSN(dsn) {
		return NewSQLStore(DriverPostgres, dsn)
	}
	return NewSQLStore(DriverSQLite, dsn)
}

// IsPostgresDSN reports whether dsn is a PostgreSQL connection URL.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// NewSQLStore opens the database and creates missing tables.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	for _, stmt := range d.schema() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const runColumns = `id, uid, title, status, result, log, report, mapping_to, mapping_id,
	api_id, created_by_id, test_run_config_id, created_at`

// CreateRun inserts a run record and assigns its ID.
func (s *SQLStore) CreateRun(ctx context.Context, r *model.Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	id, err := s.insert(ctx,
		`INSERT INTO test_runs (uid, title, status, result, log, report, mapping_to, mapping_id,
			api_id, created_by_id, test_run_config_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UID, r.Title, r.Status, r.Result, r.Log, r.Report, r.MappingTo, r.MappingID,
		r.APIID, r.CreatedByID, r.ConfigID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	r.ID = id
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLStore) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	r := &model.Run{}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+runColumns+` FROM test_runs WHERE id = ?`), id,
	).Scan(
		&r.ID, &r.UID, &r.Title, &r.Status, &r.Result, &r.Log, &r.Report, &r.MappingTo, &r.MappingID,
		&r.APIID, &r.CreatedByID, &r.ConfigID, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun writes the mutable fields of a run record.
func (s *SQLStore) UpdateRun(ctx context.Context, r *model.Run) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE test_runs SET status = ?, result = ?, log = ?, report = ? WHERE id = ?`),
		r.Status, r.Result, r.Log, r.Report, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRunStats returns run counts grouped by status and by result.
func (s *SQLStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		ByStatus: make(map[string]int),
		ByResult: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM test_runs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if err := s.groupCount(ctx, "status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "result", stats.ByResult); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLStore) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM test_runs WHERE %s != '' GROUP BY %s", column, column, column))
	if err != nil {
		return fmt.Errorf("count runs by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// CreateRunConfig inserts a run configuration and assigns its ID.
func (s *SQLStore) CreateRunConfig(ctx context.Context, c *model.RunConfig) error {
	id, err := s.insert(ctx,
		`INSERT INTO test_run_configs (title, plugin, plugin_preset, plugin_vars, environment_vars,
			context_vars, git_repo_ref, provision_type, provision_guest, provision_guest_port,
			ssh_key, created_by_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Title, c.Plugin, c.PluginPreset, c.PluginVars, c.EnvironmentVars,
		c.ContextVars, c.GitRepoRef, c.ProvisionType, c.ProvisionGuest, c.ProvisionGuestPort,
		c.SSHKey, c.CreatedByID,
	)
	if err != nil {
		return fmt.Errorf("insert run config: %w", err)
	}
	c.ID = id
	return nil
}

// GetRunConfig retrieves a run configuration by ID.
func (s *SQLStore) GetRunConfig(ctx context.Context, id int64) (*model.RunConfig, error) {
	c := &model.RunConfig{}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, title, plugin, plugin_preset, plugin_vars, environment_vars,
			context_vars, git_repo_ref, provision_type, provision_guest, provision_guest_port,
			ssh_key, created_by_id
		FROM test_run_configs WHERE id = ?`), id,
	).Scan(
		&c.ID, &c.Title, &c.Plugin, &c.PluginPreset, &c.PluginVars, &c.EnvironmentVars,
		&c.ContextVars, &c.GitRepoRef, &c.ProvisionType, &c.ProvisionGuest, &c.ProvisionGuestPort,
		&c.SSHKey, &c.CreatedByID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run config: %w", err)
	}
	return c, nil
}

// CreateTestCase inserts a test case and assigns its ID.
func (s *SQLStore) CreateTestCase(ctx context.Context, tc *model.TestCase) error {
	id, err := s.insert(ctx,
		`INSERT INTO test_cases (title, repository, relative_path) VALUES (?, ?, ?)`,
		tc.Title, tc.Repository, tc.RelativePath,
	)
	if err != nil {
		return fmt.Errorf("insert test case: %w", err)
	}
	tc.ID = id
	return nil
}

// CreateMapping links a test case into the given mapping table and returns
// the mapping ID.
func (s *SQLStore) CreateMapping(ctx context.Context, table string, testCaseID int64) (int64, error) {
	id, err := s.insert(ctx,
		`INSERT INTO test_case_mappings (mapping_table, test_case_id) VALUES (?, ?)`,
		table, testCaseID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert mapping: %w", err)
	}
	return id, nil
}

// GetMapping retrieves a mapping of the given table with its test case.
func (s *SQLStore) GetMapping(ctx context.Context, table string, id int64) (*model.Mapping, error) {
	m := &model.Mapping{}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT m.mapping_table, m.id, t.id, t.title, t.repository, t.relative_path
		FROM test_case_mappings m JOIN test_cases t ON t.id = m.test_case_id
		WHERE m.mapping_table = ? AND m.id = ?`), table, id,
	).Scan(
		&m.Table, &m.ID, &m.TestCase.ID, &m.TestCase.Title, &m.TestCase.Repository, &m.TestCase.RelativePath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

// CreateAPI inserts a software component and assigns its ID.
func (s *SQLStore) CreateAPI(ctx context.Context, a *model.API) error {
	id, err := s.insert(ctx,
		`INSERT INTO apis (api, library, library_version) VALUES (?, ?, ?)`,
		a.Name, a.Library, a.LibraryVersion,
	)
	if err != nil {
		return fmt.Errorf("insert api: %w", err)
	}
	a.ID = id
	return nil
}

// GetAPI retrieves a software component by ID.
func (s *SQLStore) GetAPI(ctx context.Context, id int64) (*model.API, error) {
	a := &model.API{}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, api, library, library_version FROM apis WHERE id = ?`), id,
	).Scan(&a.ID, &a.Name, &a.Library, &a.LibraryVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api: %w", err)
	}
	return a, nil
}

// CreateUser inserts a user and assigns its ID.
func (s *SQLStore) CreateUser(ctx context.Context, u *model.User) error {
	id, err := s.insert(ctx, `INSERT INTO users (email) VALUES (?)`, u.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, email FROM users WHERE id = ?`), id,
	).Scan(&u.ID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateNotification inserts a notification and assigns its ID.
func (s *SQLStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	id, err := s.insert(ctx,
		`INSERT INTO notifications (api_id, category, title, description, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.APIID, n.Category, n.Title, n.Description, n.URL, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.ID = id
	return nil
}

// ListNotifications returns the notifications of a component, oldest first.
func (s *SQLStore) ListNotifications(ctx context.Context, apiID int64) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, api_id, category, title, description, url, created_at
		FROM notifications WHERE api_id = ? ORDER BY id`), apiID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(&n.ID, &n.APIID, &n.Category, &n.Title, &n.Description, &n.URL, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
