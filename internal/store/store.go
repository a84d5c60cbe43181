package store

import (
	"context"
	"errors"

	"github.com/elisa-tech/BASIL-sub001/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStats holds aggregate run counts.
type RunStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByResult map[string]int `json:"by_result"`
}

// Store is the persistence contract of the test-run engine. The engine reads
// runs, configurations and mappings, and is the only writer of run records
// once a run has been created.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)

	CreateRunConfig(ctx context.Context, c *model.RunConfig) error
	GetRunConfig(ctx context.Context, id int64) (*model.RunConfig, error)

	CreateTestCase(ctx context.Context, tc *model.TestCase) error
	CreateMapping(ctx context.Context, table string, testCaseID int64) (int64, error)
	GetMapping(ctx context.Context, table string, id int64) (*model.Mapping, error)

	CreateAPI(ctx context.Context, a *model.API) error
	GetAPI(ctx context.Context, id int64) (*model.API, error)

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, apiID int64) ([]*model.Notification, error)

	Close() error
}
