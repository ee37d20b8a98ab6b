package store

import (
	"context"

	"github.com/me/kthreads/pkg/model"
)

// Store defines the persistence layer for scenario runs and their traces.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *model.Run) error
	SaveRun(ctx context.Context, run *model.Run, events []model.Event) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	DeleteRun(ctx context.Context, id string) error

	// Trace events
	AddEvents(ctx context.Context, runID string, events []model.Event) error
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.Event, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
