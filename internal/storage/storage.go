package storage

import (
	"context"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// Storage defines the persistence interface for run history. It satisfies
// scheduler.Recorder.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunSummary) error
	SaveCycle(ctx context.Context, runID string, cycle types.CycleResult) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error

	// History queries
	GetRun(ctx context.Context, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}
