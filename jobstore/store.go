// Package jobstore persists job records. It is the single source of truth for
// job state visible outside the process.
package jobstore

import (
	"context"
	"errors"
	"fmt"

	"variagen/config"
	"variagen/models"
)

// ErrNotFound is returned by Get and Update for an unknown id.
var ErrNotFound = errors.New("job not found")

// ErrExists is returned by Create when the id is already taken.
var ErrExists = errors.New("job already exists")

// Store is the CRUD-like surface the pipeline consumes.
type Store interface {
	Create(ctx context.Context, job models.Job) error
	Update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error)
	Get(ctx context.Context, id string) (models.Job, error)
	// ListByStatus returns matching jobs ordered by CreatedAt, oldest first.
	ListByStatus(ctx context.Context, status models.Status) ([]models.Job, error)
	CheckHealth() error
	Close() error
}

// PersistenceError wraps a failed write with the operation that failed.
type PersistenceError struct {
	Op    string
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Open returns the backend selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.Store.PostgresURL)
	case "pebble", "":
		return OpenPebble(cfg.JobsDBPath())
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
