package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"variagen/models"
)

const (
	keyPrefix = "job/"
	// keyLimit is the first key after every "job/" key ('0' follows '/').
	keyLimit = "job0"
)

// PebbleStore keeps one JSON record per job under "job/<id>".
type PebbleStore struct {
	db *pebble.DB
	// mu serializes read-modify-write in Update.
	mu  sync.Mutex
	now func() time.Time
}

// OpenPebble opens (or creates) the job database at dbPath.
func OpenPebble(dbPath string) (*PebbleStore, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

// Close closes the job store
func (s *PebbleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func jobKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Create stores a new job record.
func (s *PebbleStore) Create(_ context.Context, job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(job.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, job.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return s.put(job)
}

// Get retrieves a job record by id
func (s *PebbleStore) Get(_ context.Context, id string) (models.Job, error) {
	return s.get(id)
}

func (s *PebbleStore) get(id string) (models.Job, error) {
	data, closer, err := s.db.Get(jobKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	defer closer.Close()

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return job, nil
}

func (s *PebbleStore) put(job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return s.db.Set(jobKey(job.ID), data, pebble.Sync)
}

// Update applies a partial update and returns the stored result.
func (s *PebbleStore) Update(_ context.Context, id string, patch models.JobPatch) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if err := job.Apply(patch, s.now()); err != nil {
		return models.Job{}, err
	}
	if err := s.put(job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// ListByStatus scans every record; the job table is small enough that a
// secondary index is not worth keeping in sync.
func (s *PebbleStore) ListByStatus(_ context.Context, status models.Status) ([]models.Job, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var jobs []models.Job
	for iter.First(); iter.Valid(); iter.Next() {
		var job models.Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			continue // Skip invalid records
		}
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// CheckHealth performs a basic health check on the job database
func (s *PebbleStore) CheckHealth() error {
	if s.db == nil {
		return fmt.Errorf("job database not initialized")
	}
	_, closer, err := s.db.Get([]byte("__health_check__"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
