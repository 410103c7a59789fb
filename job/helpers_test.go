package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"variagen/jobstore"
	"variagen/models"
	"variagen/sampler"
	"variagen/transcoder"
)

// fakeEngine writes a small file per variation. It can fail a given
// variation and hold every call until gate is closed.
type fakeEngine struct {
	mu      sync.Mutex
	failOn  int
	failJob string // empty means every job
	gate    chan struct{}
	calls   map[string][]int
}

func (f *fakeEngine) Transcode(ctx context.Context, req transcoder.Request) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string][]int{}
	}
	f.calls[req.JobID] = append(f.calls[req.JobID], req.Variation)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if req.Variation == f.failOn && (f.failJob == "" || f.failJob == req.JobID) {
		return &transcoder.EngineError{Variation: req.Variation, Command: "fake", ExitCode: 1, Stderr: "boom"}
	}
	return os.WriteFile(req.OutputPath, []byte(fmt.Sprintf("variation %d", req.Variation)), 0644)
}

func (f *fakeEngine) callCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[jobID])
}

// recordingStore captures every progress value it persisted and can fail a
// number of terminal writes.
type recordingStore struct {
	jobstore.Store

	mu           sync.Mutex
	progress     map[string][]int
	failTerminal int
	failProgress bool
}

func (r *recordingStore) Update(ctx context.Context, id string, p models.JobPatch) (models.Job, error) {
	r.mu.Lock()
	if p.Status != nil && p.Status.IsTerminal() && r.failTerminal > 0 {
		r.failTerminal--
		r.mu.Unlock()
		return models.Job{}, errors.New("disk full")
	}
	if p.Progress != nil && r.failProgress {
		r.mu.Unlock()
		return models.Job{}, errors.New("disk full")
	}
	r.mu.Unlock()

	job, err := r.Store.Update(ctx, id, p)
	if err == nil {
		r.mu.Lock()
		if r.progress == nil {
			r.progress = map[string][]int{}
		}
		r.progress[id] = append(r.progress[id], job.Progress)
		r.mu.Unlock()
	}
	return job, err
}

func (r *recordingStore) progressOf(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress[id]...)
}

type testEnv struct {
	store     *recordingStore
	paths     Paths
	uploadDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	pebbleStore, err := jobstore.OpenPebble(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pebbleStore.Close() })

	env := &testEnv{
		store:     &recordingStore{Store: pebbleStore},
		paths:     Paths{OutputDir: filepath.Join(dir, "outputs"), ArchiveDir: filepath.Join(dir, "archives")},
		uploadDir: filepath.Join(dir, "uploads"),
	}
	require.NoError(t, os.MkdirAll(env.uploadDir, 0755))
	return env
}

// addJob writes an input file and a queued record for it.
func (e *testEnv) addJob(t *testing.T, id string, n int) models.Descriptor {
	t.Helper()
	input := filepath.Join(e.uploadDir, id+".mp4")
	require.NoError(t, os.WriteFile(input, []byte("source video"), 0644))
	job := models.Job{
		ID:             id,
		Status:         models.StatusQueued,
		VariationCount: n,
		InputPath:      input,
	}
	require.NoError(t, e.store.Create(context.Background(), job))
	return job.Descriptor()
}

func (e *testEnv) worker(engine transcoder.Transcoder, batchSize int) *Worker {
	return NewWorker(WorkerOptions{
		Store:      e.store,
		Engine:     engine,
		Sampler:    sampler.NewSeeded(7),
		Paths:      e.paths,
		BatchSize:  batchSize,
		Retries:    5,
		RetryDelay: time.Millisecond,
	})
}

func (e *testEnv) get(t *testing.T, id string) models.Job {
	t.Helper()
	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

// statusOf is safe to call from require.Eventually conditions.
func (e *testEnv) statusOf(id string) models.Status {
	job, err := e.store.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.Status
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
