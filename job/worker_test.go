package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variagen/models"
	"variagen/transcoder"
)

func TestWorkerHappyPath(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "happy", 3)
	engine := &fakeEngine{}

	env.worker(engine, 5).Run(context.Background(), d)

	job := env.get(t, "happy")
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Len(t, job.Outputs, 3)
	assert.Equal(t, env.paths.ArchivePath("happy"), job.ArchivePath)
	assert.Empty(t, job.Error)

	r, err := zip.OpenReader(job.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 3)
	for i, f := range r.File {
		assert.Equal(t, fmt.Sprintf("variation_%d.mp4", i+1), f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("variation %d", i+1), string(data))
	}

	assert.False(t, exists(d.InputPath), "input should be removed")
	assert.False(t, exists(env.paths.JobOutputDir("happy")), "output dir should be removed")
	assert.Equal(t, 3, engine.callCount("happy"))
}

func TestWorkerProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "steps", 7)

	env.worker(&fakeEngine{}, 2).Run(context.Background(), d)

	// processing, then 4 batches, then done.
	progress := env.store.progressOf("steps")
	assert.Equal(t, []int{0, 23, 47, 71, 95, 100}, progress)
	assert.True(t, sort.IntsAreSorted(progress))
	assert.Equal(t, models.StatusDone, env.get(t, "steps").Status)
}

func TestWorkerFailureOnSecondVariation(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "broken", 4)
	notifier := &captureNotifier{}
	w := env.worker(&fakeEngine{failOn: 2}, 5)
	w.notifier = notifier

	w.Run(context.Background(), d)

	job := env.get(t, "broken")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "variation 2")
	assert.Equal(t, 0, job.Progress, "progress is left where it was")
	assert.Empty(t, job.ArchivePath)

	assert.False(t, exists(env.paths.ArchivePath("broken")))
	assert.False(t, exists(env.paths.ArchivePath("broken")+".partial"))
	assert.False(t, exists(env.paths.JobOutputDir("broken")), "partial outputs should be removed")
	assert.False(t, exists(d.InputPath))

	require.Len(t, notifier.jobs(), 1)
	assert.Equal(t, models.StatusError, notifier.jobs()[0].Status)
}

func TestWorkerFailureInLaterBatchKeepsProgress(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "late", 4)

	env.worker(&fakeEngine{failOn: 3}, 2).Run(context.Background(), d)

	job := env.get(t, "late")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Equal(t, 47, job.Progress)
	assert.False(t, exists(env.paths.JobOutputDir("late")))
}

func TestWorkerMissingInput(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "gone", 2)
	require.NoError(t, os.Remove(d.InputPath))
	engine := &fakeEngine{}

	env.worker(engine, 5).Run(context.Background(), d)

	job := env.get(t, "gone")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "input unavailable")
	assert.Zero(t, engine.callCount("gone"))
}

func TestWorkerRetriesTerminalWrite(t *testing.T) {
	env := newTestEnv(t)
	env.store.failTerminal = 2
	d := env.addJob(t, "flaky", 2)

	env.worker(&fakeEngine{}, 5).Run(context.Background(), d)

	assert.Equal(t, models.StatusDone, env.get(t, "flaky").Status)
}

func TestWorkerGivesUpOnTerminalWrite(t *testing.T) {
	env := newTestEnv(t)
	env.store.failTerminal = 100
	d := env.addJob(t, "stuck", 1)

	w := env.worker(&fakeEngine{}, 5)
	assert.Equal(t, 0, w.StrandedCount())
	w.Run(context.Background(), d)

	// Left for recovery; files are still cleaned.
	assert.Equal(t, models.StatusProcessing, env.get(t, "stuck").Status)
	assert.False(t, exists(env.paths.JobOutputDir("stuck")))
	assert.False(t, exists(d.InputPath))

	assert.Equal(t, 1, w.StrandedCount())
	assert.Equal(t, 1, NewScheduler(1, w).Stats().Stranded)
}

func TestWorkerIgnoresProgressWriteFailures(t *testing.T) {
	env := newTestEnv(t)
	env.store.failProgress = true
	d := env.addJob(t, "quiet", 3)

	env.worker(&fakeEngine{}, 1).Run(context.Background(), d)

	job := env.get(t, "quiet")
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestWorkerPublishesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	d := env.addJob(t, "shared", 2)
	pub := &capturePublisher{}
	notifier := &captureNotifier{}
	w := env.worker(&fakeEngine{}, 5)
	w.publisher = pub
	w.notifier = notifier

	w.Run(context.Background(), d)

	assert.Equal(t, []string{env.paths.ArchivePath("shared")}, pub.paths)
	require.Len(t, notifier.jobs(), 1)
	assert.Equal(t, models.StatusDone, notifier.jobs()[0].Status)
}

func TestTwoJobsBackToBack(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	engine := &fakeEngine{gate: gate}
	s := NewScheduler(1, env.worker(engine, 5))

	first := env.addJob(t, "job-1", 2)
	second := env.addJob(t, "job-2", 2)

	pos, err := s.Enqueue(first)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = s.Enqueue(second)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	require.Eventually(t, func() bool { return engine.callCount("job-1") == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, models.StatusProcessing, env.get(t, "job-1").Status)
	assert.Equal(t, models.StatusQueued, env.get(t, "job-2").Status)
	assert.Zero(t, engine.callCount("job-2"))

	close(gate)
	require.Eventually(t, func() bool {
		return env.statusOf("job-2") == models.StatusDone
	}, 5*time.Second, 5*time.Millisecond)
	shutdown(t, s)

	assert.Equal(t, models.StatusDone, env.get(t, "job-1").Status)
}

func TestFailingJobDoesNotBlockNext(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(1, env.worker(&fakeEngine{failOn: 1, failJob: "bad"}, 5))

	_, err := s.Enqueue(env.addJob(t, "bad", 1))
	require.NoError(t, err)
	_, err = s.Enqueue(env.addJob(t, "good", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.statusOf("good") == models.StatusDone
	}, 5*time.Second, 5*time.Millisecond)
	shutdown(t, s)

	assert.Equal(t, models.StatusError, env.get(t, "bad").Status)
}

type capturePublisher struct {
	paths []string
}

func (p *capturePublisher) Publish(ctx context.Context, jobID, archivePath string) error {
	p.paths = append(p.paths, archivePath)
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	seen []models.Job
}

func (n *captureNotifier) Notify(ctx context.Context, job models.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, job)
}

func (n *captureNotifier) jobs() []models.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Job(nil), n.seen...)
}

var _ transcoder.Transcoder = (*fakeEngine)(nil)
