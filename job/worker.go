package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"variagen/archiver"
	"variagen/jobstore"
	"variagen/logger"
	"variagen/metrics"
	"variagen/models"
	"variagen/sampler"
	"variagen/transcoder"
)

// progressCeiling is the share of progress reported while rendering; the
// remainder is reached only when the job is done.
const progressCeiling = 95

// Publisher mirrors a finished archive to external storage.
type Publisher interface {
	Publish(ctx context.Context, jobID, archivePath string) error
}

// Notifier is told about every job that reaches a terminal status.
type Notifier interface {
	Notify(ctx context.Context, job models.Job)
}

// Paths are the directories a worker writes into.
type Paths struct {
	OutputDir  string // parent of per-job variation directories
	ArchiveDir string
}

// JobOutputDir returns the directory holding one job's variations.
func (p Paths) JobOutputDir(id string) string {
	return filepath.Join(p.OutputDir, id)
}

// ArchivePath returns where a job's zip is written.
func (p Paths) ArchivePath(id string) string {
	return filepath.Join(p.ArchiveDir, id+".zip")
}

// WorkerOptions configures NewWorker. Publisher and Notifier are optional.
type WorkerOptions struct {
	Store      jobstore.Store
	Engine     transcoder.Transcoder
	Sampler    *sampler.Sampler
	Paths      Paths
	BatchSize  int
	Retries    uint
	RetryDelay time.Duration
	Publisher  Publisher
	Notifier   Notifier
}

// Worker drives one job from processing to done or error.
type Worker struct {
	store      jobstore.Store
	engine     transcoder.Transcoder
	sampler    *sampler.Sampler
	paths      Paths
	batchSize  int
	retries    uint
	retryDelay time.Duration
	publisher  Publisher
	notifier   Notifier

	strandedMu sync.Mutex
	stranded   map[string]struct{}
}

func NewWorker(o WorkerOptions) *Worker {
	w := &Worker{
		store:      o.Store,
		engine:     o.Engine,
		sampler:    o.Sampler,
		paths:      o.Paths,
		batchSize:  o.BatchSize,
		retries:    o.Retries,
		retryDelay: o.RetryDelay,
		publisher:  o.Publisher,
		notifier:   o.Notifier,
		stranded:   make(map[string]struct{}),
	}
	if w.sampler == nil {
		w.sampler = sampler.New()
	}
	if w.batchSize < 1 {
		w.batchSize = 5
	}
	if w.retries < 1 {
		w.retries = 1
	}
	return w
}

// Run implements Runner.
func (w *Worker) Run(ctx context.Context, d models.Descriptor) {
	log := logger.WithFields(logger.Fields{"job": d.ID})
	start := time.Now()

	if _, err := w.store.Update(ctx, d.ID, models.JobPatch{Status: models.StatusPtr(models.StatusProcessing)}); err != nil {
		w.fail(ctx, d, fmt.Errorf("failed to mark job processing: %w", err))
		return
	}
	log.Infof("processing %d variation(s) in batches of %d", d.VariationCount, w.batchSize)

	outputs, err := w.render(ctx, d)
	if err != nil {
		w.fail(ctx, d, err)
		return
	}

	archivePath := w.paths.ArchivePath(d.ID)
	size, err := archiver.Create(ctx, outputs, archivePath)
	if err != nil {
		w.fail(ctx, d, err)
		return
	}

	job, err := w.persistTerminal(ctx, d.ID, models.JobPatch{
		Status:      models.StatusPtr(models.StatusDone),
		Outputs:     outputs,
		ArchivePath: models.StringPtr(archivePath),
	})
	if err != nil {
		// The record stays "processing"; recovery fails it on the next start.
		log.Errorf("archive %s built but job could not be marked done: %v", archivePath, err)
		w.cleanup(d, outputs)
		return
	}
	metrics.RecordFinished(string(models.StatusDone))
	log.Infof("done in %s, archive %s (%d bytes)", time.Since(start).Round(time.Millisecond), archivePath, size)

	w.cleanup(d, outputs)

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, d.ID, archivePath); err != nil {
			log.Warnf("publishing archive failed: %v", err)
		}
	}
	if w.notifier != nil {
		w.notifier.Notify(ctx, job)
	}
}

// render runs every variation, batch by batch, and returns the output paths
// in variation order.
func (w *Worker) render(ctx context.Context, d models.Descriptor) ([]string, error) {
	n := d.VariationCount
	if n < 1 {
		return nil, fmt.Errorf("job has no variations to render")
	}
	if _, err := os.Stat(d.InputPath); err != nil {
		return nil, fmt.Errorf("input unavailable: %w", err)
	}
	outDir := w.paths.JobOutputDir(d.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ranges := sampler.Resolve(d.EffectConfig)
	totalBatches := (n + w.batchSize - 1) / w.batchSize
	outputs := make([]string, 0, n)

	for b := 0; b < totalBatches; b++ {
		first := b * w.batchSize
		last := min(first+w.batchSize, n)
		batch := make([]string, last-first)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.batchSize)
		for i := first; i < last; i++ {
			req := transcoder.Request{
				JobID:      d.ID,
				Variation:  i + 1,
				InputPath:  d.InputPath,
				OutputPath: filepath.Join(outDir, archiver.EntryName(i+1, ".mp4")),
				Params:     w.sampler.Variation(ranges),
			}
			g.Go(func() error {
				t0 := time.Now()
				err := w.engine.Transcode(gctx, req)
				metrics.RecordVariation(time.Since(t0), err)
				if err != nil {
					return err
				}
				batch[i-first] = req.OutputPath
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		outputs = append(outputs, batch...)
		progress := (b + 1) * progressCeiling / totalBatches
		w.persistProgress(ctx, d.ID, progress, outputs)
	}
	return outputs, nil
}

// persistProgress is best effort: a lost progress write is logged and
// counted but never fails the job.
func (w *Worker) persistProgress(ctx context.Context, id string, progress int, outputs []string) {
	_, err := w.store.Update(ctx, id, models.JobPatch{Progress: models.IntPtr(progress), Outputs: outputs})
	if err != nil {
		perr := &jobstore.PersistenceError{Op: "progress", JobID: id, Err: err}
		logger.Warnf("%v", perr)
		metrics.RecordPersistenceFailure("progress")
		return
	}
	logger.WithFields(logger.Fields{"job": id}).Debugf("progress %d%% (%d output(s))", progress, len(outputs))
}

// persistTerminal retries the final write. Transition errors are not
// retried; they mean the record moved on without us.
func (w *Worker) persistTerminal(ctx context.Context, id string, patch models.JobPatch) (models.Job, error) {
	var job models.Job
	err := retry.Do(
		func() error {
			var err error
			job, err = w.store.Update(ctx, id, patch)
			return err
		},
		retry.Attempts(w.retries),
		retry.Delay(w.retryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, jobstore.ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("job %s: terminal write attempt %d failed: %v", id, n+1, err)
		}),
	)
	if err != nil {
		metrics.RecordPersistenceFailure("terminal")
		if !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, jobstore.ErrNotFound) {
			w.strand(id)
		}
		return models.Job{}, &jobstore.PersistenceError{Op: "terminal", JobID: id, Err: err}
	}
	return job, nil
}

// strand remembers a job whose record is stuck in processing because its
// terminal write never landed. Only the next startup recovery clears it.
func (w *Worker) strand(id string) {
	w.strandedMu.Lock()
	w.stranded[id] = struct{}{}
	n := len(w.stranded)
	w.strandedMu.Unlock()

	metrics.SetStrandedJobs(n)
	logger.WithFields(logger.Fields{"job": id}).Errorf("record left in processing until the next restart (%d stranded)", n)
}

// StrandedCount reports jobs whose terminal status could not be stored.
func (w *Worker) StrandedCount() int {
	w.strandedMu.Lock()
	defer w.strandedMu.Unlock()
	return len(w.stranded)
}

// fail records the error, removes the input and every partial output and
// notifies. Progress is left where it was.
func (w *Worker) fail(ctx context.Context, d models.Descriptor, cause error) {
	log := logger.WithFields(logger.Fields{"job": d.ID})
	log.Errorf("job failed: %v", cause)

	job, err := w.persistTerminal(ctx, d.ID, models.JobPatch{
		Status: models.StatusPtr(models.StatusError),
		Error:  models.StringPtr(cause.Error()),
	})
	if err != nil {
		log.Errorf("could not record failure: %v", err)
	} else {
		metrics.RecordFinished(string(models.StatusError))
	}

	w.cleanup(d, nil)

	if err == nil && w.notifier != nil {
		w.notifier.Notify(ctx, job)
	}
}

func (w *Worker) cleanup(d models.Descriptor, outputs []string) {
	if err := CleanupJob(d.InputPath, w.paths.JobOutputDir(d.ID), outputs); err != nil {
		logger.Warnf("job %s: cleanup incomplete: %v", d.ID, err)
	}
}
