package job

import (
	"context"
	"errors"
	"fmt"
	"os"

	"variagen/jobstore"
	"variagen/logger"
	"variagen/models"
)

const (
	reasonInterrupted  = "interrupted by restart"
	reasonInputMissing = "input missing after restart"
)

// RecoveryReport lists the jobs a recovery pass touched.
type RecoveryReport struct {
	Interrupted []string // processing -> error
	Requeued    []string // queued, handed back to the scheduler
	Missing     []string // queued, but the input is gone -> error
}

func (r RecoveryReport) String() string {
	return fmt.Sprintf("%d interrupted, %d requeued, %d missing input",
		len(r.Interrupted), len(r.Requeued), len(r.Missing))
}

// Recover fails every job left "processing" by a previous process and
// removes its intermediates. Nothing else changes state. It must run once,
// before the scheduler accepts work.
func Recover(ctx context.Context, store jobstore.Store, paths Paths) (RecoveryReport, error) {
	var report RecoveryReport

	stale, err := store.ListByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return report, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	for _, job := range stale {
		_, err := store.Update(ctx, job.ID, models.JobPatch{
			Status: models.StatusPtr(models.StatusError),
			Error:  models.StringPtr(reasonInterrupted),
		})
		if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			return report, fmt.Errorf("failed to fail interrupted job %s: %w", job.ID, err)
		}
		if err := CleanupJob(job.InputPath, paths.JobOutputDir(job.ID), job.Outputs); err != nil {
			logger.Warnf("job %s: cleanup after restart incomplete: %v", job.ID, err)
		}
		removePartialArchive(paths.ArchivePath(job.ID))
		report.Interrupted = append(report.Interrupted, job.ID)
		logger.Warnf("job %s was processing at shutdown; marked error", job.ID)
	}
	return report, nil
}

func removePartialArchive(path string) {
	for _, p := range []string{path, path + ".partial"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warnf("failed to remove %s: %v", p, err)
		}
	}
}

// Requeue hands every "queued" job back to the scheduler, oldest first.
// Jobs whose input no longer exists are failed instead.
func Requeue(ctx context.Context, store jobstore.Store, sched *Scheduler, report *RecoveryReport) error {
	queued, err := store.ListByStatus(ctx, models.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, job := range queued {
		if _, err := os.Stat(job.InputPath); err != nil {
			_, uerr := store.Update(ctx, job.ID, models.JobPatch{
				Status: models.StatusPtr(models.StatusError),
				Error:  models.StringPtr(reasonInputMissing),
			})
			if uerr != nil {
				logger.Errorf("job %s: failed to record missing input: %v", job.ID, uerr)
				continue
			}
			report.Missing = append(report.Missing, job.ID)
			logger.Warnf("job %s: input %s is gone; marked error", job.ID, job.InputPath)
			continue
		}
		if _, err := sched.Enqueue(job.Descriptor()); err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		report.Requeued = append(report.Requeued, job.ID)
	}
	return nil
}
