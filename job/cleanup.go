package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"variagen/jobstore"
	"variagen/logger"
	"variagen/models"
)

// CleanupJob deletes a job's input, its variation files and its output
// directory. Missing files are not errors; every other failure is collected.
func CleanupJob(inputPath, outputDir string, outputs []string) error {
	var result *multierror.Error
	remove := func(path string) {
		if path == "" {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}

	remove(inputPath)
	for _, p := range outputs {
		remove(p)
	}
	if outputDir != "" {
		if err := os.RemoveAll(outputDir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Housekeeper removes files nobody will read again: per-job output
// directories and uploads left behind by finished or unknown jobs, plus
// archives that never became downloadable.
type Housekeeper struct {
	Store     jobstore.Store
	UploadDir string
	Paths     Paths

	// MaxAge is how old an orphan must be before it is removed.
	MaxAge time.Duration
	now    func() time.Time
}

// SweepReport counts what a sweep removed.
type SweepReport struct {
	Uploads  int
	Outputs  int
	Archives int
}

// Sweep runs one pass over the data directories.
func (h *Housekeeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	cutoff := now().Add(-h.MaxAge)
	var (
		report SweepReport
		result *multierror.Error
	)

	// A file is an orphan if its job is finished (or gone) and the file has
	// not been touched since the cutoff. Active jobs are never swept.
	orphan := func(id string, info os.FileInfo, keepDone bool) bool {
		if info.ModTime().After(cutoff) {
			return false
		}
		job, err := h.Store.Get(ctx, id)
		if errors.Is(err, jobstore.ErrNotFound) {
			return true
		}
		if err != nil {
			result = multierror.Append(result, err)
			return false
		}
		if keepDone && job.Status == models.StatusDone {
			return false
		}
		return job.Status.IsTerminal()
	}

	sweepDir(h.UploadDir, func(name string, info os.FileInfo) {
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if !info.IsDir() && orphan(id, info, false) {
			if err := os.Remove(filepath.Join(h.UploadDir, name)); err != nil {
				result = multierror.Append(result, err)
				return
			}
			report.Uploads++
		}
	}, &result)

	sweepDir(h.Paths.OutputDir, func(name string, info os.FileInfo) {
		if info.IsDir() && orphan(name, info, false) {
			if err := os.RemoveAll(filepath.Join(h.Paths.OutputDir, name)); err != nil {
				result = multierror.Append(result, err)
				return
			}
			report.Outputs++
		}
	}, &result)

	sweepDir(h.Paths.ArchiveDir, func(name string, info os.FileInfo) {
		if info.IsDir() {
			return
		}
		partial := strings.HasSuffix(name, ".partial")
		base := strings.TrimSuffix(name, ".partial")
		id := strings.TrimSuffix(base, filepath.Ext(base))
		if orphan(id, info, !partial) {
			if err := os.Remove(filepath.Join(h.Paths.ArchiveDir, name)); err != nil {
				result = multierror.Append(result, err)
				return
			}
			report.Archives++
		}
	}, &result)

	return report, result.ErrorOrNil()
}

func sweepDir(dir string, visit func(name string, info os.FileInfo), result **multierror.Error) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			*result = multierror.Append(*result, err)
		}
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // Removed while listing
		}
		visit(entry.Name(), info)
	}
}

// Run sweeps every interval until ctx is cancelled.
func (h *Housekeeper) Run(ctx context.Context, interval time.Duration) {
	logger.Infof("Housekeeping routine started - will run every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Housekeeping routine stopped due to context cancellation")
			return
		case <-ticker.C:
			logger.Debugf("Removing orphaned files older than %v", h.MaxAge)
			report, err := h.Sweep(ctx)
			if err != nil {
				logger.Errorf("Housekeeping sweep incomplete: %v", err)
			}
			logger.Infof("Housekeeping removed %d upload(s), %d output dir(s), %d archive(s)",
				report.Uploads, report.Outputs, report.Archives)
		}
	}
}
