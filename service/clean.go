package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"variagen/archiver"
	"variagen/logger"
	"variagen/models"
)

// ErrCleanerUnavailable is returned by CleanMetadata when no engine that
// can strip metadata is configured.
var ErrCleanerUnavailable = errors.New("metadata cleaning is not available")

// CleanFile is one upload for CleanMetadata.
type CleanFile struct {
	Payload  io.Reader
	Filename string
}

type CleanResult struct {
	ID          string `json:"jobId"`
	DownloadURL string `json:"downloadUrl"`
}

// CleanMetadata strips container metadata from every file synchronously
// and records the result as a done job. A single file is served as is;
// several are bundled into a zip. Uploads and intermediate files are
// removed whether or not the call succeeds.
func (s *Service) CleanMetadata(ctx context.Context, files []CleanFile) (CleanResult, error) {
	if s.cleaner == nil {
		return CleanResult{}, ErrCleanerUnavailable
	}
	if len(files) == 0 {
		return CleanResult{}, &ValidationError{Field: "files", Reason: "no file uploaded"}
	}
	if len(files) > s.maxVariations {
		return CleanResult{}, &ValidationError{Field: "files", Reason: fmt.Sprintf("at most %d files per request", s.maxVariations)}
	}

	id := uuid.NewString()
	log := logger.WithFields(logger.Fields{"job": id})
	workDir := filepath.Join(s.outputDir, id)

	var inputs []string
	defer func() {
		for _, p := range inputs {
			os.Remove(p)
		}
		os.RemoveAll(workDir)
	}()

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return CleanResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	seen := make(map[string]bool, len(files))
	entries := make([]archiver.Entry, 0, len(files))
	for i, f := range files {
		if f.Payload == nil {
			return CleanResult{}, &ValidationError{Field: "files", Reason: fmt.Sprintf("file %d is empty", i+1)}
		}
		in := filepath.Join(s.uploadDir, fmt.Sprintf("%s_%d%s", id, i+1, uploadExt(f.Filename)))
		if err := s.savePayload(f.Payload, in); err != nil {
			return CleanResult{}, err
		}
		inputs = append(inputs, in)

		name := cleanedName(f.Filename, i+1, seen)
		out := filepath.Join(workDir, name)
		if err := s.cleaner.CleanMetadata(ctx, in, out); err != nil {
			return CleanResult{}, fmt.Errorf("failed to clean %s: %w", filepath.Base(f.Filename), err)
		}
		entries = append(entries, archiver.Entry{Path: out, Name: name})
	}

	if err := os.MkdirAll(s.archiveDir, 0755); err != nil {
		return CleanResult{}, fmt.Errorf("failed to create archive directory: %w", err)
	}
	job := models.Job{
		ID:             id,
		Status:         models.StatusDone,
		Progress:       100,
		VariationCount: len(entries),
	}
	for _, e := range entries {
		job.Outputs = append(job.Outputs, e.Name)
	}

	if len(entries) == 1 {
		job.ArchivePath = filepath.Join(s.archiveDir, id+filepath.Ext(entries[0].Name))
		job.OriginalName = entries[0].Name
		if err := os.Rename(entries[0].Path, job.ArchivePath); err != nil {
			return CleanResult{}, fmt.Errorf("failed to store cleaned file: %w", err)
		}
	} else {
		job.ArchivePath = filepath.Join(s.archiveDir, id+".zip")
		if _, err := archiver.CreateEntries(ctx, entries, job.ArchivePath); err != nil {
			return CleanResult{}, err
		}
	}

	if err := s.store.Create(ctx, job); err != nil {
		os.Remove(job.ArchivePath)
		return CleanResult{}, fmt.Errorf("failed to record job: %w", err)
	}

	log.Infof("cleaned metadata from %d file(s)", len(entries))
	return CleanResult{ID: id, DownloadURL: "/api/download/" + id}, nil
}

// cleanedName is the name a cleaned file is offered under. Names already
// used in the same request get the file's position as a suffix.
func cleanedName(filename string, n int, seen map[string]bool) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = fmt.Sprintf("file_%d%s", n, uploadExt(filename))
	}
	name := "clean_" + base
	if seen[name] {
		ext := filepath.Ext(base)
		name = fmt.Sprintf("clean_%s_%d%s", strings.TrimSuffix(base, ext), n, ext)
	}
	seen[name] = true
	return name
}
