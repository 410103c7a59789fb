// Package archiver bundles a job's variation files into a single zip.
package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"variagen/logger"
)

// ArchiveError reports which step of building the archive failed.
type ArchiveError struct {
	Path string
	Op   string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// EntryName is the name the n-th (1-based) variation gets inside the zip.
func EntryName(n int, source string) string {
	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".mp4"
	}
	return fmt.Sprintf("variation_%d%s", n, ext)
}

// Entry is one file to archive under the given name.
type Entry struct {
	Path string
	Name string
}

// Create writes every file in outputs, in order, into a zip at dest using
// maximum deflate compression and returns the archive size. Entries are
// named by EntryName.
func Create(ctx context.Context, outputs []string, dest string) (int64, error) {
	entries := make([]Entry, len(outputs))
	for i, path := range outputs {
		entries[i] = Entry{Path: path, Name: EntryName(i+1, path)}
	}
	return CreateEntries(ctx, entries, dest)
}

// CreateEntries is Create with caller-chosen entry names. The archive is
// assembled under a temporary name and renamed into place, so dest either
// holds a complete archive or does not exist.
func CreateEntries(ctx context.Context, entries []Entry, dest string) (int64, error) {
	if len(entries) == 0 {
		return 0, &ArchiveError{Path: dest, Op: "collect", Err: fmt.Errorf("no outputs to archive")}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, &ArchiveError{Path: dest, Op: "mkdir", Err: err}
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, &ArchiveError{Path: dest, Op: "create", Err: err}
	}
	fail := func(op string, err error) (int64, error) {
		f.Close()
		os.Remove(tmp)
		return 0, &ArchiveError{Path: dest, Op: op, Err: err}
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fail("add", err)
		}
		if err := addFile(zw, e.Path, e.Name); err != nil {
			return fail("add "+filepath.Base(e.Path), err)
		}
	}
	if err := zw.Close(); err != nil {
		return fail("finalize", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	info, err := f.Stat()
	if err != nil {
		return fail("stat", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, &ArchiveError{Path: dest, Op: "close", Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, &ArchiveError{Path: dest, Op: "rename", Err: err}
	}

	logger.Debugf("archived %d file(s) into %s (%d bytes)", len(entries), dest, info.Size())
	return info.Size(), nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
