// Package writerbackends mirrors finished archives to the destinations
// listed under publish in the config. The local archive stays the
// authoritative copy; a destination that fails is logged and skipped.
package writerbackends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"variagen/config"
	"variagen/logger"
	"variagen/metrics"
)

// Backend stores one named object.
type Backend interface {
	Name() string
	Put(ctx context.Context, name string, r io.Reader) error
}

// Publisher writes each archive to every configured backend in order.
type Publisher struct {
	backends []Backend
}

// New builds a publisher from the configured destinations. serveDir is
// the default base directory for directServe destinations.
func New(dests []config.Destination, serveDir string) (*Publisher, error) {
	p := &Publisher{}
	for i, d := range dests {
		b, err := NewBackend(d, serveDir)
		if err != nil {
			return nil, fmt.Errorf("publish[%d]: %w", i, err)
		}
		p.backends = append(p.backends, b)
	}
	return p, nil
}

// NewBackend dispatches on the destination type.
func NewBackend(d config.Destination, serveDir string) (Backend, error) {
	opts := d.Options
	if opts == nil {
		opts = map[string]string{}
	}
	switch d.Type {
	case "directServe":
		return newDirectServe(opts, serveDir)
	case "s3":
		return newS3(opts)
	case "gcs":
		return newGCS(opts)
	case "sftp":
		return newSFTP(opts)
	default:
		return nil, fmt.Errorf("unsupported destination type %q", d.Type)
	}
}

// WithBackends returns a publisher over already built backends.
func WithBackends(backends ...Backend) *Publisher {
	return &Publisher{backends: backends}
}

func (p *Publisher) Len() int {
	return len(p.backends)
}

// Publish copies the archive at archivePath to every backend. The object
// name is the archive's base name. All backends are attempted; the
// returned error lists the ones that failed.
func (p *Publisher) Publish(ctx context.Context, jobID, archivePath string) error {
	name := filepath.Base(archivePath)
	var result error
	for _, b := range p.backends {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := put(ctx, b, name, archivePath); err != nil {
			metrics.RecordPublishFailure(b.Name())
			logger.WithFields(logger.Fields{"job": jobID, "destination": b.Name()}).Warnf("publish failed: %v", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		logger.WithFields(logger.Fields{"job": jobID, "destination": b.Name()}).Infof("published %s", name)
	}
	return result
}

func put(ctx context.Context, b Backend, name, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	return b.Put(ctx, name, f)
}
