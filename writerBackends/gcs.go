package writerbackends

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS uploads objects to a Cloud Storage bucket using a service account
// key given inline.
type GCS struct {
	bucket      string
	prefix      string
	credentials []byte
}

// options: bucket, credentials (service account JSON, raw or base64), prefix.
func newGCS(opts map[string]string) (*GCS, error) {
	if opts["bucket"] == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	if opts["credentials"] == "" {
		return nil, fmt.Errorf("gcs: credentials is required")
	}
	creds, err := base64.StdEncoding.DecodeString(opts["credentials"])
	if err != nil {
		creds = []byte(opts["credentials"])
	}
	return &GCS{bucket: opts["bucket"], prefix: opts["prefix"], credentials: creds}, nil
}

func (g *GCS) Name() string {
	return "gcs:" + g.bucket
}

func (g *GCS) Put(ctx context.Context, name string, r io.Reader) error {
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(g.credentials))
	if err != nil {
		return fmt.Errorf("failed to create GCS client: %w", err)
	}
	defer client.Close()

	object := path.Join(g.prefix, name)
	w := client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %s: %w", object, err)
	}
	return nil
}
