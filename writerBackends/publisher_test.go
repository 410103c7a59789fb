package writerbackends

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variagen/config"
)

type memBackend struct {
	name    string
	err     error
	objects map[string]string
}

func (m *memBackend) Name() string { return m.name }

func (m *memBackend) Put(_ context.Context, name string, r io.Reader) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[name] = string(data)
	return nil
}

func writeArchive(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "job-1.zip")
	require.NoError(t, os.WriteFile(p, []byte("PK archive"), 0644))
	return p
}

func TestDirectServePublish(t *testing.T) {
	serveDir := t.TempDir()
	p, err := New([]config.Destination{{Type: "directServe", Options: map[string]string{"folder": "results"}}}, serveDir)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	require.NoError(t, p.Publish(context.Background(), "job-1", writeArchive(t)))

	data, err := os.ReadFile(filepath.Join(serveDir, "results", "job-1.zip"))
	require.NoError(t, err)
	assert.Equal(t, "PK archive", string(data))
	_, err = os.Stat(filepath.Join(serveDir, "results", "job-1.zip.partial"))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishContinuesPastFailures(t *testing.T) {
	bad := &memBackend{name: "bad", err: errors.New("bucket gone")}
	good := &memBackend{name: "good"}
	p := WithBackends(bad, good)

	err := p.Publish(context.Background(), "job-1", writeArchive(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, "PK archive", good.objects["job-1.zip"])
}

func TestPublishMissingArchive(t *testing.T) {
	good := &memBackend{name: "good"}
	err := WithBackends(good).Publish(context.Background(), "job-1", filepath.Join(t.TempDir(), "none.zip"))
	assert.Error(t, err)
	assert.Empty(t, good.objects)
}

func TestPublishNoBackends(t *testing.T) {
	p, err := New(nil, "")
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), "job-1", "/does/not/matter.zip"))
}

func TestNewBackendValidation(t *testing.T) {
	cases := []config.Destination{
		{Type: "ftp"},
		{Type: "directServe"},
		{Type: "s3", Options: map[string]string{"bucket": "b", "region": "us-east-1"}},
		{Type: "gcs", Options: map[string]string{"bucket": "b"}},
		{Type: "sftp", Options: map[string]string{"host": "h"}},
		{Type: "sftp", Options: map[string]string{"host": "h", "user": "u"}},
		{Type: "sftp", Options: map[string]string{"host": "h", "user": "u", "privateKey": "not a key"}},
	}
	for _, d := range cases {
		_, err := NewBackend(d, "")
		assert.Error(t, err, "%+v", d)
	}
}

func TestNewBackendBuilds(t *testing.T) {
	b, err := NewBackend(config.Destination{Type: "s3", Options: map[string]string{
		"bucket": "media", "region": "us-east-1", "accessKey": "a", "secretKey": "s",
		"endpoint": "http://localhost:9000",
	}}, "")
	require.NoError(t, err)
	assert.Equal(t, "s3:media", b.Name())

	b, err = NewBackend(config.Destination{Type: "gcs", Options: map[string]string{
		"bucket": "media", "credentials": "eyJ0eXBlIjoic2VydmljZV9hY2NvdW50In0=",
	}}, "")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(b.(*GCS).credentials))

	b, err = NewBackend(config.Destination{Type: "sftp", Options: map[string]string{
		"host": "files.example.com", "user": "u", "password": "p", "remoteDir": "/in",
	}}, "")
	require.NoError(t, err)
	assert.Equal(t, "sftp:files.example.com:22", b.Name())
}
