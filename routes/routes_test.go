package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variagen/job"
	"variagen/jobstore"
	"variagen/models"
	"variagen/service"
	"variagen/transcoder"
)

type fakeQueue struct {
	mu     sync.Mutex
	queued []models.Descriptor
}

func (q *fakeQueue) Enqueue(d models.Descriptor) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, d)
	return len(q.queued), nil
}

type fixedStats job.Stats

func (s fixedStats) Stats() job.Stats { return job.Stats(s) }

type testServer struct {
	e     *echo.Echo
	store *jobstore.PebbleStore
	dir   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := jobstore.OpenPebble(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := service.New(service.Options{
		Store:          store,
		Queue:          &fakeQueue{},
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxUploadBytes: 1 << 20,
		MaxVariations:  50,
		Secret:         []byte("0123456789abcdef0123456789abcdef"),
		LinkTTL:        time.Hour,
		Cleaner:        transcoder.Copy{},
		OutputDir:      filepath.Join(dir, "outputs"),
		ArchiveDir:     filepath.Join(dir, "archives"),
	})
	srv := New(Options{
		Service:        svc,
		Store:          store,
		Stats:          fixedStats{Active: 1, Queued: 2},
		MaxUploadBytes: 1 << 20,
		MaxConcurrent:  1,
	})
	return &testServer{e: NewEcho(srv), store: store, dir: dir}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, fields map[string]string, video []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if video != nil {
		part, err := w.CreateFormFile("video", "clip.mp4")
		require.NoError(t, err)
		_, err = part.Write(video)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) submit(t *testing.T) ProcessResponse {
	t.Helper()
	rec := ts.do(uploadRequest(t, map[string]string{"variations": "2"}, []byte("video")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[ProcessResponse](t, rec)
}

// complete moves a job to done with an archive written (or not) at the
// usual location.
func (ts *testServer) complete(t *testing.T, id string, writeArchive bool) string {
	t.Helper()
	ctx := context.Background()
	archive := filepath.Join(ts.dir, "archives", id+".zip")
	if writeArchive {
		require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0755))
		require.NoError(t, os.WriteFile(archive, []byte("PK zip bytes"), 0644))
	}
	_, err := ts.store.Update(ctx, id, models.JobPatch{Status: models.StatusPtr(models.StatusProcessing)})
	require.NoError(t, err)
	_, err = ts.store.Update(ctx, id, models.JobPatch{
		Status:      models.StatusPtr(models.StatusDone),
		Outputs:     []string{"a.mp4", "b.mp4"},
		ArchivePath: models.StringPtr(archive),
	})
	require.NoError(t, err)
	return archive
}

func TestProcess(t *testing.T) {
	ts := newTestServer(t)

	first := ts.submit(t)
	assert.NotEmpty(t, first.JobID)
	assert.Equal(t, 1, first.QueuePosition)
	assert.Equal(t, "Processing started", first.Message)

	second := ts.submit(t)
	assert.Equal(t, 2, second.QueuePosition)
	assert.Equal(t, "Job queued", second.Message)
}

func TestProcessRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(uploadRequest(t, map[string]string{"variations": "2"}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No video file provided", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(uploadRequest(t, map[string]string{"variations": "500"}, []byte("video")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(uploadRequest(t, map[string]string{"callbackUrl": "not a url"}, []byte("video")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	res := ts.submit(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+res.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[service.StatusView](t, rec)
	assert.Equal(t, models.StatusQueued, view.Status)
	assert.Equal(t, 0, view.Progress)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decode[ErrorResponse](t, rec).Error)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t)
	res := ts.submit(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/download/"+res.JobID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not ready", decode[ErrorResponse](t, rec).Error)

	ts.complete(t, res.JobID, true)
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/download/"+res.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK zip bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), service.DownloadName(res.JobID))
}

func TestDownloadMissingFile(t *testing.T) {
	ts := newTestServer(t)
	res := ts.submit(t)
	ts.complete(t, res.JobID, false)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/download/"+res.JobID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File missing on server", decode[ErrorResponse](t, rec).Error)
}

func TestSignedLink(t *testing.T) {
	ts := newTestServer(t)
	res := ts.submit(t)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/download/"+res.JobID+"/link", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.complete(t, res.JobID, true)
	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/download/"+res.JobID+"/link", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	link := decode[service.Link](t, rec)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)

	rec = ts.do(httptest.NewRequest(http.MethodGet, u.Path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK zip bytes", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/d/garbage", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func cleanRequest(t *testing.T, files map[string]string, order ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tools/metadata/clean", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestCleanMetadataSingleFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(cleanRequest(t, map[string]string{"selfie.jpg": "jpeg bytes"}, "selfie.jpg"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CleanResponse](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "/api/download/"+res.JobID, res.DownloadURL)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+res.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusDone, decode[service.StatusView](t, rec).Status)

	rec = ts.do(httptest.NewRequest(http.MethodGet, res.DownloadURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "clean_selfie.jpg")
}

func TestCleanMetadataMultipleFiles(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(cleanRequest(t, map[string]string{"a.mp4": "first", "b.mp4": "second"}, "a.mp4", "b.mp4"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[CleanResponse](t, rec)

	rec = ts.do(httptest.NewRequest(http.MethodGet, res.DownloadURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), service.DownloadName(res.JobID))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "clean_a.mp4", zr.File[0].Name)
	assert.Equal(t, "clean_b.mp4", zr.File[1].Name)
}

func TestCleanMetadataWithoutFiles(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(cleanRequest(t, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No files provided", decode[ErrorResponse](t, rec).Error)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, job.Stats{Active: 1, Queued: 2}, health.Jobs)
}

func TestHealthDegradedWithStrandedJobs(t *testing.T) {
	e := NewEcho(New(Options{Stats: fixedStats{Active: 1, Stranded: 1}}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, 1, health.Jobs.Stranded)
}

func TestVersionAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", decode[VersionResponse](t, rec).Version)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "variagen_active_jobs")
}
