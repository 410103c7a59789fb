// Package service holds the operations exposed to clients: submitting a
// job, polling its status, downloading its archive and stripping metadata
// from uploaded files.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"variagen/jobstore"
	"variagen/logger"
	"variagen/metrics"
	"variagen/models"
	"variagen/sampler"
	"variagen/transcoder"
	"variagen/utils"
)

var (
	// ErrNotFound means the job is unknown or its archive is not ready.
	ErrNotFound = errors.New("not found")
	// ErrFileMissing means the job is done but its archive is gone from disk.
	ErrFileMissing = errors.New("file missing on server")
	// ErrPayloadTooLarge is returned when the upload exceeds the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnavailable is returned when the scheduler no longer admits jobs.
	ErrUnavailable = errors.New("service is shutting down")
)

// ValidationError rejects a submission before anything is stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Enqueuer is the scheduler surface the service needs.
type Enqueuer interface {
	Enqueue(d models.Descriptor) (int, error)
}

// Options configures New. Cleaner, OutputDir and ArchiveDir are only used
// by CleanMetadata.
type Options struct {
	Store          jobstore.Store
	Queue          Enqueuer
	UploadDir      string
	MaxUploadBytes int64
	MaxVariations  int
	Secret         []byte
	LinkTTL        time.Duration
	Cleaner        transcoder.MetadataCleaner
	OutputDir      string
	ArchiveDir     string

	// AllowPrivateCallbacks accepts callback URLs naming loopback, private
	// or link-local hosts.
	AllowPrivateCallbacks bool
}

type Service struct {
	store          jobstore.Store
	queue          Enqueuer
	uploadDir      string
	maxUploadBytes int64
	maxVariations  int
	secret         []byte
	linkTTL        time.Duration
	cleaner        transcoder.MetadataCleaner
	outputDir      string
	archiveDir     string
	allowPrivate   bool
	now            func() time.Time
}

func New(o Options) *Service {
	s := &Service{
		store:          o.Store,
		queue:          o.Queue,
		uploadDir:      o.UploadDir,
		maxUploadBytes: o.MaxUploadBytes,
		maxVariations:  o.MaxVariations,
		secret:         o.Secret,
		linkTTL:        o.LinkTTL,
		cleaner:        o.Cleaner,
		outputDir:      o.OutputDir,
		archiveDir:     o.ArchiveDir,
		allowPrivate:   o.AllowPrivateCallbacks,
		now:            time.Now,
	}
	if s.maxVariations < 1 {
		s.maxVariations = 50
	}
	if s.linkTTL <= 0 {
		s.linkTTL = time.Hour
	}
	return s
}

// SubmitRequest is one upload. Variations and Effects are passed through
// as received; Submit parses and validates them.
type SubmitRequest struct {
	Payload     io.Reader
	Filename    string
	Variations  string
	Effects     []byte
	CallbackURL string
}

type SubmitResult struct {
	ID            string `json:"jobId"`
	QueuePosition int    `json:"queuePosition"`
}

// Submit stores the payload, records a queued job and hands it to the
// scheduler. On a validation failure nothing is created.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	count, err := ParseVariations(req.Variations, s.maxVariations)
	if err != nil {
		return SubmitResult{}, err
	}
	if req.Payload == nil {
		return SubmitResult{}, &ValidationError{Field: "video", Reason: "no file uploaded"}
	}
	if req.CallbackURL != "" {
		if err := ValidateCallback(req.CallbackURL, s.allowPrivate); err != nil {
			return SubmitResult{}, err
		}
	}

	effects, ignored := sampler.ParseConfig(req.Effects)
	if len(ignored) > 0 {
		logger.Warnf("ignoring effect settings: %s", strings.Join(ignored, ", "))
	}

	id := uuid.NewString()
	inputPath := filepath.Join(s.uploadDir, id+uploadExt(req.Filename))
	if err := s.savePayload(req.Payload, inputPath); err != nil {
		return SubmitResult{}, err
	}

	job := models.Job{
		ID:             id,
		Status:         models.StatusQueued,
		VariationCount: count,
		EffectConfig:   effects,
		InputPath:      inputPath,
		OriginalName:   filepath.Base(req.Filename),
		CallbackURL:    req.CallbackURL,
	}
	if err := s.store.Create(ctx, job); err != nil {
		os.Remove(inputPath)
		return SubmitResult{}, fmt.Errorf("failed to record job: %w", err)
	}

	position, err := s.queue.Enqueue(job.Descriptor())
	if err != nil {
		// The record is failed now so it is not picked up again at the next start.
		reason := "not admitted: service shutting down"
		if _, uerr := s.store.Update(ctx, id, models.JobPatch{
			Status: models.StatusPtr(models.StatusError),
			Error:  models.StringPtr(reason),
		}); uerr != nil {
			logger.Errorf("job %s: failed to record rejection: %v", id, uerr)
		}
		os.Remove(inputPath)
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	metrics.RecordSubmitted()
	logger.WithFields(logger.Fields{"job": id}).Infof("accepted %q: %d variation(s), queue position %d",
		job.OriginalName, count, position)
	return SubmitResult{ID: id, QueuePosition: position}, nil
}

// ParseVariations applies the submission rules: empty means 1, anything
// else must be an integer in [1, max].
func ParseVariations(raw string, limit int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: "variations", Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	if n < 1 || n > limit {
		return 0, &ValidationError{Field: "variations", Reason: fmt.Sprintf("must be between 1 and %d, got %d", limit, n)}
	}
	return n, nil
}

// ValidateCallback accepts absolute http(s) URLs. Unless allowPrivate is
// set, hosts that are localhost or a loopback, private, link-local or
// unspecified IP literal are rejected. Names resolving to such addresses
// are caught when the notifier dials.
func ValidateCallback(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return &ValidationError{Field: "callbackUrl", Reason: "must be an absolute http(s) URL"}
	}
	if allowPrivate {
		return nil
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return &ValidationError{Field: "callbackUrl", Reason: "host must not be local"}
	}
	if ip := net.ParseIP(host); ip != nil && utils.IsPrivateIP(ip) {
		return &ValidationError{Field: "callbackUrl", Reason: "host must not be a private or loopback address"}
	}
	return nil
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ".mp4"
	}
	return ext
}

// savePayload streams the upload to path, enforcing the size limit. On any
// failure the partial file is removed.
func (s *Service) savePayload(r io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}

	src := r
	if s.maxUploadBytes > 0 {
		src = io.LimitReader(r, s.maxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		os.Remove(path)
		return fmt.Errorf("failed to save upload: %w", err)
	case s.maxUploadBytes > 0 && n > s.maxUploadBytes:
		os.Remove(path)
		return fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, s.maxUploadBytes)
	case n == 0:
		os.Remove(path)
		return &ValidationError{Field: "video", Reason: "uploaded file is empty"}
	}
	return nil
}

// StatusView is what clients poll.
type StatusView struct {
	Status   models.Status `json:"status"`
	Progress int           `json:"progress"`
	Error    string        `json:"error,omitempty"`
}

func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return StatusView{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return StatusView{}, err
	}
	return StatusView{Status: job.Status, Progress: job.Progress, Error: job.Error}, nil
}

// Download is an open archive ready to stream. The caller closes File.
type Download struct {
	File    *os.File
	Name    string
	Size    int64
	ModTime time.Time
}

// DownloadName is the attachment name offered for a job's archive.
func DownloadName(id string) string {
	return fmt.Sprintf("variagen_results_%s.zip", id)
}

// downloadName is DownloadName for zips and the cleaned file's own name
// for single-file metadata jobs.
func downloadName(job models.Job) string {
	if filepath.Ext(job.ArchivePath) != ".zip" && job.OriginalName != "" {
		return job.OriginalName
	}
	return DownloadName(job.ID)
}

// Open returns the archive of a done job.
func (s *Service) Open(ctx context.Context, id string) (*Download, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, err
	}
	if job.Status != models.StatusDone || job.ArchivePath == "" {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotFound, id, job.Status)
	}

	f, err := os.Open(job.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, job.ArchivePath)
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	return &Download{File: f, Name: downloadName(job), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Link is a time-limited download URL.
type Link struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateLink signs a download token for a done job. baseURL is prefixed
// to the /api/d/<token> path.
func (s *Service) CreateLink(ctx context.Context, id, baseURL string) (Link, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return Link{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return Link{}, err
	}
	if job.Status != models.StatusDone {
		return Link{}, fmt.Errorf("%w: job %s is %s", ErrNotFound, id, job.Status)
	}

	token, expires, err := utils.SignDownloadToken(s.secret, id, downloadName(job), s.linkTTL, s.now())
	if err != nil {
		return Link{}, err
	}
	return Link{
		URL:       strings.TrimRight(baseURL, "/") + "/api/d/" + token,
		ExpiresAt: expires.UTC(),
	}, nil
}

// OpenToken verifies a download token and opens the archive it grants.
func (s *Service) OpenToken(ctx context.Context, token string) (*Download, error) {
	claims, err := utils.VerifyDownloadToken(token, utils.VerifyConfig{SecretKey: s.secret, Now: s.now})
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, claims.Subject)
}
