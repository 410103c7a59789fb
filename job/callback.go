package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"variagen/logger"
	"variagen/models"
	"variagen/utils"
)

// CallbackPayload is POSTed to a job's callback URL when it finishes.
type CallbackPayload struct {
	JobID     string        `json:"jobId"`
	Status    models.Status `json:"status"`
	Progress  int           `json:"progress"`
	Archive   bool          `json:"archive"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// HTTPNotifier delivers completion callbacks. Delivery never changes job
// state; a callback that keeps failing is logged and dropped.
type HTTPNotifier struct {
	Client     *http.Client
	Attempts   uint
	RetryDelay time.Duration
	UserAgent  string
}

// NewHTTPNotifier returns a notifier whose client refuses to connect to
// loopback, private or link-local addresses unless allowPrivate is set.
func NewHTTPNotifier(allowPrivate bool) *HTTPNotifier {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer := &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   utils.PublicOnlyControl,
		}
		transport.DialContext = dialer.DialContext
	}
	return &HTTPNotifier{
		Client:     &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Attempts:   3,
		RetryDelay: time.Second,
		UserAgent:  "variagen/1.0",
	}
}

// Notify implements Notifier.
func (n *HTTPNotifier) Notify(ctx context.Context, job models.Job) {
	if job.CallbackURL == "" {
		return // No callback configured
	}
	payload := CallbackPayload{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Archive:   job.ArchivePath != "",
		Error:     job.Error,
		Timestamp: time.Now().Unix(),
	}

	err := retry.Do(
		func() error { return n.send(ctx, job.CallbackURL, payload) },
		retry.Attempts(n.Attempts),
		retry.Delay(n.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Errorf("job %s: callback to %s failed: %v", job.ID, job.CallbackURL, err)
		return
	}
	logger.Infof("Successfully sent callback to %s", job.CallbackURL)
}

func (n *HTTPNotifier) send(ctx context.Context, url string, payload CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to marshal callback payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create callback request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
