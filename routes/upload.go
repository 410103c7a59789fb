package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"variagen/logger"
	"variagen/service"
)

// ProcessResponse acknowledges an accepted upload.
type ProcessResponse struct {
	JobID         string `json:"jobId"`
	Message       string `json:"message"`
	QueuePosition int    `json:"queuePosition"`
}

// Process handles POST /api/process. The multipart form carries the
// video file plus optional variations, effects (JSON) and callbackUrl.
func (s *Server) Process(c echo.Context) error {
	fh, err := c.FormFile("video")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return jsonError(c, http.StatusRequestEntityTooLarge, "Upload too large")
		}
		return jsonError(c, http.StatusBadRequest, "No video file provided")
	}
	file, err := fh.Open()
	if err != nil {
		logger.Errorf("failed to open uploaded file: %v", err)
		return jsonError(c, http.StatusBadRequest, "Unreadable upload")
	}
	defer file.Close()

	res, err := s.svc.Submit(c.Request().Context(), service.SubmitRequest{
		Payload:     file,
		Filename:    fh.Filename,
		Variations:  c.FormValue("variations"),
		Effects:     []byte(c.FormValue("effects")),
		CallbackURL: c.FormValue("callbackUrl"),
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			return jsonError(c, http.StatusBadRequest, verr.Error())
		case errors.Is(err, service.ErrPayloadTooLarge):
			return jsonError(c, http.StatusRequestEntityTooLarge, "Upload too large")
		case errors.Is(err, service.ErrUnavailable):
			return jsonError(c, http.StatusServiceUnavailable, "Service is shutting down")
		}
		logger.Errorf("submit failed: %v", err)
		return jsonError(c, http.StatusInternalServerError, "Internal Server Error")
	}

	msg := "Job queued"
	if res.QueuePosition <= s.maxConcurrent {
		msg = "Processing started"
	}
	return c.JSON(http.StatusOK, ProcessResponse{
		JobID:         res.ID,
		Message:       msg,
		QueuePosition: res.QueuePosition,
	})
}
