package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"variagen/logger"
	"variagen/service"
)

// CleanResponse points at the cleaned file or bundle.
type CleanResponse struct {
	Success     bool   `json:"success"`
	JobID       string `json:"jobId"`
	DownloadURL string `json:"downloadUrl"`
}

// CleanMetadata handles POST /api/tools/metadata/clean. Every part named
// "files" is stripped of metadata; the result is downloadable like any
// finished job.
func (s *Server) CleanMetadata(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return jsonError(c, http.StatusRequestEntityTooLarge, "Upload too large")
		}
		return jsonError(c, http.StatusBadRequest, "No files provided")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return jsonError(c, http.StatusBadRequest, "No files provided")
	}

	files := make([]service.CleanFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(files)
			logger.Errorf("failed to open uploaded file: %v", err)
			return jsonError(c, http.StatusBadRequest, "Unreadable upload")
		}
		files = append(files, service.CleanFile{Payload: f, Filename: fh.Filename})
	}
	defer closeAll(files)

	res, err := s.svc.CleanMetadata(c.Request().Context(), files)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			return jsonError(c, http.StatusBadRequest, verr.Error())
		case errors.Is(err, service.ErrPayloadTooLarge):
			return jsonError(c, http.StatusRequestEntityTooLarge, "Upload too large")
		case errors.Is(err, service.ErrCleanerUnavailable):
			return jsonError(c, http.StatusServiceUnavailable, "Metadata cleaning is not available")
		}
		logger.Errorf("metadata clean failed: %v", err)
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, CleanResponse{
		Success:     true,
		JobID:       res.ID,
		DownloadURL: res.DownloadURL,
	})
}

func closeAll(files []service.CleanFile) {
	for _, f := range files {
		if c, ok := f.Payload.(io.Closer); ok {
			c.Close()
		}
	}
}
