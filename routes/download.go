package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"variagen/logger"
	"variagen/service"
	"variagen/utils"
)

// Download handles GET /api/download/:id.
func (s *Server) Download(c echo.Context) error {
	dl, err := s.svc.Open(c.Request().Context(), c.Param("id"))
	if err != nil {
		return downloadError(c, err)
	}
	return serveArchive(c, dl)
}

// DownloadToken handles GET /api/d/:token, the target of signed links.
func (s *Server) DownloadToken(c echo.Context) error {
	dl, err := s.svc.OpenToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrTokenExpired):
			return jsonError(c, http.StatusGone, "Link expired")
		case errors.Is(err, utils.ErrInvalidToken),
			errors.Is(err, utils.ErrInvalidSignature),
			errors.Is(err, utils.ErrInvalidIssuer),
			errors.Is(err, utils.ErrTokenNotYetValid):
			return jsonError(c, http.StatusForbidden, "Invalid link")
		}
		return downloadError(c, err)
	}
	return serveArchive(c, dl)
}

// CreateLink handles POST /api/download/:id/link.
func (s *Server) CreateLink(c echo.Context) error {
	link, err := s.svc.CreateLink(c.Request().Context(), c.Param("id"), s.baseURL(c))
	if err != nil {
		return downloadError(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

func (s *Server) baseURL(c echo.Context) string {
	if s.publicBaseURL != "" {
		return strings.TrimRight(s.publicBaseURL, "/")
	}
	return fmt.Sprintf("%s://%s", c.Scheme(), c.Request().Host)
}

func downloadError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return jsonError(c, http.StatusNotFound, "File not ready")
	case errors.Is(err, service.ErrFileMissing):
		logger.Warnf("download: %v", err)
		return jsonError(c, http.StatusNotFound, "File missing on server")
	}
	logger.Errorf("download failed: %v", err)
	return jsonError(c, http.StatusInternalServerError, "Internal Server Error")
}

func serveArchive(c echo.Context, dl *service.Download) error {
	defer dl.File.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", dl.Name))
	http.ServeContent(c.Response(), c.Request(), dl.Name, dl.ModTime, dl.File)
	return nil
}
