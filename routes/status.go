package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"variagen/logger"
	"variagen/service"
)

// Status handles GET /api/status/:id.
func (s *Server) Status(c echo.Context) error {
	view, err := s.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "Job not found")
		}
		logger.Errorf("status lookup failed: %v", err)
		return jsonError(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, view)
}
