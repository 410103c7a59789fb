package routes

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"variagen/job"
	"variagen/logger"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	Uptime    string    `json:"uptime"`
	StartTime string    `json:"start_time"`
	Jobs      job.Stats `json:"jobs"`
	Store     string    `json:"store"`
}

// Global start time for uptime calculation
var startTime = time.Now()

// formatUptime formats a duration into days, hours, minutes, seconds
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// Health reports process and job database health. An unreachable store
// turns the reply into a 503; jobs stuck in processing mark it degraded.
func (s *Server) Health(c echo.Context) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version,
		GoVersion: runtime.Version(),
		Uptime:    formatUptime(time.Since(startTime)),
		StartTime: startTime.Format("2006-01-02 15:04:05 MST"),
		Store:     "ok",
	}
	if s.stats != nil {
		response.Jobs = s.stats.Stats()
		if response.Jobs.Stranded > 0 {
			response.Status = "degraded"
		}
	}

	status := http.StatusOK
	if s.store != nil {
		if err := s.store.CheckHealth(); err != nil {
			logger.Errorf("health check: %v", err)
			response.Status = "unhealthy"
			response.Store = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	return c.JSON(status, response)
}
