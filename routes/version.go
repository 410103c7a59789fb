package routes

import (
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
)

// Build-time variables (injected by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GitCommit string `json:"git_commit,omitempty"`
}

// Version provides version information about the build
func Version(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{
		Version:   version,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GitCommit: gitCommit,
	})
}

// BuildVersion returns the version string injected at build time.
func BuildVersion() string {
	return version
}
