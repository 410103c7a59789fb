// Package routes maps the HTTP API onto the service layer.
package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"variagen/job"
	"variagen/jobstore"
	"variagen/logger"
	"variagen/metrics"
	"variagen/service"
)

// StatsSource reports scheduler occupancy.
type StatsSource interface {
	Stats() job.Stats
}

type Options struct {
	Service *service.Service
	Store   jobstore.Store
	Stats   StatsSource

	// PublicBaseURL prefixes signed download links. When empty the
	// request's scheme and host are used.
	PublicBaseURL  string
	MaxUploadBytes int64
	MaxConcurrent  int
}

type Server struct {
	svc            *service.Service
	store          jobstore.Store
	stats          StatsSource
	publicBaseURL  string
	maxUploadBytes int64
	maxConcurrent  int
}

func New(o Options) *Server {
	s := &Server{
		svc:            o.Service,
		store:          o.Store,
		stats:          o.Stats,
		publicBaseURL:  o.PublicBaseURL,
		maxUploadBytes: o.MaxUploadBytes,
		maxConcurrent:  o.MaxConcurrent,
	}
	if s.maxConcurrent < 1 {
		s.maxConcurrent = 1
	}
	return s
}

// NewEcho returns an echo instance with middleware and every route
// registered.
func NewEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(requestLogger())
	s.Register(e)
	return e
}

// Register adds the routes to e.
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/process", s.Process, s.bodyLimit())
	api.GET("/status/:id", s.Status)
	api.GET("/download/:id", s.Download)
	api.POST("/download/:id/link", s.CreateLink)
	api.GET("/d/:token", s.DownloadToken)
	api.POST("/tools/metadata/clean", s.CleanMetadata, s.bodyLimit())

	e.GET("/health", s.Health)
	e.GET("/version", Version)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// bodyLimit leaves room for the multipart envelope around the file.
func (s *Server) bodyLimit() echo.MiddlewareFunc {
	if s.maxUploadBytes <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.BodyLimit(fmt.Sprintf("%dK", s.maxUploadBytes/1024+64))
}

func requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := logger.WithFields(logger.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.Round(time.Millisecond).String(),
			})
			switch {
			case v.Error != nil:
				entry.Errorf("request failed: %v", v.Error)
			case v.Status >= http.StatusInternalServerError:
				entry.Errorf("request failed")
			default:
				entry.Debugf("request served")
			}
			return nil
		},
	})
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}
