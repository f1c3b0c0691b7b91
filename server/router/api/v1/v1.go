// Package v1 serves the JSON HTTP API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/marketsense/server/internal/observability"
	"github.com/hrygo/marketsense/server/middleware"
	"github.com/hrygo/marketsense/server/service/answer"
	"github.com/hrygo/marketsense/server/service/conversation"
)

// APIV1Service holds the handlers of the v1 API.
type APIV1Service struct {
	Secret       string
	Version      string
	Answer       *answer.Service
	Conversation conversation.Service
	// RateLimiter, HTTPMetrics and Gatherer are optional.
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *observability.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

// Register mounts every route on e.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.Use(s.metricsMiddleware)
	e.GET("/healthz", s.Healthz)
	if s.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/api/v1", s.authMiddleware, s.rateLimitMiddleware)
	g.POST("/chat", s.Chat)
	g.GET("/threads", s.ListThreads)
	g.GET("/threads/:id/messages", s.ListMessages)
	g.POST("/threads/:id/archive", s.ArchiveThread)
	g.DELETE("/messages/:id", s.DeleteMessage)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Healthz reports liveness.
// GET /healthz
func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Version: s.Version})
}
