// Package routes registers the HTTP routes.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/scanmerge/internal/config"
	infrahttp "github.com/openctemio/scanmerge/internal/infra/http"
	"github.com/openctemio/scanmerge/internal/infra/http/handler"
	"github.com/openctemio/scanmerge/internal/infra/http/middleware"
	"github.com/openctemio/scanmerge/pkg/inflate"
)

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health  *handler.HealthHandler
	Upload  *handler.UploadHandler
	History *handler.HistoryHandler
	Rule    *handler.RuleHandler
}

// UploadGuards are the middlewares placed in front of report uploads.
type UploadGuards struct {
	// RateLimit limits uploads per submitting identity. Nil disables it.
	RateLimit Middleware
	// MaxBodySize caps the compressed request body.
	MaxBodySize int64
	// Limits bound the decompressed body.
	Limits inflate.Limits
}

// NewUploadGuards builds the upload middleware from configuration.
func NewUploadGuards(cfg *config.Config, rateLimit Middleware) UploadGuards {
	return UploadGuards{
		RateLimit:   rateLimit,
		MaxBodySize: cfg.Server.MaxBodySize,
		Limits: inflate.Limits{
			MaxCompressedSize:   cfg.Ingest.MaxCompressedSize,
			MaxDecompressedSize: cfg.Ingest.MaxDecompressedSize,
			MaxRatio:            cfg.Ingest.MaxRatio,
		},
	}
}

// Register registers all application routes.
func Register(router Router, h Handlers, guards UploadGuards) {
	registerHealthRoutes(router, h.Health)

	router.Group("/api/v1/ws/{workspace}", func(r Router) {
		if h.Upload != nil {
			uploadMw := []Middleware{middleware.BodyLimit(guards.MaxBodySize), middleware.Decompress(guards.Limits)}
			if guards.RateLimit != nil {
				uploadMw = append([]Middleware{guards.RateLimit}, uploadMw...)
			}
			r.POST("/upload_report", h.Upload.Upload, uploadMw...)
		}

		if h.History != nil {
			r.GET("/hosts/{id}/tools_history", h.History.HostToolsHistory)
			r.GET("/services/{id}/tools_history", h.History.ServiceToolsHistory)
			r.GET("/hosts/{id}/vulns/count", h.History.HostVulnCount)
		}

		if h.Rule != nil {
			jsonLimit := middleware.BodyLimit(guards.MaxBodySize)
			r.POST("/rules/run", h.Rule.Run, jsonLimit)
			r.GET("/rules", h.Rule.List)
			r.POST("/rules", h.Rule.Create, jsonLimit)
			r.PATCH("/rules/{id}", h.Rule.Update, jsonLimit)
			r.DELETE("/rules/{id}", h.Rule.Delete)
		}
	}, middleware.Workspace())
}

// registerHealthRoutes registers health and metrics endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	if h == nil {
		h = handler.NewHealthHandler()
	}
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}
