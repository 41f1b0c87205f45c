// Package httptransport assembles the verifier's public HTTP surface.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"web3id/pkg/platform/middleware/request"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

// Config tunes the middleware stack.
type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	LogHeaders     bool
	Metrics        *request.Metrics
}

// NewRouter wires the given route groups behind the shared middleware and a
// permissive CORS policy. Browsers on any origin may POST presentations.
func NewRouter(cfg Config, logger *slog.Logger, routes ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger, request.WithHeaders(cfg.LogHeaders)))
	r.Use(request.LatencyMiddleware(cfg.Metrics))
	if cfg.MaxBodyBytes > 0 {
		r.Use(request.BodyLimit(cfg.MaxBodyBytes))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(request.Timeout(cfg.RequestTimeout))
	}
	r.Use(request.ContentTypeJSON)

	for _, group := range routes {
		group.Register(r)
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Request-ID", "X-Expected-Challenge"},
	}).Handler(r)
}
