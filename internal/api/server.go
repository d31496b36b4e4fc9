// Package api maps the query and health services onto HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/TimurManjosov/querygate/internal/health"
	"github.com/TimurManjosov/querygate/internal/query"
	"github.com/TimurManjosov/querygate/internal/telemetry"
)

// maxQueryBodyBytes caps POST /api/query bodies.
const maxQueryBodyBytes = 1 << 20

// QueryExecutor runs one query request.
type QueryExecutor interface {
	Execute(ctx context.Context, req query.Request) (*query.Result, error)
}

// HealthChecker reports database reachability. It must not block indefinitely.
type HealthChecker interface {
	Check(ctx context.Context) health.Status
}

// Options configure the router.
type Options struct {
	StaticDir      string // served for non-API paths; empty disables static serving
	RateLimitPerIP int    // POST /api/query requests per minute per client IP; 0 disables
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

type Server struct {
	queries QueryExecutor
	health  HealthChecker
	opts    Options
}

func NewServer(q QueryExecutor, h HealthChecker, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{queries: q, health: h, opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(hlog.NewHandler(s.opts.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			NotFoundError(w, r, "Unknown API endpoint")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			MethodNotAllowedError(w, r, "Method not allowed")
		})
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.opts.RateLimitPerIP > 0 {
				r.Use(httprate.Limit(
					s.opts.RateLimitPerIP,
					time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						RateLimitedError(w, r, "Too many queries, slow down")
					}),
				))
			}
			r.Post("/query", s.handleQuery)
		})
	})

	r.Get("/*", s.handleStatic)
	r.Head("/*", s.handleStatic)

	return r
}

// requestIDLogger copies chi's request id onto the request logger.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	evt := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		evt = hlog.FromRequest(r).Warn()
	}
	evt.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
