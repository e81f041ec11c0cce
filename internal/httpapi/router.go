// Package httpapi exposes an authcore.Engine over HTTP with chi.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// Dependencies configures NewRouter. Engine is required.
type Dependencies struct {
	Engine *authcore.Engine
	Logger *slog.Logger
	// BasePath prefixes the auth and user routes. Health and metrics stay at the root.
	BasePath       string
	DefaultTenant  string
	TrustForwarded bool
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Now     func() time.Time
}

// API holds the handlers.
type API struct {
	engine        *authcore.Engine
	defaultTenant string
	now           func() time.Time
}

// NewRouter mounts the auth routes under dep.BasePath. Routes that need a caller identity
// sit behind middleware.Guard.
func NewRouter(dep Dependencies) http.Handler {
	logger := dep.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	api := &API{engine: dep.Engine, defaultTenant: dep.DefaultTenant, now: dep.Now}
	if api.now == nil {
		api.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.ClientIP(dep.TrustForwarded))
	r.Use(requestLogger(logger))

	r.Get("/health/live", api.live)
	r.Get("/health/ready", api.ready)
	if dep.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", dep.Metrics)
	}

	routes := func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", api.signup)
			r.Post("/token", api.token)
			r.Post("/refresh", api.refresh)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(dep.Engine))
				r.Post("/logout", api.logout)
				r.Post("/logout-all", api.logoutAll)
				r.Post("/change-password", api.changePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(dep.Engine))
			r.Get("/users/me", api.me)
			r.Get("/protected-route", api.protected)
		})
	}

	if dep.BasePath == "" || dep.BasePath == "/" {
		routes(r)
	} else {
		r.Route(dep.BasePath, routes)
	}
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("client_ip", authcore.ClientIPFromContext(r.Context())),
			)
		})
	}
}
