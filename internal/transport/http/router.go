// Package httptransport assembles the HTTP surface: middleware chain,
// health and metrics endpoints, and the wallet routes.
package httptransport

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/platform/middleware"
	"custodia/internal/platform/redis"
	walletHandler "custodia/internal/wallet/handler"
	"custodia/pkg/platform/httputil"
)

// Dependencies carries what the router needs beyond the feature handlers.
type Dependencies struct {
	Wallet    *walletHandler.Handler
	Validator middleware.TokenValidator
	Logger    *slog.Logger
	DB        *sql.DB
	Redis     *redis.Client
}

// NewRouter wires the middleware chain and mounts all routes. Health and
// metrics stay outside the auth boundary; everything under /wallets requires
// a valid bearer token.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		deps.Wallet.Register(r)
	})

	return r
}

// handleHealth reports liveness plus the state of optional backends.
func handleHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		healthy := true

		if deps.DB != nil {
			if err := deps.DB.PingContext(r.Context()); err != nil {
				status["postgres"] = "unavailable"
				healthy = false
			} else {
				status["postgres"] = "ok"
			}
		}
		if deps.Redis != nil {
			if err := deps.Redis.Health(r.Context()); err != nil {
				status["redis"] = "unavailable"
				healthy = false
			} else {
				status["redis"] = "ok"
			}
		}

		code := http.StatusOK
		if !healthy {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}
