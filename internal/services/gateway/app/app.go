// Package app is the node-local HTTP surface: status, manual clock control,
// history, health and metrics.
package app

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	vc "github.com/LeonardoBeccarini/irrigation_node/internal/services/valve-controller"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
)

type Config struct {
	// Timeout bounds a command waiting for the control loop.
	Timeout time.Duration

	// Optional handlers; nil routes answer 404.
	History http.Handler
	Health  http.Handler
	Ready   http.Handler
	Metrics http.Handler

	Logger *zerolog.Logger
}

type Gateway struct {
	cfg   Config
	admin vc.Admin
	log   zerolog.Logger
}

func NewGateway(admin vc.Admin, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := log.WithComponent("http")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Gateway{cfg: cfg, admin: admin, log: logger}
}

// Routes builds the mux.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", g.HandleStatus)
	mux.HandleFunc("POST /clock", g.HandleSetClock)
	mux.HandleFunc("POST /clock/sync", g.HandleSyncClock)

	optional := map[string]http.Handler{
		"/history": g.cfg.History,
		"/healthz": g.cfg.Health,
		"/readyz":  g.cfg.Ready,
		"/metrics": g.cfg.Metrics,
	}
	for path, h := range optional {
		if h != nil {
			mux.Handle(path, h)
		}
	}
	return g.logRequests(mux)
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		g.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
