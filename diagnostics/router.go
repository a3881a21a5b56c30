// Package diagnostics serves a read-only HTTP view of a built provider: its
// compiled graph, its tenants and the engine metrics.
package diagnostics

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sghaida/odigraph/di"
)

// GraphResponse is the body of the graph endpoints.
type GraphResponse struct {
	Provider string         `json:"provider"`
	Tenant   string         `json:"tenant,omitempty"`
	Tenants  []string       `json:"tenants,omitempty"`
	Models   []di.ModelInfo `json:"models"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Router wires the diagnostics endpoints.
type Router struct {
	provider *di.Provider
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewRouter creates a router over p. gatherer may be nil, in which case
// /metrics is not mounted.
func NewRouter(p *di.Provider, gatherer prometheus.Gatherer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{provider: p, gatherer: gatherer, logger: logger}
}

// Setup configures routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(rt.logger))

	router.Get("/healthz", rt.health)
	router.Route("/graph", func(r chi.Router) {
		r.Get("/", rt.graph)
		r.Get("/tenants/{tenant}", rt.tenantGraph)
	})
	if rt.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": rt.provider.ID().String(),
	})
}

func (rt *Router) graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, GraphResponse{
		Provider: rt.provider.ID().String(),
		Tenants:  rt.provider.Tenants(),
		Models:   rt.provider.Describe(),
	})
}

func (rt *Router) tenantGraph(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tenant")
	tp, err := rt.provider.GetTenant(name)
	if err != nil {
		status := http.StatusInternalServerError
		var unknown di.UnknownTenantError
		if errors.As(err, &unknown) {
			status = http.StatusNotFound
		}
		rt.fail(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, GraphResponse{
		Provider: tp.ID().String(),
		Tenant:   tp.Tenant(),
		Models:   tp.Describe(),
	})
}

func (rt *Router) fail(w http.ResponseWriter, status int, err error) {
	code, ok := di.CodeOf(err)
	if !ok {
		code = "INTERNAL"
	}
	rt.logger.Debug("diagnostics request failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("diagnostics request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
