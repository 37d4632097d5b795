// Package server is the HTTP transport adapter: it exposes every registered
// service method as a route, runs requests through the shared pipeline, and
// renders envelopes and domain errors back to the wire.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/metrics"
	"github.com/semilimes/sgateway/pkg/contextx"
)

// route is one line of the root index.
type route struct {
	URI     string   `json:"uri"`
	Methods []string `json:"methods"`
}

// Probe reports one dependency's availability.
type Probe func(ctx context.Context) error

// Server serves the gateway's HTTP surface: service methods under
// /{service}/v{version}/{method}, webhooks under /_webhooks/, the
// introspection endpoints, the root index, /health and /metrics.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *gateway.Registry
	pipeline *gateway.Pipeline

	mux    *http.ServeMux
	routes []route
	probes map[string]Probe
}

// New builds the server and its routing table from the registry.
func New(cfg *config.Config, log *zap.Logger, registry *gateway.Registry, pipeline *gateway.Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.With(zap.String("module", "server")),
		registry: registry,
		pipeline: pipeline,
		mux:      http.NewServeMux(),
	}
	s.registerServiceRoutes()
	s.registerCommonRoutes()
	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetProbes installs named dependency probes reported by /health.
func (s *Server) SetProbes(probes map[string]Probe) {
	s.probes = probes
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second, // Mitigate Slowloris
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerServiceRoutes() {
	for _, svc := range s.registry.Services() {
		for _, method := range svc.Methods() {
			prefix := "/"
			if method.Webhook {
				prefix = "/_webhooks/"
			}
			uri := fmt.Sprintf("%s%s/v%d/%s", prefix, svc.Name(), svc.Version(), method.Name)

			s.mux.HandleFunc(method.HTTPMethod+" "+uri, s.serveCall(svc, method))
			s.routes = append(s.routes, route{URI: uri, Methods: []string{method.HTTPMethod}})
		}
	}
}

func (s *Server) registerCommonRoutes() {
	s.mux.HandleFunc("GET /{$}", s.serveIndex)
	s.mux.HandleFunc("GET /services/_schema", s.serveCatalog)
	s.mux.HandleFunc("GET /services/{name}/{version}", s.serveServiceSchema)
	s.mux.HandleFunc("GET /health", s.serveHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.routes = append(s.routes,
		route{URI: "/", Methods: []string{"GET"}},
		route{URI: "/services/_schema", Methods: []string{"GET"}},
		route{URI: "/services/{name}/v{version}", Methods: []string{"GET"}},
		route{URI: "/health", Methods: []string{"GET"}},
		route{URI: "/metrics", Methods: []string{"GET"}},
	)
}

// serveCall adapts one service method into an http handler.
func (s *Server) serveCall(svc *gateway.Service, method *gateway.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		log := s.log.With(zap.String("request_id", requestID))
		ctx := contextx.WithRequestID(r.Context(), requestID)

		req := gateway.NewRequest(svc, method, newHTTPRequest(r), method.Webhook)

		start := time.Now()
		resp, err := s.pipeline.Execute(ctx, req)

		code := "ok"
		if err != nil {
			code = gateway.FromError(err).Code
		}
		metrics.RequestsTotal.WithLabelValues(svc.Name(), method.Name, code).Inc()
		metrics.RequestDuration.WithLabelValues(svc.Name(), method.Name).
			Observe(time.Since(start).Seconds())

		s.render(w, log, resp, err)
	}
}

func (s *Server) serveCatalog(w http.ResponseWriter, _ *http.Request) {
	services := s.registry.Services()
	catalog := make([]gateway.ServiceSchema, 0, len(services))
	for _, svc := range services {
		catalog = append(catalog, svc.IntrospectionSchema())
	}
	s.writeJSON(w, s.log, http.StatusOK, catalog)
}

func (s *Server) serveServiceSchema(w http.ResponseWriter, r *http.Request) {
	version, ok := parseVersion(r.PathValue("version"))
	if !ok {
		s.renderError(w, s.log, gateway.NewServiceNotFoundError(""))
		return
	}
	svc, ok := s.registry.Service(r.PathValue("name"), version)
	if !ok {
		s.renderError(w, s.log, gateway.NewServiceNotFoundError(""))
		return
	}
	s.writeJSON(w, s.log, http.StatusOK, svc.IntrospectionSchema())
}

// serveIndex renders the route table and the enabled services with their
// providers, as an HTML-escaped JSON dump.
func (s *Server) serveIndex(w http.ResponseWriter, _ *http.Request) {
	enabled := make(map[string]interface{})
	for _, svc := range s.registry.Services() {
		providers := make([]string, 0, len(svc.Providers()))
		for _, p := range svc.Providers() {
			providers = append(providers, p.Name())
		}
		enabled[fmt.Sprintf("%s_v%d", svc.Name(), svc.Version())] = map[string]interface{}{
			"providers": providers,
		}
	}
	s.writeIndex(w, map[string]interface{}{
		"routes":           s.routes,
		"enabled_services": enabled,
	})
}

// serveHealth reports liveness, with one line per installed dependency
// probe. A failing probe degrades the status but keeps the endpoint at 200:
// the process itself is alive.
func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if len(s.probes) > 0 {
		components := make(map[string]string, len(s.probes))
		for name, probe := range s.probes {
			if err := probe(r.Context()); err != nil {
				components[name] = err.Error()
				body["status"] = "degraded"
				continue
			}
			components[name] = "ok"
		}
		body["components"] = components
	}
	s.writeJSON(w, s.log, http.StatusOK, body)
}

// parseVersion reads the "v1" path segment form.
func parseVersion(segment string) (int, bool) {
	trimmed, found := strings.CutPrefix(segment, "v")
	if !found {
		return 0, false
	}
	version, err := strconv.Atoi(trimmed)
	if err != nil || version < 1 {
		return 0, false
	}
	return version, true
}
