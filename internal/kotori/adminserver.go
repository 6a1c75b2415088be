package kotori

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer exposes an operator-facing HTTP surface: /healthz for
// liveness plus a dispatcher snapshot, and /metrics for Prometheus
// scraping. It never serves a page or cover byte; that is the desktop
// shell's asset server, a separate concern.
type AdminServer struct {
	dispatcher *Dispatcher
	router     chi.Router
}

// healthStatus is the /healthz response body.
type healthStatus struct {
	Status           string `json:"status"`
	Worker           string `json:"worker"`
	ActorPoolSize    int    `json:"actor_pool_size"`
	DispatcherRoutes int    `json:"dispatcher_routes"`
}

// NewAdminServer constructs the admin HTTP surface: a small handler set
// registered on a chi.Mux with the standard request-id/recoverer
// middleware.
func NewAdminServer(dispatcher *Dispatcher, reg prometheus.Gatherer) *AdminServer {
	s := &AdminServer{dispatcher: dispatcher}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	if reg == nil {
		reg = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.dispatcher.Snapshot()

	worker := "idle"
	if status := s.dispatcher.Status(); !status.Idle {
		worker = "busy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthStatus{
		Status:           "ok",
		Worker:           worker,
		ActorPoolSize:    snap.ActorPoolSize,
		DispatcherRoutes: snap.DispatcherRoutes,
	})
}
