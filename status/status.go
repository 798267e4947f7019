// Package status serves presence query and counters over HTTP.
//
//	GET /devices        all known devices
//	GET /devices/{id}   one device, 404 if never seen
//	GET /stat           ingest counters as JSON
//	GET /metrics        Prometheus exposition
//	GET /debug/vars     expvar
package status

import (
	"context"
	"encoding/json"
	"expvar"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/mobycom/ingest"
	"github.com/temoto/mobycom/log2"
)

const metricNamespace = "mobycom"

type Options struct {
	Log      *log2.Log
	Presence *ingest.PresenceTracker
	Queue    *ingest.Queue
	Stat     *ingest.Stat
	// Registry defaults to new private registry with Go runtime collectors.
	Registry *prometheus.Registry
}

type Server struct {
	log      *log2.Log
	presence *ingest.PresenceTracker
	queue    *ingest.Queue
	stat     *ingest.Stat
	registry *prometheus.Registry
	router   chi.Router
}

func New(opt Options) *Server {
	if opt.Presence == nil || opt.Stat == nil {
		panic("code error status Options.Presence and Stat are mandatory")
	}
	s := &Server{
		log:      opt.Log,
		presence: opt.Presence,
		queue:    opt.Queue,
		stat:     opt.Stat,
		registry: opt.Registry,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.registerMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/devices", s.handleDevices)
	r.Get("/devices/{id}", s.handleDevice)
	r.Get("/stat", s.handleStat)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Handle("/debug/vars", expvar.Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until ctx done or listen error.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "status listen addr=%s", addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errch := make(chan error, 1)
	go func() { errch <- hs.Serve(ln) }()
	s.log.Infof("status http listening %s", ln.Addr())

	select {
	case err := <-errch:
		return errors.Annotate(err, "status serve")
	case <-ctx.Done():
	}
	shutctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutctx); err != nil {
		return errors.Annotate(err, "status shutdown")
	}
	return nil
}

func (s *Server) registerMetrics() {
	factory := promauto.With(s.registry)
	for _, f := range s.stat.Fields() {
		v := f.V
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      metricName(f.Name) + "_total",
			Help:      "Ingest counter " + f.Name + ".",
		}, func() float64 { return float64(v.Value()) })
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "devices",
		Help:      "Devices ever seen by heartbeat.",
	}, func() float64 { return float64(s.presence.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "devices_online",
		Help:      "Devices currently online.",
	}, func() float64 { return float64(countOnline(s.presence.List())) })
	if q := s.queue; q != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "queue_length",
			Help:      "Events waiting for dispatch.",
		}, func() float64 { return float64(q.Len()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "queue_capacity",
			Help:      "Event queue capacity.",
		}, func() float64 { return float64(q.Cap()) })
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presence.List())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))
	p, ok := s.presence.Query(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found", "device_id": id})
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	m := s.stat.Map()
	if s.queue != nil {
		m["queue.length"] = int64(s.queue.Len())
		m["queue.capacity"] = int64(s.queue.Cap())
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("status write err=%v", err)
	}
}

func metricName(s string) string { return strings.NewReplacer(".", "_", "-", "_").Replace(s) }

func countOnline(ps []ingest.Presence) int {
	n := 0
	for _, p := range ps {
		if p.Online {
			n++
		}
	}
	return n
}
