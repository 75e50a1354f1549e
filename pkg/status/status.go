// Package status serves health, component status and Prometheus metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/chainetl/chainetl/pkg/logging"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Reporter is any long-running component that can describe itself.
type Reporter interface {
	Status() any
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func() any

func (f ReporterFunc) Status() any { return f() }

type Server struct {
	reporters *xsync.Map[string, Reporter]
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	server    *http.Server
}

func New(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		reporters: xsync.NewMap[string, Reporter](),
		gatherer:  gatherer,
		logger:    logging.OrNop(logger),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Register adds or replaces a named reporter.
func (s *Server) Register(name string, r Reporter) {
	s.reporters.Store(name, r)
}

func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.HandleStatus).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, s.reporters.Size())
	s.reporters.Range(func(name string, _ Reporter) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	out := make(map[string]any, len(names))
	for _, name := range names {
		if r, ok := s.reporters.Load(name); ok {
			out[name] = r.Status()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until Shutdown. An empty address disables the server.
func (s *Server) Start() {
	if s.server.Addr == "" {
		return
	}
	s.logger.Info("Starting status server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server.Addr == "" {
		return nil
	}
	return s.server.Shutdown(ctx)
}
