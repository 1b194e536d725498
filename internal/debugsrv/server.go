// Package debugsrv serves the optional operational HTTP endpoint:
// /healthz, Prometheus /metrics and the pprof handlers. Bind it to
// loopback; it carries no authentication.
package debugsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ewsbot/internal/cache"
	"ewsbot/internal/metrics"
)

type Server struct {
	log   zerolog.Logger
	srv   *http.Server
	ln    net.Listener
	cache *cache.Store
}

// New returns nil if addr is empty (debug server disabled).
func New(addr string, m *metrics.Metrics, store *cache.Store, log zerolog.Logger) (*Server, error) {
	if addr == "" {
		return nil, nil
	}

	s := &Server{log: log.With().Str("comp", "debugsrv").Logger(), cache: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No write timeout: /debug/pprof/profile legitimately takes 30s+.
	}
	return s, nil
}

func (s *Server) Start() {
	s.log.Info().Str("addr", s.ln.Addr().String()).Msg("debug server listening")
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn().Err(err).Msg("debug server error")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("debug server shutdown")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.cache.Ready() {
		http.Error(w, "waiting for first successful refresh", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok last_fetch=" + s.cache.FetchedAt().UTC().Format(time.RFC3339)))
}
