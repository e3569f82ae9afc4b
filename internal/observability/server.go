// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package observability provides HTTP endpoints for metrics and health probes.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the gateway is ready to admit players.
// Wired to world readiness: the probe fails until the save is loaded.
type ReadinessChecker func() bool

// transportRetries is a package-level counter for retried sidecar requests.
// The HTTP transport increments it without needing access to the Server.
var transportRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gateway_transport_retries_total",
		Help: "Total number of retried identity sidecar requests",
	},
)

// RecordTransportRetry increments the transport retry counter. Called by the
// retrying HTTP transport each time a request is re-attempted.
func RecordTransportRetry() {
	transportRetries.Inc()
}

// Metrics contains the gateway's Prometheus metrics.
type Metrics struct {
	SlotListings     *prometheus.CounterVec
	Claims           *prometheus.CounterVec
	SpawnRedirects   prometheus.Counter
	PasswordAttempts *prometheus.CounterVec
	Kicks            prometheus.Counter
	TicketFetches    *prometheus.CounterVec
	ChatCommands     *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SlotListings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_slot_listings_total",
				Help: "Total number of slot listing requests by outcome",
			},
			[]string{"outcome"},
		),
		Claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_claims_total",
				Help: "Total number of slot claim attempts by outcome",
			},
			[]string{"outcome"},
		),
		SpawnRedirects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_spawn_redirects_total",
				Help: "Total number of spawns redirected to the holding area",
			},
		),
		PasswordAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_password_attempts_total",
				Help: "Total number of password submissions by result and transport",
			},
			[]string{"result", "transport"},
		),
		Kicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_kicks_total",
				Help: "Total number of connections kicked for exceeding the attempt limit",
			},
		),
		TicketFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ticket_fetches_total",
				Help: "Total number of app ticket fetches by result",
			},
			[]string{"result"},
		),
		ChatCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_chat_commands_total",
				Help: "Total number of chat command executions by command and status",
			},
			[]string{"command", "status"},
		),
	}

	reg.MustRegister(m.SlotListings)
	reg.MustRegister(m.Claims)
	reg.MustRegister(m.SpawnRedirects)
	reg.MustRegister(m.PasswordAttempts)
	reg.MustRegister(m.Kicks)
	reg.MustRegister(m.TicketFetches)
	reg.MustRegister(m.ChatCommands)
	reg.MustRegister(transportRetries)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Own registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the gateway metrics for recording admission events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Buffered so the serve goroutine never blocks on the send
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// CompareAndSwap so a concurrent Start() cannot slip in between checking
	// the running state and clearing it.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the world is loaded and the gateway can
// admit players, 503 before that.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
