// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health exposes liveness, readiness, and stats endpoints for the
// replay subscriber.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Source reports the subscriber state the endpoints expose.
type Source interface {
	Queue() string
	FlowState() string
	Delivered() int64
	Threshold() int64
}

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server provides health check endpoints for monitoring and orchestration.
type Server struct {
	config   Config
	source   Source
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a new health check server backed by the given source.
func New(cfg Config, src Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		source: src,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's network address.
// Returns "" if server hasn't started listening yet.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen starts the health check server and blocks until ctx is canceled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("Starting health check server", "address", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Health check server shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health check server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Health check server stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements liveness probe.
// Returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status: "healthy",
	})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// handleReady implements readiness probe.
// Returns 200 OK once the subscriber's flow is bound.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if s.source == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ReadyResponse{
			Status:  "not_ready",
			Details: "subscriber not initialized",
		})
		return
	}

	if state := s.source.FlowState(); state != "bound" {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ReadyResponse{
			Status:  "not_ready",
			Details: "flow is " + state,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status: "ready",
	})
}

// StatsResponse reports consumption progress.
type StatsResponse struct {
	Queue     string `json:"queue"`
	FlowState string `json:"flow_state"`
	Delivered int64  `json:"delivered"`
	Threshold int64  `json:"threshold"`
}

// handleStats returns consumption progress for the bound queue.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if s.source == nil {
		http.Error(w, "subscriber not initialized", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(StatsResponse{
		Queue:     s.source.Queue(),
		FlowState: s.source.FlowState(),
		Delivered: s.source.Delivered(),
		Threshold: s.source.Threshold(),
	})
}
