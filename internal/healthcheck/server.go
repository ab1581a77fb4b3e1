// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Readiness conditions set by the serve command.
const (
	ConditionDataset = "dataset_loaded"
	ConditionGRPC    = "grpc_serving"
)

const DefaultPort = 8090

type Response struct {
	Healthy    bool            `json:"healthy"`
	Status     string          `json:"status,omitempty"`
	Conditions map[string]bool `json:"conditions,omitempty"`
}

// Server answers the kubelet style /healthz, /readyz and /livez health endpoints.
type Server struct {
	port       int
	status     atomic.Int32
	mu         sync.RWMutex
	conditions map[string]bool
}

// NewServer returns a server for port. Zero selects DefaultPort; a negative
// port disables listening while keeping the status bookkeeping usable.
func NewServer(port int) *Server {
	if port == 0 {
		port = DefaultPort
	}
	return &Server{
		port:       port,
		conditions: map[string]bool{},
	}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

// SetReadyCondition sets a named readiness condition. The server is ready
// once its status is healthy and every registered condition is true.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.mu.Lock()
	prev, known := s.conditions[name]
	s.conditions[name] = ready
	s.mu.Unlock()
	if !known || prev != ready {
		slog.Info("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
	}
}

func (s *Server) ClearReadyCondition(name string) {
	s.mu.Lock()
	delete(s.conditions, name)
	s.mu.Unlock()
}

func (s *Server) snapshot() (map[string]bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.conditions))
	ready := true
	for k, v := range s.conditions {
		out[k] = v
		ready = ready && v
	}
	return out, ready
}

func (s *Server) IsReady() bool {
	if s.GetStatus() != StatusHealthy {
		return false
	}
	_, ready := s.snapshot()
	return ready
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.HandleFunc("/livez", s.livezHandler)
	return mux
}

// Run serves the health endpoints until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.port < 0 {
		<-ctx.Done()
		return nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("health check listen on port %d: %w", s.port, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))
	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(lis)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health check server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Stopping health check server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.GetStatus()
	writeResponse(w, Response{Healthy: status == StatusHealthy, Status: status.String()})
}

func (s *Server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	conditions, _ := s.snapshot()
	writeResponse(w, Response{Healthy: s.IsReady(), Status: s.GetStatus().String(), Conditions: conditions})
}

func (s *Server) livezHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.GetStatus()
	writeResponse(w, Response{Healthy: status != StatusUnhealthy, Status: status.String()})
}

func writeResponse(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	if response.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
