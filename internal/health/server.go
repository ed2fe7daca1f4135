package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (Status, string)
}

type Server struct {
	log       *slog.Logger
	address   string
	server    *http.Server
	checkers  []HealthChecker
	telemetry func() model.TransportHealth
	mu        sync.RWMutex
}

func NewServer(log *slog.Logger, address string) *Server {
	return &Server{
		log:      log,
		address:  address,
		checkers: make([]HealthChecker, 0),
	}
}

func (s *Server) AddChecker(checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

// SetTelemetrySource exposes the transport snapshot on /telemetry.
func (s *Server) SetTelemetrySource(fn func() model.TransportHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = fn
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	r.Get("/telemetry", s.handleTelemetry)

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting health server", slog.String("address", s.address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("health server error", sl.Err(err))
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make([]HealthChecker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:     StatusHealthy,
		Components: make([]ComponentHealth, 0, len(checkers)),
		Timestamp:  time.Now().UTC(),
	}

	for _, checker := range checkers {
		status, message := checker.Check(ctx)
		response.Components = append(response.Components, ComponentHealth{
			Name:    checker.Name(),
			Status:  status,
			Message: message,
		})

		if status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	telemetry := s.telemetry
	s.mu.RUnlock()

	if telemetry == nil {
		http.Error(w, "telemetry not configured", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(telemetry())
}

type TransportHealthChecker struct {
	snapshotFunc func() model.TransportHealth
}

func NewTransportHealthChecker(snapshotFunc func() model.TransportHealth) *TransportHealthChecker {
	return &TransportHealthChecker{snapshotFunc: snapshotFunc}
}

func (c *TransportHealthChecker) Name() string {
	return "telemetry"
}

func (c *TransportHealthChecker) Check(ctx context.Context) (Status, string) {
	snap := c.snapshotFunc()
	if snap.Degraded {
		return StatusDegraded, fmt.Sprintf("state %s, offline queue %d/%d",
			snap.State, snap.OfflineQueueDepth, snap.OfflineQueueMaxItems)
	}
	if !snap.Connected {
		return StatusDegraded, fmt.Sprintf("state %s", snap.State)
	}
	return StatusHealthy, ""
}

const bufferDegradedRatio = 0.8

type BufferHealthChecker struct {
	countFunc func(ctx context.Context) (int64, error)
	maxItems  int
}

func NewBufferHealthChecker(countFunc func(ctx context.Context) (int64, error), maxItems int) *BufferHealthChecker {
	return &BufferHealthChecker{countFunc: countFunc, maxItems: max(1, maxItems)}
}

func (c *BufferHealthChecker) Name() string {
	return "buffer"
}

func (c *BufferHealthChecker) Check(ctx context.Context) (Status, string) {
	count, err := c.countFunc(ctx)
	if err != nil {
		return StatusUnhealthy, err.Error()
	}

	if float64(count)/float64(c.maxItems) >= bufferDegradedRatio {
		return StatusDegraded, fmt.Sprintf("event store at %d/%d", count, c.maxItems)
	}

	return StatusHealthy, ""
}

type StoreIntegrityChecker struct {
	undecodableFunc func() int64
}

func NewStoreIntegrityChecker(undecodableFunc func() int64) *StoreIntegrityChecker {
	return &StoreIntegrityChecker{undecodableFunc: undecodableFunc}
}

func (c *StoreIntegrityChecker) Name() string {
	return "event_store_integrity"
}

func (c *StoreIntegrityChecker) Check(ctx context.Context) (Status, string) {
	if n := c.undecodableFunc(); n > 0 {
		return StatusDegraded, fmt.Sprintf("%d stored events cannot be decoded", n)
	}
	return StatusHealthy, ""
}
