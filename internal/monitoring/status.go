package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/docrelay/internal/intake"
	"github.com/conneroisu/docrelay/internal/logging"
	"github.com/conneroisu/docrelay/internal/version"
)

// StatusResponse is the body of GET /healthz.
type StatusResponse struct {
	HealthResponse
	Version string       `json:"version"`
	Intake  intake.Stats `json:"intake"`
}

// StatusServer serves /healthz and the /events outcome stream.
type StatusServer struct {
	addr   string
	health *HealthMonitor
	stats  StatsSource
	hub    *EventHub
	logger logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewStatusServer creates a server for addr. health and hub may be nil.
func NewStatusServer(addr string, health *HealthMonitor, stats StatsSource, hub *EventHub, logger logging.Logger) *StatusServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StatusServer{
		addr:   addr,
		health: health,
		stats:  stats,
		hub:    hub,
		logger: logger.WithComponent("status_server"),
	}
}

// Handler returns the routes.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.hub != nil {
		mux.Handle("GET /events", s.hub)
	}
	return mux
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Version: version.GetVersion()}
	if s.health != nil {
		resp.HealthResponse = s.health.Check(r.Context())
	} else {
		resp.HealthResponse = HealthResponse{Status: HealthStatusUnknown, Timestamp: time.Now()}
	}
	if s.stats != nil {
		resp.Intake = s.stats.Stats()
	}

	if err := writeJSON(w, HTTPStatus(resp.Status), resp); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode health response")
	}
}

// Start listens on the configured address and serves in the background.
func (s *StatusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.done = make(chan struct{})
	server, done := s.server, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "Status server error")
		}
	}()

	s.logger.Info(ctx, "Status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *StatusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown closes subscribers and stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server, done := s.server, s.done
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	if s.hub != nil {
		s.hub.Close()
	}
	err := server.Shutdown(ctx)
	<-done
	return err
}
