package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServerConfig configures the listener-facing HTTP server
type ServerConfig struct {
	Port      int
	IndexPath string // optional player page; a built-in page is served when empty or missing
}

// Server serves the websocket endpoint and status pages for one station.
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	gatherer prometheus.Gatherer
	router   chi.Router
}

// NewServer creates a server for hub. Metrics are served from gatherer when
// it is non-nil.
func NewServer(hub *Hub, cfg ServerConfig, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		hub:      hub,
		cfg:      cfg,
		gatherer: gatherer,
	}
	s.router = s.routes()
	return s
}

// WebSocketPath is the listener endpoint for station.
func WebSocketPath(station int) string {
	return fmt.Sprintf("/ws/station%d", station)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/", s.handleIndex)
	r.Get(WebSocketPath(s.hub.Station()), s.handleWebSocket)
	r.Get("/stats", s.handleStats)
	r.Get("/stats.json", s.handleStatsJSON)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// No read/write timeouts: they would apply to hijacked websocket conns.
	httpServer := &http.Server{
		Handler:     s.router,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Relay server started", "station", s.hub.Station(), "addr", ln.Addr().String(),
			"ws", WebSocketPath(s.hub.Station()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Relay server stopping...", "station", s.hub.Station())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	// Hijacked websocket conns are not tracked by Shutdown.
	s.hub.Close()
	if err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "station", s.hub.Station(), "remoteAddr", r.RemoteAddr, "err", err)
		return
	}
	if _, err := s.hub.Join(conn, r.RemoteAddr); err != nil {
		slog.Warn("Rejecting listener", "station", s.hub.Station(), "remoteAddr", r.RemoteAddr, "err", err)
		if err := conn.Close(); err != nil {
			slog.Error("Error closing rejected connection", "err", err)
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.cfg.IndexPath != "" {
		if _, err := os.Stat(s.cfg.IndexPath); err == nil {
			http.ServeFile(w, r, s.cfg.IndexPath)
			return
		}
		slog.Warn("Index page not found, serving built-in player", "path", s.cfg.IndexPath)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		Station: s.hub.Station(),
		WSPath:  WebSocketPath(s.hub.Station()),
	}); err != nil {
		slog.Error("Failed to render index", "err", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statsTemplate.Execute(w, statsData{
		Station: s.hub.Station(),
		Clients: s.hub.Registry().Count(),
		Status:  s.hub.Status(),
	}); err != nil {
		slog.Error("Failed to render stats", "err", err)
	}
}

type statsResponse struct {
	Station int          `json:"station"`
	Clients int          `json:"clients"`
	Status  string       `json:"status,omitempty"`
	Details []ClientInfo `json:"details"`
}

func (s *Server) handleStatsJSON(w http.ResponseWriter, r *http.Request) {
	details := s.hub.Registry().Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statsResponse{
		Station: s.hub.Station(),
		Clients: len(details),
		Status:  s.hub.Status(),
		Details: details,
	}); err != nil {
		slog.Error("Failed to encode stats", "err", err)
	}
}

type statsData struct {
	Station int
	Clients int
	Status  string
}

var statsTemplate = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head><title>Station {{.Station}} stats</title></head>
<body>
<h1>Station {{.Station}}</h1>
<p>Connected clients: {{.Clients}}</p>
{{if .Status}}<p>Now playing: {{.Status}}</p>{{end}}
</body>
</html>
`))
