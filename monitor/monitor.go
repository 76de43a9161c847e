// Package monitor exposes the capture session over HTTP: Prometheus
// metrics, aggregated health, and a websocket stream of frame
// lifecycle events for live debugging.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/health"
	"github.com/camstack/camhal/metric"
)

// Event is one frame lifecycle point pushed to websocket clients.
type Event struct {
	Timestamp   string `json:"timestamp"` // RFC3339Nano
	CameraID    int    `json:"camera_id"`
	Kind        string `json:"kind"`
	FrameNumber uint32 `json:"frame_number,omitempty"`
}

type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex
}

// ServerDeps carries the collaborators of a monitor server.
type ServerDeps struct {
	Port     int
	CameraID int
	Registry *metric.MetricsRegistry
	Health   *health.Monitor
	Logger   *slog.Logger
}

// Server serves /metrics, /health and /events for one capture session.
// Its RequestSubmitted, RequestCompleted and DeviceError methods make
// it pluggable as a request tracer.
type Server struct {
	port     int
	cameraID int
	registry *metric.MetricsRegistry
	healthy  *health.Monitor
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex // protects server field
	server *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientInfo

	wsClients prometheus.Gauge
	startTime time.Time
}

// NewServer creates a monitor server. The registry must be set; health
// may be nil, in which case /health reports a bare OK.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	port := deps.Port
	if port == 0 {
		port = 9090
	}

	s := &Server{
		port:     port,
		cameraID: deps.CameraID,
		registry: deps.Registry,
		healthy:  deps.Health,
		logger:   logger.With("component", "monitor"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				// Debug surface; not exposed beyond the host.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:   make(map[*websocket.Conn]*clientInfo),
		startTime: time.Now(),
	}

	if deps.Registry != nil {
		s.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camhal_monitor_ws_clients",
			Help: "Connected websocket event stream clients",
		})
		if err := deps.Registry.RegisterGauge("monitor", "ws_clients", s.wsClients); err != nil {
			s.logger.Warn("ws clients gauge registration failed", "error", err)
			s.wsClients = nil
		}
	}

	return s
}

// Start runs the HTTP server. It blocks until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"monitor", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"monitor", "Start", "metrics registry not provided")
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.buildMux(),
	}
	srv := s.server
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "monitor", "Start",
			fmt.Sprintf("failed to start server on port %d", s.port))
	}
	return nil
}

// Stop closes the server and disconnects all websocket clients.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]*clientInfo)
	s.clientsMu.Unlock()
	if s.wsClients != nil {
		s.wsClients.Set(0)
	}

	if s.server != nil {
		err := s.server.Close()
		s.server = nil
		if err != nil {
			return errors.WrapTransient(err, "monitor", "Stop",
				"failed to stop HTTP server")
		}
	}
	return nil
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>camhal monitor</title></head>
<body>
<h1>camhal camera %d</h1>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/health">Health</a></p>
<p>Event stream: ws://host:%d/events</p>
</body>
</html>`, s.cameraID, s.port)
	})

	return mux
}

// Address returns the server base address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.healthy == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	status := s.healthy.Aggregate("session")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("health response encode failed", "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}

	s.clientsMu.Lock()
	s.clients[conn] = info
	count := len(s.clients)
	s.clientsMu.Unlock()
	if s.wsClients != nil {
		s.wsClients.Set(float64(count))
	}
	s.logger.Info("event stream client connected", "remote", r.RemoteAddr, "clients", count)

	go s.readLoop(conn, info)
}

// readLoop drains the client connection. Clients send nothing we act
// on; the loop exists to detect disconnects.
func (s *Server) readLoop(conn *websocket.Conn, info *clientInfo) {
	defer s.removeClient(conn, info)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn, _ *clientInfo) {
	_ = conn.Close()

	s.clientsMu.Lock()
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()
	if s.wsClients != nil {
		s.wsClients.Set(float64(count))
	}
}

// RequestSubmitted pushes a submission event to all connected clients.
func (s *Server) RequestSubmitted(frameNumber uint32) {
	s.broadcast("submitted", frameNumber)
}

// RequestCompleted pushes a completion event to all connected clients.
func (s *Server) RequestCompleted(frameNumber uint32) {
	s.broadcast("completed", frameNumber)
}

// DeviceError pushes a device error event to all connected clients.
func (s *Server) DeviceError() {
	s.broadcast("device_error", 0)
}

func (s *Server) broadcast(kind string, frameNumber uint32) {
	s.clientsMu.RLock()
	if len(s.clients) == 0 {
		s.clientsMu.RUnlock()
		return
	}
	targets := make([]*clientInfo, 0, len(s.clients))
	for _, info := range s.clients {
		targets = append(targets, info)
	}
	s.clientsMu.RUnlock()

	ev := Event{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		CameraID:    s.cameraID,
		Kind:        kind,
		FrameNumber: frameNumber,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event marshal failed", "kind", kind, "error", err)
		return
	}

	for _, info := range targets {
		info.writeMu.Lock()
		_ = info.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := info.conn.WriteMessage(websocket.TextMessage, data)
		info.writeMu.Unlock()
		if err != nil {
			// Dead client; the read loop tears it down.
			s.logger.Debug("event write failed", "error", err)
			_ = info.conn.Close()
		}
	}
}
