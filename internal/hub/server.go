package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"odin-ws-server/internal/ratelimit"
	"odin-ws-server/internal/timesync"
)

// Server exposes the hub over HTTP: the WebSocket upgrade endpoint, the
// stateless time-exchange endpoint, health, and Prometheus metrics. It
// mirrors the teacher's internal/server.Server surface, minus the JWT
// auth middleware spec.md's Non-goals explicitly exclude.
type Server struct {
	ctx       context.Context
	hub       *Hub
	gate      *ratelimit.ConnectionGate
	logger    zerolog.Logger
	startedAt time.Time
	version   string
}

// NewServer builds an HTTP server around hub, admitting new connections
// through gate before they ever reach the WebSocket upgrade. ctx is the
// process's cancellable lifetime context: every session accepted through
// this server runs for as long as ctx is alive, so cancelling it at
// shutdown unblocks every session's run loop instead of leaving them
// running past the HTTP server's own Shutdown.
func NewServer(ctx context.Context, h *Hub, gate *ratelimit.ConnectionGate, logger zerolog.Logger, version string) *Server {
	return &Server{
		ctx:       ctx,
		hub:       h,
		gate:      gate,
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// Routes registers the WebSocket, health, and time handlers on mux. The
// metrics endpoint is registered separately by MetricsRoutes.
func (srv *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", srv.handleWebSocket)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/time", srv.handleTime)
}

// MetricsRoutes registers the Prometheus scrape endpoint on mux. It is a
// separate method from Routes so the caller picks the mux; cmd/hub
// registers both on the same mux, so /metrics is served on the main
// listener.
func (srv *Server) MetricsRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

type healthResponse struct {
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Version       string `json:"version"`
	Rooms         int    `json:"rooms"`
	Sessions      int    `json:"sessions"`
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UnixMilli(),
		UptimeSeconds: int64(time.Since(srv.startedAt).Seconds()),
		Version:       srv.version,
		Rooms:         srv.hub.RoomCount(r.Context()),
		Sessions:      srv.hub.SessionCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type timeExchangeRequest struct {
	ClientSendTime *int64 `json:"clientSendTime"`
}

type timeExchangeResponse struct {
	ClientSendTime       *int64 `json:"clientSendTime,omitempty"`
	ServerReceiveTime    int64  `json:"serverReceiveTime"`
	ServerSendTime       int64  `json:"serverSendTime"`
	ServerProcessingTime int64  `json:"serverProcessingTime"`
}

// handleTime implements spec.md §4.6: a stateless, unrate-limited
// request/response capturing receive/send timestamps at the extremities
// of handling. Safe to be served by any instance.
func (srv *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	var req timeExchangeRequest
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var clientSendTime int64
	if req.ClientSendTime != nil {
		clientSendTime = *req.ClientSendTime
	}
	ex := timesync.Handle(clientSendTime)

	resp := timeExchangeResponse{
		ClientSendTime:       req.ClientSendTime,
		ServerReceiveTime:    ex.ServerReceiveTime,
		ServerSendTime:       ex.ServerSendTime,
		ServerProcessingTime: ex.ServerProcessingTime,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleWebSocket admits the connection through the per-address gate,
// upgrades, and hands the resulting session to the hub, per spec.md
// §4.2's connection admission bullet and §4.5's CONNECTED entry point.
func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !srv.gate.Admit(r.Context(), clientAddr(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	timezone := r.URL.Query().Get("timezone")
	if timezone == "" {
		timezone = "UTC"
	}
	roomID := r.URL.Query().Get("room")

	s := newSession(conn, srv.hub, srv.logger)
	srv.hub.Accept(srv.ctx, s, timezone, roomID)
}

// clientAddr prefers a proxy-forwarded address since the hub is assumed
// to sit behind a front proxy terminating TLS, per spec.md §1's Non-goals.
// Otherwise it uses the host part of RemoteAddr, so every connection from
// one source address shares one admission key.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
