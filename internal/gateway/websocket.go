package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionCookieName is the per-browser-session identifier cookie shared with
// the REST surface; it is what silently elevates a room's creator to host.
const SessionCookieName = "sid"

// WebSocketHandler upgrades HTTP requests into gateway connections.
type WebSocketHandler struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the upgrade handler for the gateway.
func NewWebSocketHandler(g *Gateway) *WebSocketHandler {
	cfg := g.config.Connection
	return &WebSocketHandler{
		gateway: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// ServeHTTP upgrades the connection and starts its read/write pumps. The
// room membership is established later by a room:join event.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	client := h.gateway.NewClient(sessionID, clientIP(r))
	client.conn = conn

	go client.writePump(h.gateway.config.Connection)
	go client.readPump(h.gateway, h.gateway.config.Connection)

	log.Info().
		Str("connection_id", client.ID).
		Str("ip", client.IP).
		Msg("WebSocket connection established")
}

// clientIP prefers the forwarded address set by a trusted proxy and falls
// back to the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
