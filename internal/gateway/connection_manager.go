package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds transport-level tuning for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the production transport settings. The
// read limit sits above the 2KB application payload cap so oversized frames
// are rejected by the protocol layer with a client-visible error instead of
// a silent close.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Client is one live connection. The id doubles as the participant id of
// whatever room the client joins.
type Client struct {
	ID        string
	SessionID string
	IP        string

	mu     sync.Mutex
	closed bool
	send   chan []byte
	conn   *websocket.Conn

	ConnectedAt time.Time
}

// Send queues a payload for delivery; a full buffer reports failure so the
// manager can drop the slow connection. The mutex serializes sends against
// close: deliveries race the disconnect path and eviction by concurrent
// broadcasts, and a send on a closed channel would panic the process.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// ConnectionManager owns the connection pools: which clients exist, which
// room each one subscribed to, and fan-out of payloads to a room's pool.
type ConnectionManager struct {
	mu         sync.RWMutex
	roomConns  map[string]map[*Client]struct{}
	clientRoom map[string]string
	config     ConnectionConfig
}

// NewConnectionManager creates an empty pool set.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConns:  make(map[string]map[*Client]struct{}),
		clientRoom: make(map[string]string),
		config:     config,
	}
}

// Subscribe maps a client to a room key, replacing any previous mapping.
func (cm *ConnectionManager) Subscribe(c *Client, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if prev, ok := cm.clientRoom[c.ID]; ok && prev != roomID {
		cm.dropLocked(c, prev)
	}
	if cm.roomConns[roomID] == nil {
		cm.roomConns[roomID] = make(map[*Client]struct{})
	}
	cm.roomConns[roomID][c] = struct{}{}
	cm.clientRoom[c.ID] = roomID

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", roomID).
		Int("room_connections", len(cm.roomConns[roomID])).
		Msg("connection subscribed")
}

// RoomOf returns the room a client joined, or "" when it never joined.
func (cm *ConnectionManager) RoomOf(clientID string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clientRoom[clientID]
}

// Unsubscribe removes a client from its room pool and forgets the mapping.
// Returns the room it was subscribed to, if any.
func (cm *ConnectionManager) Unsubscribe(c *Client) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	roomID, ok := cm.clientRoom[c.ID]
	if !ok {
		return ""
	}
	delete(cm.clientRoom, c.ID)
	cm.dropLocked(c, roomID)
	return roomID
}

func (cm *ConnectionManager) dropLocked(c *Client, roomID string) {
	if conns, ok := cm.roomConns[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(cm.roomConns, roomID)
		}
	}
}

// DeliverRoom fans a payload out to every connection subscribed to the room
// key. Slow connections are closed rather than allowed to stall the pool.
func (cm *ConnectionManager) DeliverRoom(roomID string, data []byte) {
	cm.mu.RLock()
	conns := cm.roomConns[roomID]
	targets := make([]*Client, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			log.Warn().
				Str("connection_id", c.ID).
				Str("room_id", roomID).
				Msg("send buffer full, closing connection")
			cm.Unsubscribe(c)
			c.close()
		}
	}
}

// ConnectionCount reports the number of live subscriptions.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clientRoom)
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump(cfg ConnectionConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if c.conn != nil {
			c.conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and hands each one to the gateway. Messages
// from one connection are handled to completion in order; the loop exits on
// transport close and triggers the disconnect transition.
func (c *Client) readPump(g *Gateway, cfg ConnectionConfig) {
	defer g.Disconnect(c)

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			return
		}
		g.HandleMessage(c, message)
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
