package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/internal/device"
	"laundry-display-sync/internal/engine"
)

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// ConnectionManager tracks live display sockets so they can be closed together.
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[*Connection]struct{}
	upgrader    websocket.Upgrader
	config      ConnectionConfig
}

// Connection streams one device's display state to one client.
type Connection struct {
	ID       string
	DeviceID string
	Conn     *websocket.Conn

	updates     <-chan engine.DisplayState
	unsubscribe func()
	manager     *ConnectionManager
	closeOnce   sync.Once
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Count returns the number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.connections)
}

// CloseAll ends every open connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Upgrade turns the request into a socket fed by r's display updates. The
// current display is sent first.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, req *http.Request, r *device.Runner) error {
	conn, err := cm.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}

	updates, unsubscribe := r.Subscribe()
	c := &Connection{
		ID:          uuid.New().String(),
		DeviceID:    r.ID,
		Conn:        conn,
		updates:     updates,
		unsubscribe: unsubscribe,
		manager:     cm,
	}

	cm.mu.Lock()
	cm.connections[c] = struct{}{}
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", c.ID).
		Str("device_id", c.DeviceID).
		Int("total_connections", total).
		Msg("display socket connected")

	go c.writePump(r.Display())
	go c.readPump()
	return nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.manager.mu.Lock()
		delete(c.manager.connections, c)
		c.manager.mu.Unlock()

		c.unsubscribe()
		c.Conn.Close()
		log.Info().Str("connection_id", c.ID).Str("device_id", c.DeviceID).Msg("display socket closed")
	})
}

func (c *Connection) write(d engine.DisplayState) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) writePump(initial engine.DisplayState) {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	if err := c.write(initial); err != nil {
		return
	}

	for {
		select {
		case d, ok := <-c.updates:
			if !ok {
				c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.write(d); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write display update")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to process pongs and notice the client leaving.
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected display socket close")
			}
			return
		}
	}
}

// StreamDevice handles GET /api/devices/:id/ws.
func (h *Handler) StreamDevice(c *gin.Context) {
	r, ok := h.runner(c)
	if !ok {
		return
	}
	if err := h.sockets.Upgrade(c.Writer, c.Request, r); err != nil {
		// The upgrader has already written an HTTP error.
		log.Warn().Err(err).Str("device_id", r.ID).Msg("failed to upgrade display socket")
	}
}
