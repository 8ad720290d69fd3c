// Package realtime pushes letter events to browser and CLI subscribers over
// websockets.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/port"
)

// ErrStopped is returned by Serve when the hub is not running
var ErrStopped = errors.New("realtime hub is not running")

// Config tunes connection handling
type Config struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

const maxInboundMessage = 512

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
}

// Hub tracks subscriber connections by room. Each connection has a single
// writer goroutine fed by a bounded buffer; a subscriber that cannot keep
// up loses frames rather than slowing the publisher.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}

	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewHub creates a hub; it accepts connections once started
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start opens the hub for connections
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.logger.Info("Realtime hub started")
	return nil
}

// Stop closes every connection and waits for their goroutines
func (h *Hub) Stop() error {
	h.mu.Lock()
	h.running = false
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("Realtime hub stopped", zap.Int64("dropped_frames", h.dropped.Load()))
	return nil
}

// Name returns the worker name for identification
func (h *Hub) Name() string {
	return "RealtimeHub"
}

// Serve upgrades the request and subscribes the connection to rooms.
// On upgrade failure the upgrader has already written the HTTP error.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, rooms []string) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		http.Error(w, ErrStopped.Error(), http.StatusServiceUnavailable)
		return ErrStopped
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return err
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, h.cfg.SendBuffer),
		rooms: append([]string(nil), rooms...),
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrStopped
	}
	h.clients[c] = struct{}{}
	for _, room := range c.rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*client]struct{})
			h.rooms[room] = members
		}
		members[c] = struct{}{}
	}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)

	h.logger.Debug("Subscriber connected", zap.Strings("rooms", c.rooms))
	return nil
}

// Publish implements port.RealtimePublisher
func (h *Hub) Publish(rooms []string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*client]struct{})
	delivered := 0
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}

			select {
			case c.send <- payload:
				delivered++
			default:
				h.dropped.Add(1)
				h.logger.Warn("Subscriber buffer full, frame dropped", zap.Strings("rooms", c.rooms))
			}
		}
	}
	return delivered
}

// Connections returns the number of live subscribers
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// removeLocked unsubscribes c and closes its buffer. Publish sends only
// under the read lock, so nothing can send on a closed buffer.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for _, room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Subscribers only listen; inbound frames are read to process control messages
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Verify interface compliance
var _ port.RealtimePublisher = (*Hub)(nil)
