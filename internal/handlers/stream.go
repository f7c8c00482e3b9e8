package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/authz"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamSendBuffer = 32
)

// ErrStreamClosed is returned by Record after Close
var ErrStreamClosed = errors.New("alert stream closed")

// StreamMessage is one frame on the live alert feed
type StreamMessage struct {
	Type   audit.Action `json:"type"`
	Record audit.Record `json:"record"`
}

type streamClient struct {
	conn     *websocket.Conn
	send     chan []byte
	username string
	once     sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// StreamHub pushes alert audit records to connected websocket clients.
// It is registered as an audit sink, so every created alert and status
// change is broadcast after its transaction commits.
type StreamHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*streamClient]struct{}
	closed   bool
	log      *zap.Logger
}

// NewStreamHub creates a hub accepting upgrades from allowedOrigins ("*" allows all)
func NewStreamHub(allowedOrigins []string, log *zap.Logger) *StreamHub {
	h := &StreamHub{
		clients: make(map[*streamClient]struct{}),
		log:     log.Named("stream"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(allowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// SetupRoutes registers the stream route
func (h *StreamHub) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/alerts/stream", h.HandleStream)
}

// HandleStream upgrades an authorized alert reader to a websocket
func (h *StreamHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	identity, ok := authorize(w, r, authz.OpRead, authz.ResourceAlert)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		h.log.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn:     conn,
		send:     make(chan []byte, streamSendBuffer),
		username: identity.Username,
	}
	if !h.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(streamWriteWait))
		conn.Close()
		return
	}
	h.log.Info("Stream client connected", zap.String("username", client.username), zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(client)
	h.readPump(client)
}

func (h *StreamHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards client frames and notices disconnects
func (h *StreamHub) readPump(c *streamClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.log.Info("Stream client disconnected", zap.String("username", c.username))
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Stream read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *StreamHub) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Name implements audit.Sink
func (h *StreamHub) Name() string { return "stream" }

// Record implements audit.Sink. Clients whose buffer is full are dropped
// rather than blocking the broadcast.
func (h *StreamHub) Record(_ context.Context, rec audit.Record) error {
	data, err := json.Marshal(StreamMessage{Type: rec.Action, Record: rec})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrStreamClosed
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("Dropping slow stream client", zap.String("username", c.username))
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
