// Package ws serves the assistant over a WebSocket: every text frame carries
// one chat request and is answered with one chat response, in order. Frames
// are read while a turn is in flight, so a peer disconnect cancels it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"loopsync/backend/internal/assistant"
	apperrors "loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 16

	// Frames waiting behind the turn in flight
	inboxSize = 8
)

// ErrHubClosed is returned when a connection arrives after Close
var ErrHubClosed = errors.New("websocket hub closed")

// Chatter answers one chat turn
type Chatter interface {
	Chat(ctx context.Context, identity string, req assistant.ChatRequest) (assistant.ChatResponse, error)
}

// Frame is an inbound message. Type defaults to "chat".
type Frame struct {
	Type string `json:"type,omitempty"`
	assistant.ChatRequest
}

// Options configures the hub
type Options struct {
	// AllowedOrigins lists permitted Origin headers; "*" or empty allows all
	AllowedOrigins []string
}

// Hub tracks open connections so they can be counted and closed on shutdown
type Hub struct {
	chat     Chatter
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub answering frames with chat
func NewHub(chat Chatter, log *logger.Logger, opts Options) *Hub {
	h := &Hub{
		chat:    chat,
		log:     log.WithComponent("ws"),
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      originChecker(opts.AllowedOrigins),
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.wg.Add(3)
	return nil
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Close disconnects every client and waits for their pumps to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// Client is one WebSocket connection
type Client struct {
	ID       string
	Identity string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// enqueue queues a frame for the write pump; a client that cannot keep up is dropped
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("Send buffer full, closing connection")
		c.close()
	}
}

func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.LogError(err, "Failed to marshal reply")
		return
	}
	c.enqueue(data)
}

// ReadPump reads frames and hands them to TurnPump. It keeps reading during a
// turn so a closed peer is noticed and the turn's context cancelled.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
		c.hub.wg.Done()
		c.log.Debug("ReadPump ended")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.LogError(err, "Unexpected websocket close")
			}
			return
		}
		select {
		case c.inbox <- data:
		case <-c.done:
			return
		default:
			c.reply(gin.H{"error": "Too many pending messages"})
		}
	}
}

// TurnPump answers queued frames one at a time, in arrival order
func (c *Client) TurnPump() {
	defer c.hub.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbox:
			c.handle(data)
		}
	}
}

func (c *Client) handle(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(gin.H{"error": "Invalid message format"})
		return
	}

	switch frame.Type {
	case "", "chat":
		c.reply(c.turn(frame.ChatRequest))
	case "ping":
		c.reply(gin.H{"type": "pong"})
	default:
		c.reply(gin.H{"error": fmt.Sprintf("Unknown message type: %s", frame.Type)})
	}
}

// turn runs one chat turn; a panic becomes the generic error reply
func (c *Client) turn(req assistant.ChatRequest) (out any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Chat turn panicked",
				"error", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			out = assistant.ErrorResponse()
		}
	}()

	resp, err := c.hub.chat.Chat(c.ctx, c.Identity, req)
	if err != nil {
		return gin.H{"error": apperrors.FromError(err).Message}
	}
	return resp
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeWs upgrades the request and starts the client pumps
func (h *Hub) ServeWs(c *gin.Context) {
	identity := middleware.Identity(c)
	reqLog := logger.FromContext(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		reqLog.LogError(err, "Error upgrading connection")
		return
	}

	clientID := middleware.GetRequestID(c.Request.Context())
	if clientID == "" {
		clientID = c.GetString("requestID")
	}

	// The connection outlives the upgrade request, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:       clientID,
		Identity: identity,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		inbox:    make(chan []byte, inboxSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      h.log.With("client_id", clientID, "identity", identity),
	}

	if err := h.add(client); err != nil {
		cancel()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	client.log.Info("WebSocket connection established")

	go client.WritePump()
	go client.TurnPump()
	go client.ReadPump()
}
