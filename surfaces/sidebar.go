// CLAUDE:SUMMARY Sidebar websocket hub — long-lived port whose connect/disconnect doubles as the open/closed signal.
// Package surfaces delivers state to the two UI surfaces: the sidebar over
// a long-lived websocket, and the in-page overlay addressed to the active
// tab. It also mounts the HTTP control plane.
package surfaces

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/packetd/idgen"
	"github.com/hazyhaar/packetd/kit"
	"github.com/hazyhaar/packetd/router"
	"github.com/hazyhaar/packetd/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wsRequest is one inbound sidebar frame. ID correlates the reply.
type wsRequest struct {
	ID     string          `json:"id,omitempty"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// wsReply is the correlated response frame.
type wsReply struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wsPush is an unsolicited state frame.
type wsPush struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type sidebarClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *SidebarHub
}

// SidebarHub manages sidebar connections. Connection presence is the
// sidebar-open signal: the first connect sets isSidebarOpen, the last
// disconnect clears it, and both trigger onOpenChange so the overlay can
// react.
type SidebarHub struct {
	session      *store.Session
	router       *router.Router
	logger       *slog.Logger
	onOpenChange func(open bool)
	upgrader     websocket.Upgrader

	register   chan *sidebarClient
	unregister chan *sidebarClient
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*sidebarClient]bool
}

// HubOption configures a SidebarHub.
type HubOption func(*SidebarHub)

// WithHubLogger sets a custom logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *SidebarHub) { h.logger = l }
}

// WithOpenChange wires the open/closed callback.
func WithOpenChange(f func(open bool)) HubOption {
	return func(h *SidebarHub) { h.onOpenChange = f }
}

// NewSidebarHub creates the hub. Run must be started for registration and
// broadcast to work.
func NewSidebarHub(session *store.Session, r *router.Router, opts ...HubOption) *SidebarHub {
	h := &SidebarHub{
		session:    session,
		router:     r,
		logger:     slog.Default(),
		register:   make(chan *sidebarClient),
		unregister: make(chan *sidebarClient),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*sidebarClient]bool),
		upgrader: websocket.Upgrader{
			// The daemon binds loopback only; the sidebar page is served
			// from the same origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run processes registration and broadcast until ctx is done.
func (h *SidebarHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			first := len(h.clients) == 1
			h.mu.Unlock()
			if first {
				h.session.Put(store.SessionSidebarOpen, true)
				h.notifyOpen(true)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			last := false
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				last = len(h.clients) == 0
			}
			h.mu.Unlock()
			if last {
				h.session.Put(store.SessionSidebarOpen, false)
				h.notifyOpen(false)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow sidebar; drop the frame rather than block.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *SidebarHub) notifyOpen(open bool) {
	if h.onOpenChange != nil {
		h.onOpenChange(open)
	}
}

// Open reports whether any sidebar is connected.
func (h *SidebarHub) Open() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Push sends an unsolicited frame to every connected sidebar.
func (h *SidebarHub) Push(frameType string, data any) {
	payload, err := json.Marshal(wsPush{Type: frameType, Data: data})
	if err != nil {
		h.logger.Warn("surfaces: encode push", "type", frameType, "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("surfaces: broadcast queue full", "type", frameType)
	}
}

// HandleWebSocket upgrades a sidebar connection.
func (h *SidebarHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("surfaces: upgrade", "error", err)
		return
	}
	c := &sidebarClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register <- c
	go c.writePump()
	go c.readPump(r.Context())
}

func (c *sidebarClient) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("surfaces: sidebar read", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.logger.Warn("surfaces: bad sidebar frame", "error", err)
			continue
		}
		dctx := kit.WithRequestID(kit.WithTransport(ctx, "ws"), idgen.NewRequestID())
		c.hub.router.Dispatch(dctx, router.Message{Action: req.Action, Data: req.Data},
			func(resp router.Response) {
				c.reply(req.ID, resp)
			})
	}
}

func (c *sidebarClient) reply(id string, resp router.Response) {
	payload, err := json.Marshal(wsReply{
		ID:      id,
		Success: resp.Success,
		Error:   resp.Error,
		Data:    resp.Data,
	})
	if err != nil {
		c.hub.logger.Warn("surfaces: encode reply", "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *sidebarClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
