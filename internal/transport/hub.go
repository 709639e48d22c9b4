// Package transport connects WebSocket clients to the game registry. The Hub
// delivers engine events to rooms and players and turns inbound messages
// into game commands.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 256
	actionTimeout  = 10 * time.Second
)

// Dispatcher is the part of the game registry the hub drives.
type Dispatcher interface {
	Create(ctx context.Context, roomCode string) (*game.Machine, error)
	GetByRoomCode(code string) (*game.Machine, error)
	Dispatch(ctx context.Context, cmd game.Command) (game.Result, error)
	Bind(playerID, sessionID, connID string) error
	Unbind(playerID, connID string)
	SessionOf(playerID string) (string, bool)
}

// IdentityFunc resolves the player behind an upgrade request.
type IdentityFunc func(r *http.Request) (string, error)

// HeaderIdentity trusts the X-Player-ID header, then the player_id query
// parameter. It is meant for deployments behind an authenticating proxy.
func HeaderIdentity(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-Player-ID"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("player_id"))
	}
	if id == "" {
		return "", errors.New("player id is required")
	}
	return id, nil
}

// Options tunes a Hub.
type Options struct {
	Identity       IdentityFunc
	AllowedOrigins []string
}

// Client is one WebSocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	playerID string
	connID   string

	mu        sync.RWMutex
	sessionID string
}

func (c *Client) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Hub tracks connections and implements game.Emitter.
type Hub struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	identity   IdentityFunc
	upgrader   websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
}

var _ game.Emitter = (*Hub)(nil)

func NewHub(d Dispatcher, logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	identity := opts.Identity
	if identity == nil {
		identity = HeaderIdentity
	}
	return &Hub{
		dispatcher: d,
		logger:     logger,
		identity:   identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Run owns client registration until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client registered",
				zap.String("player_id", c.playerID),
				zap.String("conn_id", c.connID),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.dispatcher.Unbind(c.playerID, c.connID)
			h.logger.Debug("client unregistered",
				zap.String("player_id", c.playerID),
				zap.String("conn_id", c.connID),
			)

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				h.dispatcher.Unbind(c.playerID, c.connID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.identity(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		playerID: playerID,
		connID:   uuid.NewString(),
	}

	// a reconnecting player picks up the session they were bound to
	if sid, ok := h.dispatcher.SessionOf(playerID); ok {
		if err := h.dispatcher.Bind(playerID, sid, c.connID); err == nil {
			c.setSession(sid)
		}
	}
	// the buffer is empty and nobody else holds c yet
	if data, err := json.Marshal(Outbound{
		Event:     EventConnected,
		SessionID: c.session(),
		Payload:   map[string]string{"player_id": playerID},
	}); err == nil {
		c.send <- data
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// DeliverToRoom sends to every connection following sessionID.
func (h *Hub) DeliverToRoom(sessionID, event string, payload interface{}) {
	data, err := json.Marshal(outbound(sessionID, event, payload))
	if err != nil {
		h.logger.Error("encode room event", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.session() == sessionID {
			h.enqueue(c, data)
		}
	}
}

// DeliverToPlayer sends to every connection of playerID.
func (h *Hub) DeliverToPlayer(playerID, event string, payload interface{}) {
	data, err := json.Marshal(outbound("", event, payload))
	if err != nil {
		h.logger.Error("encode player event", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.playerID == playerID {
			h.enqueue(c, data)
		}
	}
}

// enqueue never blocks; a client whose buffer is full misses the message and
// catches up on the next session-updated. Callers hold h.mu.
func (h *Hub) enqueue(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("client send buffer full, dropping message",
			zap.String("player_id", c.playerID),
			zap.String("conn_id", c.connID),
		)
	}
}

func (h *Hub) sendTo(c *Client, msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		h.enqueue(c, data)
	}
}

func (h *Hub) sendError(c *Client, msg Inbound, err error) {
	h.sendTo(c, Outbound{
		Event:     string(game.EventError),
		SessionID: msg.SessionID,
		Payload: map[string]interface{}{
			"code":      errorCode(err),
			"message":   err.Error(),
			"kind":      game.KindValidation.String(),
			"action":    msg.Type,
			"action_id": msg.ActionID,
		},
	})
}

func (h *Hub) handleMessage(c *Client, data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		h.sendError(c, msg, err)
		return
	}
	h.logger.Debug("message received",
		zap.String("player_id", c.playerID),
		zap.String("type", msg.Type),
	)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch msg.Type {
	case MsgCreateRoom:
		err = h.createRoom(ctx, c, msg)
	case MsgJoinRoom:
		err = h.joinRoom(ctx, c, msg)
	default:
		err = h.dispatch(ctx, c, msg)
	}
	if err != nil {
		h.sendError(c, msg, err)
	}
}

func (h *Hub) createRoom(ctx context.Context, c *Client, msg Inbound) error {
	p, err := decodePayload(msg)
	if err != nil {
		return err
	}
	m, err := h.dispatcher.Create(ctx, strings.ToUpper(strings.TrimSpace(p.RoomCode)))
	if err != nil {
		return err
	}
	h.logger.Info("room created",
		zap.String("session_id", m.ID()),
		zap.String("player_id", c.playerID),
	)
	return h.enter(ctx, c, m, msg, p.Name)
}

func (h *Hub) joinRoom(ctx context.Context, c *Client, msg Inbound) error {
	p, err := decodePayload(msg)
	if err != nil {
		return err
	}
	code := strings.ToUpper(strings.TrimSpace(p.RoomCode))
	if code == "" {
		return fmt.Errorf("%w: room_code is required", ErrBadMessage)
	}
	m, err := h.dispatcher.GetByRoomCode(code)
	if err != nil {
		return err
	}
	return h.enter(ctx, c, m, msg, p.Name)
}

// enter binds the connection to a session and seats the player unless they
// already hold a seat, which makes join_room double as reconnect.
func (h *Hub) enter(ctx context.Context, c *Client, m *game.Machine, msg Inbound, name string) error {
	sid := m.ID()
	if m.Snapshot().Player(c.playerID) == nil {
		_, err := h.dispatcher.Dispatch(ctx, game.Command{
			Type:      game.ActionJoin,
			SessionID: sid,
			PlayerID:  c.playerID,
			ActionID:  msg.ActionID,
			Name:      name,
		})
		if err != nil {
			// the registry already reported the refusal to the player
			return nil
		}
	}
	// bound only once seated, so a refused join leaves the connection where it was
	if err := h.dispatcher.Bind(c.playerID, sid, c.connID); err != nil {
		return err
	}
	c.setSession(sid)

	snap := m.Snapshot()
	h.sendTo(c, Outbound{
		Event:     EventSessionState,
		SessionID: sid,
		Payload: map[string]interface{}{
			"room_code": snap.RoomCode,
			"player_id": c.playerID,
			"session":   snap.Public(),
		},
	})
	return nil
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg Inbound) error {
	cmd, err := toCommand(msg, c.playerID)
	if err != nil {
		return err
	}
	if cmd.SessionID == "" {
		cmd.SessionID = c.session()
	}
	if cmd.SessionID == "" {
		return ErrNoSession
	}
	// refusals reach the player through the registry's error event
	_, _ = h.dispatcher.Dispatch(ctx, cmd)
	return nil
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket closed unexpectedly",
					zap.String("player_id", c.playerID),
					zap.Error(err),
				)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
