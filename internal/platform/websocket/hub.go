// Package websocket keeps the process-local registry of live client
// connections and pushes JSON messages to them. Connections are keyed by user
// id; one user may hold several (one per device). Users are also grouped by
// role so admins can be reached for monitoring.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrClientClosed = errors.New("connection closed")
	ErrSendTimeout  = errors.New("send timed out")
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered connection. Messages queued on it are written by
// the connection's write pump.
type Client struct {
	ID     string
	UserID string
	Role   string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	conn      Conn
}

func NewClient(conn Conn, userID, role string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		conn:   conn,
	}
}

// enqueue queues data for writing, waiting at most timeout for buffer space.
func (c *Client) enqueue(ctx context.Context, data []byte, timeout time.Duration) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-t.C:
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the connection registry. All operations are safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	users       map[string]map[*Client]struct{} // user id -> connections
	roles       map[string]map[string]struct{}  // role -> user ids
	sendTimeout time.Duration
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger, sendTimeout time.Duration) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &Hub{
		users:       make(map[string]map[*Client]struct{}),
		roles:       make(map[string]map[string]struct{}),
		sendTimeout: sendTimeout,
		logger:      logger.With().Str("component", "websocket").Logger(),
	}
}

// ConnectionStatus is the confirmation sent to a client right after it
// registers.
type ConnectionStatus struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Connect registers client, adds its user to the role group and queues the
// connection confirmation.
func (h *Hub) Connect(ctx context.Context, client *Client) {
	h.mu.Lock()
	conns, ok := h.users[client.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[client.UserID] = conns
	}
	conns[client] = struct{}{}
	if client.Role != "" {
		group, ok := h.roles[client.Role]
		if !ok {
			group = make(map[string]struct{})
			h.roles[client.Role] = group
		}
		group[client.UserID] = struct{}{}
	}
	h.mu.Unlock()

	h.logger.Info().Str("user_id", client.UserID).Str("role", client.Role).Str("conn_id", client.ID).Msg("client connected")

	msg := ConnectionStatus{
		Type:    "connection_status",
		Status:  "connected",
		Message: fmt.Sprintf("Connected as %s", client.Role),
	}
	if err := h.sendTo(ctx, client, msg); err != nil {
		h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("connection confirmation not delivered")
	}
}

// Disconnect removes client. When it was the user's last connection the user
// leaves every role group.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	removed := false
	if conns, ok := h.users[client.UserID]; ok {
		_, removed = conns[client]
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.UserID)
			for role, group := range h.roles {
				delete(group, client.UserID)
				if len(group) == 0 {
					delete(h.roles, role)
				}
			}
		}
	}
	h.mu.Unlock()

	client.close()
	if removed {
		h.logger.Info().Str("user_id", client.UserID).Str("role", client.Role).Str("conn_id", client.ID).Msg("client disconnected")
	}
}

func (h *Hub) connectionsOf(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) usersInRole(role string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.roles[role]))
	for uid := range h.roles[role] {
		out = append(out, uid)
	}
	return out
}

func (h *Hub) sendTo(ctx context.Context, c *Client, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.enqueue(ctx, data, h.sendTimeout)
}

// SendToUser queues msg on every connection of userID and returns how many
// accepted it. Failing connections are logged and reported in the joined
// error; they never stop delivery to the others.
func (h *Hub) SendToUser(ctx context.Context, userID string, msg interface{}) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	return h.sendRaw(ctx, userID, data)
}

func (h *Hub) sendRaw(ctx context.Context, userID string, data []byte) (int, error) {
	conns := h.connectionsOf(userID)
	if len(conns) == 0 {
		return 0, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		errs      []error
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			err := c.enqueue(ctx, data, h.sendTimeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error().Err(err).Str("user_id", userID).Str("conn_id", c.ID).Msg("send to connection failed")
				errs = append(errs, fmt.Errorf("connection %s: %w", c.ID, err))
				return
			}
			delivered++
		}(c)
	}
	wg.Wait()
	return delivered, errors.Join(errs...)
}

// SendAppointmentNotification delivers msg to each affected user and to all
// connected admins. Admins already in userIDs receive it once. Each
// recipient is isolated from the others' failures.
func (h *Hub) SendAppointmentNotification(ctx context.Context, msg interface{}, userIDs []string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	seen := make(map[string]struct{}, len(userIDs))
	var errs []error
	send := func(uid string) {
		if _, dup := seen[uid]; dup || uid == "" {
			return
		}
		seen[uid] = struct{}{}
		if _, err := h.sendRaw(ctx, uid, data); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", uid, err))
		}
	}
	for _, uid := range userIDs {
		send(uid)
	}
	for _, uid := range h.usersInRole("admin") {
		send(uid)
	}
	return errors.Join(errs...)
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// UserConnections returns how many connections userID holds.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// RoleCount returns the number of users in a role group.
func (h *Hub) RoleCount(role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roles[role])
}

// Close drops every connection. Write pumps exit and close their sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, conns := range h.users {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.users = make(map[string]map[*Client]struct{})
	h.roles = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}
