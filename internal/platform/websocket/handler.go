package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// TokenParser turns the ?token= query parameter into an authenticated actor.
type TokenParser interface {
	Parse(token string) (*auth.Actor, error)
}

// Handler upgrades GET /ws requests and runs the per-connection pumps.
type Handler struct {
	hub      *Hub
	tokens   TokenParser
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the /ws handler. An empty allowedOrigins accepts any
// origin.
func NewHandler(hub *Hub, tokens TokenParser, allowedOrigins []string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:    hub,
		tokens: tokens,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect authenticates the token before upgrading, so a rejected
// client gets a plain 401.
func (h *Handler) HandleConnect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	actor, err := h.tokens.Parse(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	client := NewClient(ws, actor.UserID.String(), string(actor.Role))
	go h.writePump(client)
	h.hub.Connect(context.Background(), client)
	go h.readPump(client)
	return nil
}

type inbound struct {
	Type string `json:"type"`
}

type pong struct {
	Type string `json:"type"`
}

type echoReply struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type errorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// reply builds the response to one client frame.
func reply(frame []byte) interface{} {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return errorReply{Type: "error", Message: "Invalid JSON format"}
	}
	if msg.Type == "ping" {
		return pong{Type: "pong"}
	}
	return echoReply{Type: "echo", Content: json.RawMessage(frame)}
}

func (h *Handler) readPump(client *Client) {
	defer h.hub.Disconnect(client)

	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := h.hub.sendTo(context.Background(), client, reply(frame)); err != nil {
			h.logger.Warn().Err(err).Str("user_id", client.UserID).Msg("reply not delivered")
		}
	}
}

func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for {
		select {
		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				h.logger.Debug().Err(err).Str("conn_id", client.ID).Msg("write failed")
				h.hub.Disconnect(client)
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(gorillawebsocket.CloseMessage,
				gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
			return
		}
	}
}
