package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dupahar/relay/pkg/auth"
	"github.com/dupahar/relay/pkg/logger"
	"github.com/dupahar/relay/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket connection and the hub. The
// user identity is fixed at upgrade time from the bearer token; a join
// event claiming a different identity is rejected.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	userID string
	connID string

	// set once the client has sent a valid join
	joined bool
}

// readPump pumps events from the websocket connection into the hub.
// Handlers run synchronously here, so per-sender order is preserved and
// an operation already accepted completes even if the connection closes
// underneath it.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("read_failed", zap.String("user", c.userID), zap.Error(err))
			}
			break
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.hub.sendError(c, model.EventMessageError, model.Validationf("malformed envelope"))
		return
	}

	if env.Event == model.EventJoin {
		c.handleJoin(env.Payload)
		return
	}
	if !c.joined {
		c.hub.sendError(c, model.EventMessageError, model.Validationf("join before sending %s", env.Event))
		return
	}

	switch env.Event {
	case model.EventSendMessage:
		var p model.SendMessagePayload
		if !c.decode(env.Payload, &p, model.EventMessageError) {
			return
		}
		if p.SenderID != c.userID {
			c.hub.sendError(c, model.EventMessageError, model.ErrAuth)
			return
		}
		c.hub.HandleSend(c, p)

	case model.EventMessageReaction:
		var p model.ReactionPayload
		if !c.decode(env.Payload, &p, model.EventReactionError) {
			return
		}
		if p.UserID != c.userID {
			c.hub.sendError(c, model.EventReactionError, model.ErrAuth)
			return
		}
		c.hub.HandleReaction(c, p)

	case model.EventEditMessage:
		var p model.EditMessagePayload
		if !c.decode(env.Payload, &p, model.EventMessageError) {
			return
		}
		if p.SenderID != c.userID {
			c.hub.sendError(c, model.EventMessageError, model.ErrAuth)
			return
		}
		c.hub.HandleEdit(c, p)

	case model.EventTyping:
		var p model.TypingPayload
		if !c.decode(env.Payload, &p, model.EventMessageError) {
			return
		}
		if p.SenderID != c.userID {
			c.hub.sendError(c, model.EventMessageError, model.ErrAuth)
			return
		}
		c.hub.HandleTyping(c, p)

	case model.EventJoinGroup:
		var p model.GroupRefPayload
		if !c.decode(env.Payload, &p, model.EventMessageError) {
			return
		}
		if err := p.Validate(); err != nil {
			c.hub.sendError(c, model.EventMessageError, err)
			return
		}
		c.hub.JoinGroup(c, p.GroupID)

	case model.EventLeaveGroup:
		var p model.GroupRefPayload
		if !c.decode(env.Payload, &p, model.EventMessageError) {
			return
		}
		if err := p.Validate(); err != nil {
			c.hub.sendError(c, model.EventMessageError, err)
			return
		}
		c.hub.LeaveGroup(c, p.GroupID)

	default:
		c.hub.sendError(c, model.EventMessageError, model.Validationf("unknown event %q", env.Event))
	}
}

func (c *Client) handleJoin(payload json.RawMessage) {
	var p model.JoinPayload
	if !c.decode(payload, &p, model.EventMessageError) {
		return
	}
	if err := p.Validate(); err != nil {
		c.hub.sendError(c, model.EventMessageError, err)
		return
	}
	if p.UserID != c.userID {
		c.hub.sendError(c, model.EventMessageError, model.ErrAuth)
		return
	}
	if c.joined {
		return
	}
	c.joined = true
	c.hub.register <- c
}

func (c *Client) decode(raw json.RawMessage, out any, errEvent string) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		c.hub.sendError(c, errEvent, model.Validationf("malformed payload"))
		return false
	}
	return true
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// serveWs authenticates the bearer token, upgrades the connection and
// starts the pumps. The token decides the connection's identity once,
// here; presence is not registered until the client sends join.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Query param fallback for websocket clients that cannot set headers.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	claims, err := auth.ValidateToken(tokenString)
	if err != nil {
		logger.Log.Warn("token_rejected", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: claims.UserID,
		connID: uuid.NewString(),
	}

	go client.writePump()
	go client.readPump()
}
