package main

import (
	"errors"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/dupahar/relay/pkg/logger"
	"github.com/dupahar/relay/pkg/model"
	"github.com/dupahar/relay/pkg/presence"
	"github.com/dupahar/relay/pkg/reaction"
	"github.com/dupahar/relay/pkg/snowflake"
)

var (
	eventsDelivered   = metrics.NewCounter("relay_events_delivered_total")
	eventsDropped     = metrics.NewCounter("relay_events_dropped_total")
	messagesPersisted = metrics.NewCounter("relay_messages_persisted_total")
)

// Store is the durable state the hub reads and mutates. The production
// implementation is *store.Store.
type Store interface {
	UpdateUsers(fn func([]model.User) ([]model.User, error)) error
	UpdateMessages(fn func([]model.Message) ([]model.Message, error)) error
	FindGroup(groupID string) (model.Group, error)
}

// Hub routes every persisted or ephemeral event to its recipient
// connections. Direct and group messages are unicast to each recipient's
// private connection set; only typing signals use the shared group rooms,
// since stale typing fanout is harmless and carries no persistence.
type Hub struct {
	store    Store
	registry *presence.Registry
	ids      *snowflake.Node

	presenceMirror *presenceMirror
	eventMirror    *eventMirror

	mu      sync.RWMutex
	clients map[string]map[*Client]bool // user ID -> connections
	rooms   map[string]map[*Client]bool // group ID -> signaling room

	register   chan *Client
	unregister chan *Client
}

func NewHub(st Store, registry *presence.Registry, ids *snowflake.Node, pm *presenceMirror, em *eventMirror) *Hub {
	return &Hub{
		store:          st,
		registry:       registry,
		ids:            ids,
		presenceMirror: pm,
		eventMirror:    em,
		clients:        make(map[string]map[*Client]bool),
		rooms:          make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*Client]bool)
	}
	h.clients[c.userID][c] = true
	h.mu.Unlock()

	first := h.registry.MarkOnline(c.userID, c.connID)
	logger.Log.Info("client_joined", zap.String("user", c.userID), zap.String("conn", c.connID), zap.Bool("first", first))
	if !first {
		return
	}

	// store update happens before the presence broadcast
	h.setUserOnline(c.userID, true)
	h.presenceMirror.setOnline(c.userID, true)
	h.broadcastPresence(model.EventUserOnline, c.userID)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.userID]; ok && conns[c] {
		delete(conns, c)
		close(c.send)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
	for groupID, room := range h.rooms {
		if room[c] {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, groupID)
			}
		}
	}
	h.mu.Unlock()

	last := h.registry.MarkOffline(c.userID, c.connID)
	logger.Log.Info("client_left", zap.String("user", c.userID), zap.String("conn", c.connID), zap.Bool("last", last))
	if !last {
		return
	}

	h.setUserOnline(c.userID, false)
	h.presenceMirror.setOnline(c.userID, false)
	h.broadcastPresence(model.EventUserOffline, c.userID)
}

// setUserOnline flips the durable online flag and last-seen timestamp. A
// failure here is logged only: presence stays correct in memory and the
// record converges on the next transition.
func (h *Hub) setUserOnline(userID string, online bool) {
	err := h.store.UpdateUsers(func(users []model.User) ([]model.User, error) {
		for i := range users {
			if users[i].ID == userID {
				users[i].Online = online
				users[i].LastSeen = time.Now()
			}
		}
		return users, nil
	})
	if err != nil {
		logger.Log.Error("presence_store_update_failed", zap.String("user", userID), zap.Error(err))
	}
}

// HandleSend validates, persists and fans out one message. The sender
// gets a message_sent echo; every other recipient gets receive_message.
// Nothing is fanned out unless the write succeeded.
func (h *Hub) HandleSend(c *Client, p model.SendMessagePayload) {
	if err := p.Validate(); err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}

	var roster []string
	if p.GroupID != "" {
		g, err := h.store.FindGroup(p.GroupID)
		if err != nil {
			h.sendError(c, model.EventMessageError, err)
			return
		}
		if !g.HasMember(p.SenderID) {
			h.sendError(c, model.EventMessageError, model.Validationf("sender is not a member of group %s", p.GroupID))
			return
		}
	}

	now := time.Now()
	msg := model.Message{
		ID:         h.ids.Generate(),
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		GroupID:    p.GroupID,
		Content:    p.Content,
		Type:       p.Type,
		FileURL:    p.FileURL,
		FileName:   p.FileName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := h.store.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return append(msgs, msg), nil
	})
	if err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}
	messagesPersisted.Inc()
	h.eventMirror.publish(model.EventReceiveMessage, msg)

	if msg.GroupID != "" {
		// roster is read at delivery time, never cached
		roster = h.rosterFor(msg.GroupID)
	}
	h.fanout(msg, model.EventMessageSent, model.EventReceiveMessage, roster)
}

// HandleReaction applies the toggle reducer inside the messages write
// lock, then fans out the updated message to the same recipient set as
// its parent.
func (h *Hub) HandleReaction(c *Client, p model.ReactionPayload) {
	if err := p.Validate(); err != nil {
		h.sendError(c, model.EventReactionError, err)
		return
	}

	var updated model.Message
	err := h.store.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		for i := range msgs {
			if msgs[i].ID == p.MessageID {
				updated = reaction.Apply(msgs[i], p.UserID, p.Emoji, time.Now())
				msgs[i] = updated
				return msgs, nil
			}
		}
		return nil, model.NotFoundf("message %d", p.MessageID)
	})
	if err != nil {
		h.sendError(c, model.EventReactionError, err)
		return
	}
	h.eventMirror.publish(model.EventMessageUpdated, updated)

	var roster []string
	if updated.GroupID != "" {
		roster = h.rosterFor(updated.GroupID)
	}
	h.fanout(updated, model.EventMessageUpdated, model.EventMessageUpdated, roster)
}

// HandleEdit rewrites a message's content. Only the original sender may
// edit; id, sender and target stay immutable.
func (h *Hub) HandleEdit(c *Client, p model.EditMessagePayload) {
	if err := p.Validate(); err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}

	var updated model.Message
	err := h.store.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		for i := range msgs {
			if msgs[i].ID != p.MessageID {
				continue
			}
			if msgs[i].SenderID != p.SenderID {
				return nil, model.ErrAuth
			}
			msgs[i].Content = p.Content
			msgs[i].Edited = true
			msgs[i].UpdatedAt = time.Now()
			updated = msgs[i]
			return msgs, nil
		}
		return nil, model.NotFoundf("message %d", p.MessageID)
	})
	if err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}
	h.eventMirror.publish(model.EventMessageUpdated, updated)

	var roster []string
	if updated.GroupID != "" {
		roster = h.rosterFor(updated.GroupID)
	}
	h.fanout(updated, model.EventMessageUpdated, model.EventMessageUpdated, roster)
}

// HandleTyping relays a typing signal. Direct signals unicast to the
// receiver; group signals broadcast in the group's signaling room. No
// persistence, no server-side expiry: the sending client owns the
// debounce and the closing isTyping=false.
func (h *Hub) HandleTyping(c *Client, p model.TypingPayload) {
	if err := p.Validate(); err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}

	notice := model.UserTypingPayload{UserID: p.SenderID, GroupID: p.GroupID, IsTyping: p.IsTyping}
	frame, err := model.NewEnvelope(model.EventUserTyping, notice)
	if err != nil {
		return
	}

	if p.ReceiverID != "" {
		h.deliverUser(p.ReceiverID, frame)
		return
	}
	h.deliverRoom(p.GroupID, frame, c)
}

// JoinGroup subscribes the connection to a group's signaling room. Only
// members may join; message fanout never depends on this room.
func (h *Hub) JoinGroup(c *Client, groupID string) {
	g, err := h.store.FindGroup(groupID)
	if err != nil {
		h.sendError(c, model.EventMessageError, err)
		return
	}
	if !g.HasMember(c.userID) {
		h.sendError(c, model.EventMessageError, model.Validationf("not a member of group %s", groupID))
		return
	}

	h.mu.Lock()
	if h.rooms[groupID] == nil {
		h.rooms[groupID] = make(map[*Client]bool)
	}
	h.rooms[groupID][c] = true
	h.mu.Unlock()
}

func (h *Hub) LeaveGroup(c *Client, groupID string) {
	h.mu.Lock()
	if room, ok := h.rooms[groupID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, groupID)
		}
	}
	h.mu.Unlock()
}

// rosterFor reads the member set from the store at delivery time. On a
// read failure the roster is empty: the message is already durable and
// recipients will catch up from the snapshot API.
func (h *Hub) rosterFor(groupID string) []string {
	g, err := h.store.FindGroup(groupID)
	if err != nil {
		logger.Log.Error("roster_read_failed", zap.String("group", groupID), zap.Error(err))
		return nil
	}
	return g.Members
}

// fanout delivers msg to its recipient set: the sender always gets
// echoEvent on every connection, everyone else gets recvEvent. Delivery
// is fire and forget per recipient; one unreachable member never blocks
// the others.
func (h *Hub) fanout(msg model.Message, echoEvent, recvEvent string, roster []string) {
	echo, err := model.NewEnvelope(echoEvent, msg)
	if err != nil {
		logger.Log.Error("encode_failed", zap.String("event", echoEvent), zap.Error(err))
		return
	}
	h.deliverUser(msg.SenderID, echo)

	recv := echo
	if recvEvent != echoEvent {
		if recv, err = model.NewEnvelope(recvEvent, msg); err != nil {
			return
		}
	}

	if msg.Direct() {
		h.deliverUser(msg.ReceiverID, recv)
		return
	}
	for _, member := range roster {
		if member == msg.SenderID {
			continue
		}
		h.deliverUser(member, recv)
	}
}

// deliverUser pushes a frame to every connection of one user. Offline
// users are skipped silently; a connection with a full send buffer drops
// the frame rather than blocking the caller.
func (h *Hub) deliverUser(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- frame:
			eventsDelivered.Inc()
		default:
			eventsDropped.Inc()
			logger.Log.Warn("delivery_dropped", zap.String("user", userID), zap.String("conn", c.connID))
		}
	}
}

func (h *Hub) deliverRoom(groupID string, frame []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[groupID] {
		if c == except {
			continue
		}
		select {
		case c.send <- frame:
			eventsDelivered.Inc()
		default:
			eventsDropped.Inc()
		}
	}
}

// broadcastPresence tells every other connected client about a presence
// transition.
func (h *Hub) broadcastPresence(event, userID string) {
	frame, err := model.NewEnvelope(event, model.PresencePayload{UserID: userID})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for uid, conns := range h.clients {
		if uid == userID {
			continue
		}
		for c := range conns {
			select {
			case c.send <- frame:
				eventsDelivered.Inc()
			default:
				eventsDropped.Inc()
			}
		}
	}
}

// sendError reports a failure to the originating connection only.
func (h *Hub) sendError(c *Client, event string, opErr error) {
	if errors.Is(opErr, model.ErrPersistence) {
		logger.Log.Error("operation_aborted", zap.String("user", c.userID), zap.Error(opErr))
	}
	frame, err := model.NewEnvelope(event, model.ErrorPayload{Error: opErr.Error()})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		eventsDropped.Inc()
	}
}
