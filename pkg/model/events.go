package model

import "encoding/json"

// Client -> server events.
const (
	EventJoin            = "join"
	EventSendMessage     = "send_message"
	EventMessageReaction = "message_reaction"
	EventEditMessage     = "edit_message"
	EventTyping          = "typing"
	EventJoinGroup       = "join_group"
	EventLeaveGroup      = "leave_group"
)

// Server -> client events.
const (
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageUpdated = "message_updated"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventUserTyping     = "user_typing"
	EventMessageError   = "message_error"
	EventReactionError  = "reaction_error"
)

// Envelope is the wire frame for every websocket event. Payload shapes
// are one fixed struct per event name, validated before any persistence
// or fanout happens.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

type JoinPayload struct {
	UserID string `json:"user_id"`
}

func (p JoinPayload) Validate() error {
	if p.UserID == "" {
		return Validationf("join requires user_id")
	}
	return nil
}

type SendMessagePayload struct {
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id,omitempty"`
	GroupID    string      `json:"group_id,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
}

func (p SendMessagePayload) Validate() error {
	if p.SenderID == "" {
		return Validationf("send_message requires sender_id")
	}
	if (p.ReceiverID == "") == (p.GroupID == "") {
		return Validationf("send_message requires exactly one of receiver_id, group_id")
	}
	if !KnownType(p.Type) {
		return Validationf("unknown message type %q", p.Type)
	}
	if p.Content == "" && p.FileURL == "" {
		return Validationf("send_message requires content or a file reference")
	}
	return nil
}

type ReactionPayload struct {
	MessageID int64  `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

func (p ReactionPayload) Validate() error {
	if p.MessageID == 0 {
		return Validationf("message_reaction requires message_id")
	}
	if p.UserID == "" {
		return Validationf("message_reaction requires user_id")
	}
	if p.Emoji == "" {
		return Validationf("message_reaction requires emoji")
	}
	return nil
}

type EditMessagePayload struct {
	MessageID int64  `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
}

func (p EditMessagePayload) Validate() error {
	if p.MessageID == 0 {
		return Validationf("edit_message requires message_id")
	}
	if p.SenderID == "" {
		return Validationf("edit_message requires sender_id")
	}
	if p.Content == "" {
		return Validationf("edit_message requires content")
	}
	return nil
}

type TypingPayload struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

func (p TypingPayload) Validate() error {
	if p.SenderID == "" {
		return Validationf("typing requires sender_id")
	}
	if (p.ReceiverID == "") == (p.GroupID == "") {
		return Validationf("typing requires exactly one of receiver_id, group_id")
	}
	return nil
}

type GroupRefPayload struct {
	GroupID string `json:"group_id"`
}

func (p GroupRefPayload) Validate() error {
	if p.GroupID == "" {
		return Validationf("group_id is required")
	}
	return nil
}

type PresencePayload struct {
	UserID string `json:"user_id"`
}

type UserTypingPayload struct {
	UserID   string `json:"user_id"`
	GroupID  string `json:"group_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
