package model

import "time"

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeVoice MessageType = "voice"
)

// KnownType reports whether t is one of the supported message types.
func KnownType(t MessageType) bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeVoice:
		return true
	}
	return false
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
}

// Reaction is one user's emoji on a message. A user holds at most one
// reaction per message; a second reaction replaces or clears the first.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Message carries exactly one of ReceiverID (direct) or GroupID (group).
// ID, SenderID and the target are immutable after creation; only
// Reactions, Content (via edit), Edited and UpdatedAt may change.
type Message struct {
	ID         int64       `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id,omitempty"`
	GroupID    string      `json:"group_id,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
	Edited     bool        `json:"edited,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Direct reports whether the message targets a single receiver.
func (m Message) Direct() bool {
	return m.ReceiverID != ""
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
