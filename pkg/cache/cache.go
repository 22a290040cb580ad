// Package cache is the client-side view of conversations. It merges three
// weakly synchronized sources into one consistent state: the local cache
// file from a previous run, authoritative REST snapshots, and live push
// events. Messages merge by ID (set union), never by replacement, so any
// of the sources may arrive repeatedly or out of order.
package cache

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/dupahar/relay/pkg/model"
)

// Conversation is the derived per-peer (or per-group) view: the merged
// message list plus a client-local unread counter. The counter has no
// server-side equivalent and can drift between two devices of the same
// user; that is a known limitation, not a bug to fix here.
type Conversation struct {
	Key      string          `json:"key"`
	Messages []model.Message `json:"messages"`
	Unread   int             `json:"unread"`
}

// Summary is one row of the conversation list: the key plus the most
// recent message exchanged.
type Summary struct {
	Key    string
	Last   model.Message
	Unread int
}

type Cache struct {
	mu     sync.Mutex
	selfID string
	active string
	convs  map[string]*Conversation
}

func New(selfID string) *Cache {
	return &Cache{
		selfID: selfID,
		convs:  make(map[string]*Conversation),
	}
}

// Key returns the conversation key for a message as seen by the viewing
// user: the group ID for group messages, otherwise the other party.
func (c *Cache) Key(m model.Message) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.SenderID == c.selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Load replaces the cache contents from a local snapshot file. A missing
// file is not an error; the cache just starts empty.
func (c *Cache) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var convs []*Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convs = make(map[string]*Conversation, len(convs))
	for _, conv := range convs {
		c.convs[conv.Key] = conv
	}
	return nil
}

// Save writes the cache to a local snapshot file.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	convs := make([]*Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	sort.Slice(convs, func(i, j int) bool { return convs[i].Key < convs[j].Key })
	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplySnapshot merges an authoritative REST snapshot into the named
// conversation. Applying the same snapshot twice is a no-op the second
// time. Unread counters are not touched: snapshots describe history, not
// arrival.
func (c *Cache) ApplySnapshot(key string, msgs []model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.conversation(key)
	for _, m := range msgs {
		mergeMessage(conv, m)
	}
	sortMessages(conv)
}

// ApplyEvent folds one live push event into the cache and reports whether
// it changed anything. Unread increments only for messages from someone
// else arriving while the conversation is not the active view.
func (c *Cache) ApplyEvent(event string, m model.Message) bool {
	switch event {
	case model.EventReceiveMessage, model.EventMessageSent, model.EventMessageUpdated:
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Key(m)
	conv := c.conversation(key)
	added := mergeMessage(conv, m)
	sortMessages(conv)

	if added && event == model.EventReceiveMessage && m.SenderID != c.selfID && key != c.active {
		conv.Unread++
	}
	return true
}

// SetActive marks a conversation as the one on screen and clears its
// unread counter. An empty key means no conversation is active.
func (c *Cache) SetActive(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = key
	if key == "" {
		return
	}
	c.conversation(key).Unread = 0
}

func (c *Cache) Unread(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[key]; ok {
		return conv.Unread
	}
	return 0
}

// Messages returns a copy of the merged, ordered message list.
func (c *Cache) Messages(key string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[key]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// Conversations lists one summary per known conversation, most recent
// first.
func (c *Cache) Conversations() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Summary
	for key, conv := range c.convs {
		if len(conv.Messages) == 0 {
			continue
		}
		out = append(out, Summary{
			Key:    key,
			Last:   conv.Messages[len(conv.Messages)-1],
			Unread: conv.Unread,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Last.CreatedAt.After(out[j].Last.CreatedAt)
	})
	return out
}

func (c *Cache) conversation(key string) *Conversation {
	conv, ok := c.convs[key]
	if !ok {
		conv = &Conversation{Key: key}
		c.convs[key] = conv
	}
	return conv
}

// mergeMessage unions m into the conversation. A known ID updates the
// existing entry in place (reaction and edit pushes reuse the message
// shape); a new ID appends. Returns true when the ID was new.
func mergeMessage(conv *Conversation, m model.Message) bool {
	for i, existing := range conv.Messages {
		if existing.ID == m.ID {
			conv.Messages[i] = m
			return false
		}
	}
	conv.Messages = append(conv.Messages, m)
	return true
}

func sortMessages(conv *Conversation) {
	sort.SliceStable(conv.Messages, func(i, j int) bool {
		a, b := conv.Messages[i], conv.Messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
