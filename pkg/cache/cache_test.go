package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupahar/relay/pkg/model"
)

func directMsg(id int64, sender, receiver, content string, at time.Time) model.Message {
	return model.Message{
		ID: id, SenderID: sender, ReceiverID: receiver,
		Content: content, Type: model.TypeText,
		CreatedAt: at, UpdatedAt: at,
	}
}

func TestKeyResolution(t *testing.T) {
	c := New("alice")
	at := time.Now()

	assert.Equal(t, "bob", c.Key(directMsg(1, "alice", "bob", "hi", at)))
	assert.Equal(t, "bob", c.Key(directMsg(2, "bob", "alice", "yo", at)))
	assert.Equal(t, "g1", c.Key(model.Message{ID: 3, SenderID: "bob", GroupID: "g1"}))
}

func TestSnapshotMergeIsIdempotent(t *testing.T) {
	c := New("alice")
	at := time.Now()
	snapshot := []model.Message{
		directMsg(2, "bob", "alice", "second", at.Add(time.Second)),
		directMsg(1, "alice", "bob", "first", at),
	}

	c.ApplySnapshot("bob", snapshot)
	once := c.Messages("bob")

	c.ApplySnapshot("bob", snapshot)
	twice := c.Messages("bob")

	assert.Equal(t, once, twice)
	require.Len(t, twice, 2)
	assert.Equal(t, int64(1), twice[0].ID, "messages sorted by creation time")
}

func TestSnapshotMergesOverCachedState(t *testing.T) {
	c := New("alice")
	at := time.Now()

	// cached from a previous run: message 1 only
	c.ApplySnapshot("bob", []model.Message{directMsg(1, "alice", "bob", "old", at)})
	// snapshot has messages 1 and 2; 1 carries a reaction now
	updated := directMsg(1, "alice", "bob", "old", at)
	updated.Reactions = []model.Reaction{{UserID: "bob", Emoji: "👍", CreatedAt: at}}
	c.ApplySnapshot("bob", []model.Message{updated, directMsg(2, "bob", "alice", "new", at.Add(time.Second))})

	msgs := c.Messages("bob")
	require.Len(t, msgs, 2, "union by id, not replace")
	require.Len(t, msgs[0].Reactions, 1, "known id updated in place")
}

func TestPushUpdatesInPlace(t *testing.T) {
	c := New("alice")
	at := time.Now()
	c.ApplyEvent(model.EventReceiveMessage, directMsg(1, "bob", "alice", "hi", at))

	edited := directMsg(1, "bob", "alice", "hi there", at)
	edited.Edited = true
	edited.UpdatedAt = at.Add(time.Minute)
	c.ApplyEvent(model.EventMessageUpdated, edited)

	msgs := c.Messages("bob")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Edited)
	assert.Equal(t, "hi there", msgs[0].Content)
}

func TestUnreadCounting(t *testing.T) {
	c := New("alice")
	at := time.Now()

	// not the active view: counts
	c.ApplyEvent(model.EventReceiveMessage, directMsg(1, "bob", "alice", "one", at))
	c.ApplyEvent(model.EventReceiveMessage, directMsg(2, "bob", "alice", "two", at.Add(time.Second)))
	assert.Equal(t, 2, c.Unread("bob"))

	// own echo never counts
	c.ApplyEvent(model.EventMessageSent, directMsg(3, "alice", "bob", "reply", at.Add(2*time.Second)))
	assert.Equal(t, 2, c.Unread("bob"))

	// an update to a known message is not a new arrival
	c.ApplyEvent(model.EventMessageUpdated, directMsg(1, "bob", "alice", "one", at))
	assert.Equal(t, 2, c.Unread("bob"))

	// opening the conversation clears it
	c.SetActive("bob")
	assert.Equal(t, 0, c.Unread("bob"))

	// active view: arrivals do not count
	c.ApplyEvent(model.EventReceiveMessage, directMsg(4, "bob", "alice", "three", at.Add(3*time.Second)))
	assert.Equal(t, 0, c.Unread("bob"))
}

func TestDuplicatePushDoesNotDoubleCount(t *testing.T) {
	c := New("alice")
	at := time.Now()
	m := directMsg(1, "bob", "alice", "hi", at)

	c.ApplyEvent(model.EventReceiveMessage, m)
	c.ApplyEvent(model.EventReceiveMessage, m)

	assert.Equal(t, 1, c.Unread("bob"))
	assert.Len(t, c.Messages("bob"), 1)
}

func TestConversationsSummary(t *testing.T) {
	c := New("alice")
	at := time.Now()

	c.ApplyEvent(model.EventReceiveMessage, directMsg(1, "bob", "alice", "old", at))
	c.ApplyEvent(model.EventReceiveMessage, model.Message{
		ID: 2, SenderID: "carol", GroupID: "g1", Content: "newer",
		Type: model.TypeText, CreatedAt: at.Add(time.Minute), UpdatedAt: at.Add(time.Minute),
	})

	convs := c.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "g1", convs[0].Key, "most recent conversation first")
	assert.Equal(t, "newer", convs[0].Last.Content)
	assert.Equal(t, 1, convs[1].Unread)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	at := time.Now().UTC().Truncate(time.Millisecond)

	c := New("alice")
	c.ApplyEvent(model.EventReceiveMessage, directMsg(1, "bob", "alice", "hi", at))
	require.NoError(t, c.Save(path))

	reloaded := New("alice")
	require.NoError(t, reloaded.Load(path))

	msgs := reloaded.Messages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, 1, reloaded.Unread("bob"), "unread survives restarts")
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	c := New("alice")
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "absent.json")))
	assert.Empty(t, c.Conversations())
}
