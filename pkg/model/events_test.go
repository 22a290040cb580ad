package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := NewEnvelope(EventSendMessage, SendMessagePayload{
		SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: TypeText,
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventSendMessage, env.Event)

	var p SendMessagePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "alice", p.SenderID)
	assert.Equal(t, "hi", p.Content)
}

func TestSendMessageValidation(t *testing.T) {
	valid := SendMessagePayload{SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: TypeText}
	require.NoError(t, valid.Validate())

	cases := map[string]SendMessagePayload{
		"missing sender": {ReceiverID: "bob", Content: "hi", Type: TypeText},
		"no target":      {SenderID: "alice", Content: "hi", Type: TypeText},
		"both targets":   {SenderID: "alice", ReceiverID: "bob", GroupID: "g1", Content: "hi", Type: TypeText},
		"unknown type":   {SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: "gif"},
		"empty body":     {SenderID: "alice", ReceiverID: "bob", Type: TypeText},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSendMessageFileWithoutContent(t *testing.T) {
	p := SendMessagePayload{
		SenderID: "alice", ReceiverID: "bob",
		Type: TypeImage, FileURL: "https://files/img.png", FileName: "img.png",
	}
	assert.NoError(t, p.Validate(), "a file reference stands in for content")
}

func TestReactionValidation(t *testing.T) {
	require.NoError(t, ReactionPayload{MessageID: 7, UserID: "bob", Emoji: "👍"}.Validate())

	assert.ErrorIs(t, ReactionPayload{UserID: "bob", Emoji: "👍"}.Validate(), ErrValidation)
	assert.ErrorIs(t, ReactionPayload{MessageID: 7, Emoji: "👍"}.Validate(), ErrValidation)
	assert.ErrorIs(t, ReactionPayload{MessageID: 7, UserID: "bob"}.Validate(), ErrValidation)
}

func TestEditMessageValidation(t *testing.T) {
	require.NoError(t, EditMessagePayload{MessageID: 7, SenderID: "alice", Content: "fixed"}.Validate())
	assert.ErrorIs(t, EditMessagePayload{SenderID: "alice", Content: "x"}.Validate(), ErrValidation)
	assert.ErrorIs(t, EditMessagePayload{MessageID: 7, SenderID: "alice"}.Validate(), ErrValidation)
}

func TestTypingValidation(t *testing.T) {
	require.NoError(t, TypingPayload{SenderID: "alice", ReceiverID: "bob", IsTyping: true}.Validate())
	require.NoError(t, TypingPayload{SenderID: "alice", GroupID: "g1"}.Validate())

	assert.ErrorIs(t, TypingPayload{ReceiverID: "bob"}.Validate(), ErrValidation)
	assert.ErrorIs(t, TypingPayload{SenderID: "alice"}.Validate(), ErrValidation)
	assert.ErrorIs(t, TypingPayload{SenderID: "alice", ReceiverID: "bob", GroupID: "g1"}.Validate(), ErrValidation)
}

func TestJoinAndGroupRefValidation(t *testing.T) {
	require.NoError(t, JoinPayload{UserID: "alice"}.Validate())
	assert.ErrorIs(t, JoinPayload{}.Validate(), ErrValidation)

	require.NoError(t, GroupRefPayload{GroupID: "g1"}.Validate())
	assert.ErrorIs(t, GroupRefPayload{}.Validate(), ErrValidation)
}

func TestKnownType(t *testing.T) {
	for _, mt := range []MessageType{TypeText, TypeImage, TypeFile, TypeVoice} {
		assert.True(t, KnownType(mt))
	}
	assert.False(t, KnownType("sticker"))
	assert.False(t, KnownType(""))
}
