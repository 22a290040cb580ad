// Package reaction holds the pure reducer for reaction toggles.
package reaction

import (
	"time"

	"github.com/dupahar/relay/pkg/model"
)

// Apply returns msg with the user's reaction toggled. A user has at most
// one reaction per message:
//
//   - no existing reaction: the new one is appended
//   - same emoji as the existing one: the reaction is removed
//   - different emoji: the existing reaction is replaced in place
//
// UpdatedAt is always set to now. The input message is not mutated; the
// reaction slice is copied before any change.
func Apply(msg model.Message, userID, emoji string, now time.Time) model.Message {
	reactions := make([]model.Reaction, 0, len(msg.Reactions)+1)

	replaced := false
	for _, r := range msg.Reactions {
		if r.UserID != userID {
			reactions = append(reactions, r)
			continue
		}
		if r.Emoji == emoji {
			// toggle off: drop the entry
			continue
		}
		reactions = append(reactions, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: now})
		replaced = true
	}

	if !replaced && !hadReaction(msg.Reactions, userID) {
		reactions = append(reactions, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: now})
	}

	msg.Reactions = reactions
	msg.UpdatedAt = now
	return msg
}

func hadReaction(reactions []model.Reaction, userID string) bool {
	for _, r := range reactions {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
