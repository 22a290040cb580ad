package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupahar/relay/pkg/model"
	"github.com/dupahar/relay/pkg/reaction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestReadMissingCollectionIsEmpty(t *testing.T) {
	st := openTestStore(t)

	users, err := st.ReadUsers()
	require.NoError(t, err)
	assert.Empty(t, users)

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	st := openTestStore(t)

	err := st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return append(msgs, model.Message{ID: 1, SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: model.TypeText}), nil
	})
	require.NoError(t, err)

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].SenderID)
}

func TestUpdateErrorLeavesCollectionUntouched(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return append(msgs, model.Message{ID: 1}), nil
	}))

	err := st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return nil, model.NotFoundf("message 99")
	})
	require.ErrorIs(t, err, model.ErrNotFound)

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// Two goroutines toggling reactions on the same message must both land:
// the per-collection writer lock serializes their read-modify-write
// cycles.
func TestConcurrentReactionsNoLostUpdate(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return append(msgs, model.Message{ID: 7, SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: model.TypeText}), nil
	}))

	react := func(userID string) error {
		return st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
			for i := range msgs {
				if msgs[i].ID == 7 {
					msgs[i] = reaction.Apply(msgs[i], userID, "👍", time.Now())
					return msgs, nil
				}
			}
			return nil, model.NotFoundf("message 7")
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = react(user)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	users := map[string]bool{}
	for _, r := range msgs[0].Reactions {
		users[r.UserID] = true
	}
	assert.True(t, users["alice"], "alice's reaction was lost")
	assert.True(t, users["bob"], "bob's reaction was lost")
}

func TestConcurrentAppendsAllPersist(t *testing.T) {
	st := openTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
				return append(msgs, model.Message{ID: int64(i + 1), SenderID: "alice", ReceiverID: "bob", Type: model.TypeText}), nil
			})
		}()
	}
	wg.Wait()

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	assert.Len(t, msgs, n)
}

func TestFindGroup(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpdateGroups(func(groups []model.Group) ([]model.Group, error) {
		return append(groups, model.Group{ID: "g1", Name: "one", Members: []string{"alice"}, CreatorID: "alice"}), nil
	}))

	g, err := st.FindGroup("g1")
	require.NoError(t, err)
	assert.Equal(t, "one", g.Name)

	_, err = st.FindGroup("nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteGroupCascade(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpdateGroups(func(groups []model.Group) ([]model.Group, error) {
		return append(groups,
			model.Group{ID: "g1", Members: []string{"alice", "bob"}, CreatorID: "alice"},
			model.Group{ID: "g2", Members: []string{"alice"}, CreatorID: "alice"},
		), nil
	}))
	require.NoError(t, st.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		return append(msgs,
			model.Message{ID: 1, SenderID: "alice", GroupID: "g1", Type: model.TypeText},
			model.Message{ID: 2, SenderID: "alice", GroupID: "g2", Type: model.TypeText},
			model.Message{ID: 3, SenderID: "alice", ReceiverID: "bob", Type: model.TypeText},
		), nil
	}))

	require.NoError(t, st.DeleteGroupCascade("g1"))

	groups, err := st.ReadGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g2", groups[0].ID)

	msgs, err := st.ReadMessages()
	require.NoError(t, err)
	ids := []int64{}
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []int64{2, 3}, ids)

	assert.ErrorIs(t, st.DeleteGroupCascade("g1"), model.ErrNotFound)
}

func TestCollectionsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.UpdateUsers(func(users []model.User) ([]model.User, error) {
		return append(users, model.User{ID: "alice", Username: "Alice"}), nil
	}))
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	users, err := st.ReadUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].Username)
}
