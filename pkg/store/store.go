// Package store persists the three durable collections (users, messages,
// groups) in a local Pebble database. Each collection lives under a single
// key and is replaced wholesale on write, so a write is atomic per
// collection and a missing collection reads as empty.
//
// The store gives no isolation between a read and the write that follows
// it. Every mutation must go through the Update* methods, which hold a
// per-collection mutex around the whole read-modify-write cycle. The three
// collection locks are independent so a message append never contends with
// a profile update.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/dupahar/relay/pkg/logger"
	"github.com/dupahar/relay/pkg/model"
)

const (
	collUsers    = "users"
	collMessages = "messages"
	collGroups   = "groups"
)

type Store struct {
	db *pebble.DB

	// one writer at a time per collection
	locks map[string]*sync.Mutex
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrPersistence, path, err)
	}
	logger.Log.Info("store_opened", zap.String("path", path))
	return &Store{
		db: db,
		locks: map[string]*sync.Mutex{
			collUsers:    {},
			collMessages: {},
			collGroups:   {},
		},
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(collection string) []byte {
	return []byte("collection:" + collection)
}

// readCollection unmarshals the collection value into out. An absent
// collection leaves out untouched and is not an error.
func (s *Store) readCollection(collection string, out any) error {
	val, closer, err := s.db.Get(key(collection))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", model.ErrPersistence, collection, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrPersistence, collection, err)
	}
	return nil
}

// writeCollection atomically replaces the whole collection value.
func (s *Store) writeCollection(collection string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrPersistence, collection, err)
	}
	if err := s.db.Set(key(collection), data, pebble.Sync); err != nil {
		logger.Log.Error("store_write_failed", zap.String("collection", collection), zap.Error(err))
		return fmt.Errorf("%w: write %s: %v", model.ErrPersistence, collection, err)
	}
	return nil
}

func (s *Store) ReadUsers() ([]model.User, error) {
	var users []model.User
	if err := s.readCollection(collUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ReadMessages() ([]model.Message, error) {
	var msgs []model.Message
	if err := s.readCollection(collMessages, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) ReadGroups() ([]model.Group, error) {
	var groups []model.Group
	if err := s.readCollection(collGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// UpdateUsers runs fn inside the users write lock. fn receives the current
// records and returns the replacement set.
func (s *Store) UpdateUsers(fn func([]model.User) ([]model.User, error)) error {
	mu := s.locks[collUsers]
	mu.Lock()
	defer mu.Unlock()

	users, err := s.ReadUsers()
	if err != nil {
		return err
	}
	users, err = fn(users)
	if err != nil {
		return err
	}
	return s.writeCollection(collUsers, users)
}

// UpdateMessages is the single writer path for the messages collection.
// Concurrent senders and reactors serialize here; skipping this and doing
// a bare read+write loses updates.
func (s *Store) UpdateMessages(fn func([]model.Message) ([]model.Message, error)) error {
	mu := s.locks[collMessages]
	mu.Lock()
	defer mu.Unlock()

	msgs, err := s.ReadMessages()
	if err != nil {
		return err
	}
	msgs, err = fn(msgs)
	if err != nil {
		return err
	}
	return s.writeCollection(collMessages, msgs)
}

func (s *Store) UpdateGroups(fn func([]model.Group) ([]model.Group, error)) error {
	mu := s.locks[collGroups]
	mu.Lock()
	defer mu.Unlock()

	groups, err := s.ReadGroups()
	if err != nil {
		return err
	}
	groups, err = fn(groups)
	if err != nil {
		return err
	}
	return s.writeCollection(collGroups, groups)
}

// FindGroup returns the group with the given ID.
func (s *Store) FindGroup(groupID string) (model.Group, error) {
	groups, err := s.ReadGroups()
	if err != nil {
		return model.Group{}, err
	}
	for _, g := range groups {
		if g.ID == groupID {
			return g, nil
		}
	}
	return model.Group{}, model.NotFoundf("group %s", groupID)
}

// DeleteGroupCascade removes a group and every message addressed to it.
// This is the only path that destroys messages. Locks are taken in a
// fixed order (groups, then messages) so concurrent cascades cannot
// deadlock.
func (s *Store) DeleteGroupCascade(groupID string) error {
	gmu := s.locks[collGroups]
	gmu.Lock()
	defer gmu.Unlock()

	groups, err := s.ReadGroups()
	if err != nil {
		return err
	}
	found := false
	kept := groups[:0]
	for _, g := range groups {
		if g.ID == groupID {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	if !found {
		return model.NotFoundf("group %s", groupID)
	}
	if err := s.writeCollection(collGroups, kept); err != nil {
		return err
	}

	return s.UpdateMessages(func(msgs []model.Message) ([]model.Message, error) {
		out := msgs[:0]
		for _, m := range msgs {
			if m.GroupID == groupID {
				continue
			}
			out = append(out, m)
		}
		return out, nil
	})
}
