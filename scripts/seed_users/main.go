// Seeds a handful of users and one demo group into the store. Run while
// the server is stopped; the database is single-process.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/dupahar/relay/pkg/model"
	"github.com/dupahar/relay/pkg/store"
)

func main() {
	dataDir := flag.String("data", "relay-data", "store directory")
	flag.Parse()

	st, err := store.Open(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	now := time.Now()
	seed := []model.User{
		{ID: "alice", Username: "Alice", LastSeen: now},
		{ID: "bob", Username: "Bob", LastSeen: now},
		{ID: "carol", Username: "Carol", LastSeen: now},
	}

	err = st.UpdateUsers(func(users []model.User) ([]model.User, error) {
		for _, u := range seed {
			exists := false
			for _, have := range users {
				if have.ID == u.ID {
					exists = true
					break
				}
			}
			if !exists {
				users = append(users, u)
			}
		}
		return users, nil
	})
	if err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}

	err = st.UpdateGroups(func(groups []model.Group) ([]model.Group, error) {
		for _, g := range groups {
			if g.ID == "demo" {
				return groups, nil
			}
		}
		return append(groups, model.Group{
			ID:        "demo",
			Name:      "Demo Room",
			Members:   []string{"alice", "bob", "carol"},
			CreatorID: "alice",
			CreatedAt: now,
			UpdatedAt: now,
		}), nil
	})
	if err != nil {
		log.Fatalf("Failed to seed group: %v", err)
	}

	log.Println("Seeded users alice, bob, carol and group demo")
}
