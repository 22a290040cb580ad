// Dumps the three collections as JSON for inspection. Run while the
// server is stopped.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"

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

	users, err := st.ReadUsers()
	if err != nil {
		log.Fatalf("Failed to read users: %v", err)
	}
	msgs, err := st.ReadMessages()
	if err != nil {
		log.Fatalf("Failed to read messages: %v", err)
	}
	groups, err := st.ReadGroups()
	if err != nil {
		log.Fatalf("Failed to read groups: %v", err)
	}

	dump := map[string]any{
		"users":    users,
		"messages": msgs,
		"groups":   groups,
	}
	out, _ := json.MarshalIndent(dump, "", "  ")
	fmt.Println(string(out))
}
