package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dupahar/relay/pkg/cache"
	"github.com/dupahar/relay/pkg/model"
	"github.com/dupahar/relay/pkg/typing"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}

	return loginResp.Token, nil
}

// fetchSnapshot pulls the authoritative conversation history from the
// REST API.
func fetchSnapshot(apiAddr, token, peer, group string) ([]model.Message, error) {
	u := apiAddr + "/messages?"
	if group != "" {
		u += "group=" + url.QueryEscape(group)
	} else {
		u += "peer=" + url.QueryEscape(peer)
	}
	req, _ := http.NewRequest("GET", u, nil)
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("snapshot failed: %s", string(body))
	}

	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func sendEnvelope(c *websocket.Conn, event string, payload any) error {
	frame, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, frame)
}

// printSummaries renders the conversation list: one line per known
// peer/group with its latest message and unread badge.
func printSummaries(view *cache.Cache) {
	convs := view.Conversations()
	if len(convs) == 0 {
		fmt.Print("\r(no conversations yet)\n> ")
		return
	}
	fmt.Print("\r--- conversations ---\n")
	for _, s := range convs {
		badge := ""
		if s.Unread > 0 {
			badge = fmt.Sprintf(" (%d unread)", s.Unread)
		}
		fmt.Printf("  %s: %s%s\n", s.Key, s.Last.Content, badge)
	}
	fmt.Print("> ")
}

func printMessage(self string, m model.Message) {
	who := m.SenderID
	if who == self {
		who = "me"
	}
	suffix := ""
	if m.Edited {
		suffix = " (edited)"
	}
	if len(m.Reactions) > 0 {
		var emojis []string
		for _, r := range m.Reactions {
			emojis = append(emojis, r.Emoji)
		}
		suffix += " [" + strings.Join(emojis, " ") + "]"
	}
	fmt.Printf("\r[%d] %s: %s%s\n> ", m.ID, who, m.Content, suffix)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address")
	apiAddr := flag.String("api", "http://localhost:8080", "rest api base url")
	userID := flag.String("user", "user1", "user id")
	peer := flag.String("peer", "", "user id to chat with")
	group := flag.String("group", "", "group id to chat in (overrides -peer)")
	cachePath := flag.String("cache", "", "local cache file (default relay-cache-<user>.json)")
	flag.Parse()

	if *peer == "" && *group == "" {
		log.Fatal("one of -peer or -group is required")
	}
	key := *peer
	if *group != "" {
		key = *group
		*peer = ""
	}
	if *cachePath == "" {
		*cachePath = "relay-cache-" + *userID + ".json"
	}

	// 1. Local cache first: show something immediately, reconcile later.
	view := cache.New(*userID)
	if err := view.Load(*cachePath); err != nil {
		log.Printf("cache load failed (starting empty): %v", err)
	}
	printSummaries(view)
	view.SetActive(key)
	for _, m := range view.Messages(key) {
		printMessage(*userID, m)
	}

	// 2. Login to get a token.
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	// 3. Merge the authoritative snapshot over the local view.
	if msgs, err := fetchSnapshot(*apiAddr, token, *peer, *group); err != nil {
		log.Printf("snapshot fetch failed, keeping cached view: %v", err)
	} else {
		view.ApplySnapshot(key, msgs)
		fmt.Print("\r--- reconciled with server ---\n> ")
		for _, m := range view.Messages(key) {
			printMessage(*userID, m)
		}
	}

	// 4. Connect to the websocket with the token.
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	if err := sendEnvelope(c, model.EventJoin, model.JoinPayload{UserID: *userID}); err != nil {
		log.Fatal("join:", err)
	}
	if *group != "" {
		// Signaling room for typing indicators only.
		sendEnvelope(c, model.EventJoinGroup, model.GroupRefPayload{GroupID: *group})
	}

	// The typing debounce is client-owned: the server never times us out,
	// so the closing isTyping=false must come from here.
	notifier := typing.NewNotifier(typing.DefaultIdle, func(isTyping bool) {
		sendEnvelope(c, model.EventTyping, model.TypingPayload{
			SenderID:   *userID,
			ReceiverID: *peer,
			GroupID:    *group,
			IsTyping:   isTyping,
		})
	})

	done := make(chan struct{})

	// 5. Live push events keep reconciling into the same cache.
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var env model.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}

			switch env.Event {
			case model.EventReceiveMessage, model.EventMessageSent, model.EventMessageUpdated:
				var m model.Message
				if err := json.Unmarshal(env.Payload, &m); err != nil {
					continue
				}
				view.ApplyEvent(env.Event, m)
				if view.Key(m) == key {
					printMessage(*userID, m)
				} else if n := view.Unread(view.Key(m)); n > 0 {
					fmt.Printf("\r(%s: %d unread)\n> ", view.Key(m), n)
				}
			case model.EventUserTyping:
				var p model.UserTypingPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					continue
				}
				if p.IsTyping {
					fmt.Printf("\r%s is typing...\n> ", p.UserID)
				}
			case model.EventUserOnline, model.EventUserOffline:
				var p model.PresencePayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					continue
				}
				state := "online"
				if env.Event == model.EventUserOffline {
					state = "offline"
				}
				fmt.Printf("\r* %s is %s\n> ", p.UserID, state)
			case model.EventMessageError, model.EventReactionError:
				var p model.ErrorPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					continue
				}
				fmt.Printf("\r! %s\n> ", p.Error)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 6. Read commands from stdin.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			switch {
			case text == "/quit":
				close(interrupt)
				return

			case text == "/typing":
				notifier.Keystroke()

			case text == "/list":
				printSummaries(view)
				continue

			case strings.HasPrefix(text, "/react "):
				fields := strings.Fields(text)
				if len(fields) != 3 {
					fmt.Print("usage: /react <message-id> <emoji>\n> ")
					continue
				}
				id, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					fmt.Print("bad message id\n> ")
					continue
				}
				sendEnvelope(c, model.EventMessageReaction, model.ReactionPayload{
					MessageID: id, UserID: *userID, Emoji: fields[2],
				})

			case strings.HasPrefix(text, "/edit "):
				fields := strings.SplitN(text, " ", 3)
				if len(fields) != 3 {
					fmt.Print("usage: /edit <message-id> <content>\n> ")
					continue
				}
				id, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					fmt.Print("bad message id\n> ")
					continue
				}
				sendEnvelope(c, model.EventEditMessage, model.EditMessagePayload{
					MessageID: id, SenderID: *userID, Content: fields[2],
				})

			default:
				notifier.Stop()
				sendEnvelope(c, model.EventSendMessage, model.SendMessagePayload{
					SenderID:   *userID,
					ReceiverID: *peer,
					GroupID:    *group,
					Content:    text,
					Type:       model.TypeText,
				})
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			saveCache(view, *cachePath)
			return
		case <-interrupt:
			saveCache(view, *cachePath)

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func saveCache(view *cache.Cache, path string) {
	if err := view.Save(path); err != nil {
		log.Printf("cache save failed: %v", err)
	}
}
