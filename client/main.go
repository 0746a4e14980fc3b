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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

type SyncResponse struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

type api struct {
	addr       string
	token      string
	syncSecret string
}

func (a *api) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, a.addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.syncSecret != "" {
		req.Header.Set("X-Sync-Secret", a.syncSecret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// login syncs the profile for externalID and keeps the returned token.
func (a *api) login(externalID string) (*model.User, error) {
	var res SyncResponse
	if err := a.do(http.MethodPost, "/auth/sync", model.Profile{ExternalID: externalID, Name: externalID}, &res); err != nil {
		return nil, err
	}
	a.token = res.Token
	return &res.User, nil
}

// openDM finds the user called name and opens the 1:1 conversation with them.
func (a *api) openDM(name string) (string, map[string]string, error) {
	var users []model.User
	if err := a.do(http.MethodGet, "/users?q="+url.QueryEscape(name), nil, &users); err != nil {
		return "", nil, err
	}
	for _, u := range users {
		if u.Name != name {
			continue
		}
		var res struct {
			ID string `json:"id"`
		}
		if err := a.do(http.MethodPost, "/conversations", map[string]any{"participant_ids": []string{u.ID}}, &res); err != nil {
			return "", nil, err
		}
		return res.ID, map[string]string{u.ID: u.Name}, nil
	}
	return "", nil, fmt.Errorf("no user named %q", name)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8081", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8080", "api service address")
	userID := flag.String("user", "user1", "external user id")
	dmUser := flag.String("dm", "", "name of the user to chat with")
	flag.Parse()

	if *dmUser == "" {
		log.Fatal("-dm is required")
	}

	// 1. Sync profile to get a token
	a := &api{addr: *apiAddr, syncSecret: os.Getenv("SYNC_SECRET")}
	log.Printf("Logging in as %s...", *userID)
	me, err := a.login(*userID)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	conversationID, names, err := a.openDM(*dmUser)
	if err != nil {
		log.Fatal(err)
	}
	names[me.ID] = "me"

	var history []model.MessageWithSender
	if err := a.do(http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &history); err != nil {
		log.Fatal(err)
	}
	for _, m := range history {
		if !m.IsDeleted {
			fmt.Printf("%s: %s\n", names[m.SenderID], m.Content)
		}
	}

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+a.token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	// gorilla connections allow one writer at a time
	var writeMu sync.Mutex
	send := func(frame map[string]any) error {
		frame["conversation_id"] = conversationID
		frame["client_ref"] = uuid.NewString()
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteJSON(frame)
	}
	_ = send(map[string]any{"type": model.CommandRead})

	done := make(chan struct{})

	// 3. Print events
	go func() {
		defer close(done)
		for {
			var evt model.Event
			if err := c.ReadJSON(&evt); err != nil {
				log.Println("read:", err)
				return
			}
			if evt.ConversationID != conversationID && evt.Type != model.EventPresence {
				continue
			}

			switch evt.Type {
			case model.EventMessageSent:
				var m model.Message
				if evt.Decode(&m) == nil {
					fmt.Printf("\r%s: %s\n> ", names[m.SenderID], m.Content)
				}
				if evt.UserID != me.ID {
					_ = send(map[string]any{"type": model.CommandRead})
				}
			case model.EventTyping:
				var p model.TypingPayload
				if evt.UserID != me.ID && evt.Decode(&p) == nil && p.IsTyping {
					fmt.Printf("\r%s is typing...      \n> ", names[evt.UserID])
				}
			case model.EventPresence:
				var p model.PresencePayload
				if evt.UserID != me.ID && evt.Decode(&p) == nil {
					fmt.Printf("\r%s online: %v\n> ", names[evt.UserID], p.Online)
				}
			case model.EventError:
				var p model.ErrorPayload
				if evt.Decode(&p) == nil {
					fmt.Printf("\rerror (%s): %s\n> ", p.Command, p.Reason)
				}
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 4. Read from stdin and send commands
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			var err error
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				err = send(map[string]any{"type": model.CommandTyping, "is_typing": true})
			default:
				err = send(map[string]any{"type": model.CommandSend, "content": text})
			}
			if err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			writeMu.Lock()
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
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
