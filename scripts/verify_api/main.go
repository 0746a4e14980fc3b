package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

type SyncResponse struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

func call(apiAddr, method, path, token string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, apiAddr+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}
	if secret := os.Getenv("SYNC_SECRET"); secret != "" {
		req.Header.Set("X-Sync-Secret", secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: %s: %s", method, path, resp.Status, raw)
	}
	log.Printf("%s %s -> %s", method, path, resp.Status)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "api service address")
	flag.Parse()

	// Fresh users every run so reruns start from an empty conversation.
	run := uuid.NewString()[:8]

	// 1. Sync two profiles
	var alice, bob SyncResponse
	call(*apiAddr, http.MethodPost, "/auth/sync", "", model.Profile{ExternalID: "alice-" + run, Name: "Alice " + run}, &alice)
	call(*apiAddr, http.MethodPost, "/auth/sync", "", model.Profile{ExternalID: "bob-" + run, Name: "Bob " + run}, &bob)
	fmt.Printf("Token: %s...\n", alice.Token[:10])

	// 2. Open the DM from both sides; both must land on one conversation
	var conv, again struct {
		ID string `json:"id"`
	}
	call(*apiAddr, http.MethodPost, "/conversations", alice.Token, map[string]any{"participant_ids": []string{bob.User.ID}}, &conv)
	call(*apiAddr, http.MethodPost, "/conversations", bob.Token, map[string]any{"participant_ids": []string{alice.User.ID}}, &again)
	if conv.ID != again.ID {
		log.Fatalf("duplicate 1:1 conversations: %s and %s", conv.ID, again.ID)
	}

	// 3. Send, react, read
	var sent struct {
		ID string `json:"id"`
	}
	call(*apiAddr, http.MethodPost, "/conversations/"+conv.ID+"/messages", alice.Token, map[string]string{"content": "hello bob"}, &sent)
	call(*apiAddr, http.MethodPost, "/messages/"+sent.ID+"/reactions", bob.Token, map[string]string{"emoji": "👍"}, nil)

	var unread struct {
		Total int64 `json:"total"`
	}
	call(*apiAddr, http.MethodGet, "/unread", bob.Token, nil, &unread)
	if unread.Total != 1 {
		log.Fatalf("expected 1 unread for bob, got %d", unread.Total)
	}
	call(*apiAddr, http.MethodPost, "/conversations/"+conv.ID+"/read", bob.Token, nil, nil)
	call(*apiAddr, http.MethodGet, "/unread", bob.Token, nil, &unread)
	if unread.Total != 0 {
		log.Fatalf("expected 0 unread after read, got %d", unread.Total)
	}

	// 4. History
	var history []model.MessageWithSender
	call(*apiAddr, http.MethodGet, "/conversations/"+conv.ID+"/messages", bob.Token, nil, &history)
	if len(history) != 1 || len(history[0].ReactionGroups) != 1 {
		log.Fatalf("unexpected history: %+v", history)
	}
	sender := "?"
	if history[0].Sender != nil {
		sender = history[0].Sender.Name
	}
	log.Printf("History: %s: %q %s x%d", sender, history[0].Content,
		history[0].ReactionGroups[0].Emoji, history[0].ReactionGroups[0].Count)
	log.Println("API verified")
}
