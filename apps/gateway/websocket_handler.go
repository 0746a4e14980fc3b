package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer; a full-length message in any
	// script fits.
	maxMessageSize = 32 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames. Only the hub closes it.
	send chan []byte

	UserID string
}

// Frame is what a client writes on the socket.
type Frame struct {
	Type           model.CommandType `json:"type"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Content        string            `json:"content"`
	Emoji          string            `json:"emoji"`
	IsTyping       bool              `json:"is_typing"`
	ClientRef      string            `json:"client_ref"`
}

var errBadFrame = errors.New("bad frame")

// Command turns a frame into a command. The user and timestamp are filled
// in by the hub.
func (f Frame) Command() (model.Command, error) {
	cmd := model.Command{
		Type:           f.Type,
		ConversationID: f.ConversationID,
		Content:        f.Content,
		Emoji:          f.Emoji,
		IsTyping:       f.IsTyping,
		ClientRef:      f.ClientRef,
	}

	switch f.Type {
	case model.CommandSend, model.CommandTyping, model.CommandRead:
		if f.ConversationID == "" {
			return cmd, fmt.Errorf("%w: conversation_id is required", errBadFrame)
		}
	case model.CommandReact, model.CommandDelete:
		id, err := strconv.ParseInt(f.MessageID, 10, 64)
		if err != nil {
			return cmd, fmt.Errorf("%w: invalid message_id", errBadFrame)
		}
		cmd.MessageID = id
	default:
		return cmd, fmt.Errorf("%w: unknown type %q", errBadFrame, f.Type)
	}
	return cmd, nil
}

func encodeFrame(evt model.Event) ([]byte, error) {
	return json.Marshal(evt)
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("user_id", c.UserID).Msg("websocket closed unexpectedly")
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.fail(frame, "invalid JSON")
			continue
		}
		cmd, err := frame.Command()
		if err != nil {
			c.fail(frame, err.Error())
			continue
		}
		if err := c.hub.Submit(c, cmd); err != nil {
			c.hub.log.Error().Err(err).Str("user_id", c.UserID).Str("type", string(cmd.Type)).Msg("failed to forward command")
			c.fail(frame, "service unavailable")
		}
	}
}

// fail tells this socket, and no other, that a frame was refused.
func (c *Client) fail(f Frame, reason string) {
	payload := model.ErrorPayload{Command: f.Type, ClientRef: f.ClientRef, Reason: reason}
	if f.Type == model.CommandSend {
		payload.Content = f.Content
	}
	evt, err := model.NewEvent(model.EventError, f.ConversationID, c.UserID, []string{c.UserID}, payload, c.hub.now())
	if err != nil {
		return
	}
	c.hub.Reply(c, evt)
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per websocket message so clients can decode each
			// frame as a single JSON object.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs authenticates the peer from its token and upgrades the request.
// The user id comes from the token only.
func ServeWs(hub *Hub, issuer *auth.Issuer, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := auth.TokenFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		claims, err := issuer.ValidateToken(strings.TrimSpace(tokenString))
		if err != nil {
			log.Debug().Err(err).Msg("rejected websocket token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), UserID: claims.UserID}
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
