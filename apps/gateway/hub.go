package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/metrics"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

// CommandSink forwards client commands to the messaging workers.
type CommandSink interface {
	Send(ctx context.Context, cmds ...model.Command) error
}

// Connections counts live sockets per user across every gateway. It is
// called once per socket; Connect reports the user's first socket and
// Disconnect the user's last. Refresh keeps the counts of users still
// connected here from expiring.
type Connections interface {
	Connect(ctx context.Context, userID string) (bool, error)
	Disconnect(ctx context.Context, userID string) (bool, error)
	Refresh(ctx context.Context, userIDs []string) error
}

const (
	sendTimeout  = 5 * time.Second
	refreshEvery = 30 * time.Second
)

// presenceJob is one step on the hub's presence queue: a socket opening or
// closing, or a refresh of the users connected here.
type presenceJob struct {
	userID  string
	online  bool
	refresh []string
}

type reply struct {
	client *Client
	evt    model.Event
}

// Hub tracks the sockets connected to this gateway and routes events to the
// sockets of each recipient.
type Hub struct {
	userClients map[string]map[*Client]bool // user_id -> clients
	register    chan *Client
	unregister  chan *Client
	deliver     chan model.Event
	replies     chan reply
	presence    chan presenceJob
	done        chan struct{}
	sink        CommandSink
	conns       Connections
	log         zerolog.Logger
	now         func() time.Time
}

func NewHub(sink CommandSink, conns Connections, log zerolog.Logger) *Hub {
	return &Hub{
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		deliver:     make(chan model.Event, 256),
		replies:     make(chan reply, 64),
		presence:    make(chan presenceJob, 1024),
		done:        make(chan struct{}),
		sink:        sink,
		conns:       conns,
		log:         log,
		now:         time.Now,
	}
}

// Run owns the client maps until ctx is done. Presence changes are handed
// to a single worker in the order sockets open and close, so a socket's
// disconnect is never counted before its connect.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	drained := make(chan struct{})
	go h.presenceLoop(drained)
	defer func() {
		close(h.presence)
		<-drained
	}()

	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for userID, clients := range h.userClients {
				for c := range clients {
					close(c.send)
					h.presence <- presenceJob{userID: userID}
				}
			}
			h.userClients = make(map[string]map[*Client]bool)
			return

		case <-ticker.C:
			if len(h.userClients) == 0 {
				continue
			}
			ids := make([]string, 0, len(h.userClients))
			for userID := range h.userClients {
				ids = append(ids, userID)
			}
			h.presence <- presenceJob{refresh: ids}

		case c := <-h.register:
			if h.userClients[c.UserID] == nil {
				h.userClients[c.UserID] = make(map[*Client]bool)
			}
			h.userClients[c.UserID][c] = true
			metrics.GatewayConnections.Inc()
			h.log.Debug().Str("user_id", c.UserID).Msg("client registered")
			h.presence <- presenceJob{userID: c.UserID, online: true}

		case c := <-h.unregister:
			clients, ok := h.userClients[c.UserID]
			if !ok || !clients[c] {
				continue
			}
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.userClients, c.UserID)
			}
			metrics.GatewayConnections.Dec()
			h.log.Debug().Str("user_id", c.UserID).Msg("client unregistered")
			h.presence <- presenceJob{userID: c.UserID}

		case evt := <-h.deliver:
			h.route(evt)

		case r := <-h.replies:
			if !h.userClients[r.client.UserID][r.client] {
				continue
			}
			frame, err := encodeFrame(r.evt)
			if err != nil {
				continue
			}
			select {
			case r.client.send <- frame:
			default:
			}
		}
	}
}

// route writes evt to every socket of every recipient on this gateway. A
// socket whose buffer is full is dropped.
func (h *Hub) route(evt model.Event) {
	frame, err := encodeFrame(evt)
	if err != nil {
		h.log.Error().Err(err).Str("event_id", evt.ID).Msg("failed to encode event")
		return
	}
	for _, userID := range evt.Recipients {
		for c := range h.userClients[userID] {
			select {
			case c.send <- frame:
			default:
				delete(h.userClients[userID], c)
				close(c.send)
				metrics.GatewayConnections.Dec()
				h.log.Warn().Str("user_id", userID).Msg("dropping slow client")
				h.presence <- presenceJob{userID: userID}
			}
		}
		if len(h.userClients[userID]) == 0 {
			delete(h.userClients, userID)
		}
	}
}

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Reply sends evt to the one socket c, skipping it when the socket is gone
// or backed up.
func (h *Hub) Reply(c *Client, evt model.Event) {
	select {
	case h.replies <- reply{client: c, evt: evt}:
	case <-h.done:
	}
}

// HandleEvent is the fan-out consumer's handler.
func (h *Hub) HandleEvent(ctx context.Context, m kafka.Message) error {
	evt, err := events.DecodeEvent(m)
	if err != nil {
		return err
	}
	if len(evt.Recipients) == 0 {
		return nil
	}
	select {
	case h.deliver <- evt:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit forwards a client's command, stamping it with the connection's
// user and the current time.
func (h *Hub) Submit(c *Client, cmd model.Command) error {
	cmd.UserID = c.UserID
	cmd.Timestamp = h.now()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return h.sink.Send(ctx, cmd)
}

func (h *Hub) presenceLoop(drained chan<- struct{}) {
	defer close(drained)
	for job := range h.presence {
		switch {
		case job.refresh != nil:
			h.refresh(job.refresh)
		case job.online:
			h.announce(job.userID, true, h.conns.Connect)
		default:
			h.announce(job.userID, false, h.conns.Disconnect)
		}
	}
}

func (h *Hub) refresh(userIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := h.conns.Refresh(ctx, userIDs); err != nil {
		h.log.Warn().Err(err).Int("users", len(userIDs)).Msg("failed to refresh connection counts")
	}
}

// announce sends a presence command when the user's first socket opens or
// last socket closes, counting across all gateways.
func (h *Hub) announce(userID string, online bool, count func(context.Context, string) (bool, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	edge, err := count(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to count connections")
		return
	}
	if !edge {
		return
	}
	cmd := model.Command{Type: model.CommandPresence, UserID: userID, Online: online, Timestamp: h.now()}
	if err := h.sink.Send(ctx, cmd); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Bool("online", online).Msg("failed to send presence")
	}
}
