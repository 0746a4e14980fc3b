package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/metrics"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

var errForbidden = errors.New("forbidden")

// Dispatcher applies the commands gateways relay from their sockets. A
// command that fails is answered with an error event to its sender only.
type Dispatcher struct {
	svc *chat.Service
	pub chat.Publisher
	log zerolog.Logger
}

func NewDispatcher(svc *chat.Service, pub chat.Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{svc: svc, pub: pub, log: log}
}

// Handle is the command consumer's handler.
func (d *Dispatcher) Handle(ctx context.Context, m kafka.Message) error {
	cmd, err := events.DecodeCommand(m)
	if err != nil {
		metrics.CommandsProcessed.WithLabelValues("unknown", "malformed").Inc()
		return err
	}
	if cmd.UserID == "" {
		metrics.CommandsProcessed.WithLabelValues(string(cmd.Type), "malformed").Inc()
		return errors.New("command without user")
	}

	err = d.Apply(ctx, cmd)
	metrics.CommandsProcessed.WithLabelValues(string(cmd.Type), result(err)).Inc()
	if err == nil {
		return nil
	}

	d.log.Warn().Err(err).
		Str("type", string(cmd.Type)).
		Str("user_id", cmd.UserID).
		Str("conversation_id", cmd.ConversationID).
		Msg("command failed")
	d.reject(ctx, cmd, err)
	return nil
}

// Apply runs one command as its user, with the same participant checks the
// HTTP api makes.
func (d *Dispatcher) Apply(ctx context.Context, cmd model.Command) error {
	switch cmd.Type {
	case model.CommandSend:
		if err := d.member(ctx, cmd.ConversationID, cmd.UserID); err != nil {
			return err
		}
		_, err := d.svc.SendMessage(ctx, cmd.ConversationID, cmd.UserID, cmd.Content)
		return err

	case model.CommandTyping:
		if err := d.member(ctx, cmd.ConversationID, cmd.UserID); err != nil {
			return err
		}
		return d.svc.SetTyping(ctx, cmd.UserID, cmd.ConversationID, cmd.IsTyping)

	case model.CommandRead:
		if err := d.member(ctx, cmd.ConversationID, cmd.UserID); err != nil {
			return err
		}
		return d.svc.MarkRead(ctx, cmd.UserID, cmd.ConversationID)

	case model.CommandReact:
		msg, err := d.svc.GetMessage(ctx, cmd.MessageID)
		if errors.Is(err, chat.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := d.member(ctx, msg.ConversationID, cmd.UserID); err != nil {
			return err
		}
		return d.svc.ToggleReaction(ctx, cmd.MessageID, cmd.UserID, cmd.Emoji)

	case model.CommandDelete:
		msg, err := d.svc.GetMessage(ctx, cmd.MessageID)
		if errors.Is(err, chat.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.SenderID != cmd.UserID {
			return errForbidden
		}
		return d.svc.DeleteMessage(ctx, cmd.MessageID)

	case model.CommandPresence:
		return d.svc.SetOnline(ctx, cmd.UserID, cmd.Online)
	}
	return chat.ErrValidation
}

func (d *Dispatcher) member(ctx context.Context, conversationID, userID string) error {
	conv, err := d.svc.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return errForbidden
	}
	return nil
}

func (d *Dispatcher) reject(ctx context.Context, cmd model.Command, cause error) {
	if cmd.Type == model.CommandPresence {
		return
	}
	payload := model.ErrorPayload{Command: cmd.Type, ClientRef: cmd.ClientRef, Reason: reason(cause)}
	if cmd.Type == model.CommandSend {
		payload.Content = cmd.Content
	}

	evt, err := model.NewEvent(model.EventError, cmd.ConversationID, cmd.UserID, []string{cmd.UserID}, payload, cmd.Timestamp)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to build error event")
		return
	}
	if err := d.pub.Publish(ctx, evt); err != nil {
		d.log.Error().Err(err).Str("user_id", cmd.UserID).Msg("failed to publish error event")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(model.EventError)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, chat.ErrValidation):
		return "invalid"
	case errors.Is(err, chat.ErrNotFound):
		return "not_found"
	case errors.Is(err, errForbidden):
		return "forbidden"
	}
	return "error"
}

// reason is what the client is told. Internal failures stay in the log.
func reason(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, chat.ErrNotFound):
		return err.Error()
	case errors.Is(err, errForbidden):
		return "not allowed"
	}
	return "internal error"
}
