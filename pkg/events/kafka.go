// Package events moves commands and events over Kafka. Commands flow from
// gateways to messaging workers keyed by conversation; events flow back to
// every gateway.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

// batchTimeout caps how long a synchronous write waits for a partial batch.
// Commands and events are written one at a time.
const batchTimeout = 10 * time.Millisecond

// Producer writes to one topic. The hash balancer keeps every message with
// the same key on the same partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes events keyed by conversation, falling back to the acting
// user for events outside a conversation.
func (p *Producer) Publish(ctx context.Context, events ...model.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		m, err := eventMessage(evt)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Send writes commands keyed by Command.Key.
func (p *Producer) Send(ctx context.Context, cmds ...model.Command) error {
	msgs := make([]kafka.Message, 0, len(cmds))
	for _, cmd := range cmds {
		m, err := commandMessage(cmd)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func eventMessage(evt model.Event) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, err
	}
	key := evt.ConversationID
	if key == "" {
		key = evt.UserID
	}
	return kafka.Message{Key: []byte(key), Value: value, Time: evt.Timestamp}, nil
}

func commandMessage(cmd model.Command) (kafka.Message, error) {
	value, err := json.Marshal(cmd)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(cmd.Key()), Value: value, Time: cmd.Timestamp}, nil
}

func DecodeEvent(m kafka.Message) (model.Event, error) {
	var evt model.Event
	err := json.Unmarshal(m.Value, &evt)
	return evt, err
}

func DecodeCommand(m kafka.Message) (model.Command, error) {
	var cmd model.Command
	err := json.Unmarshal(m.Value, &cmd)
	return cmd, err
}

// Handler processes one record. An error is logged and the record is still
// committed, so one bad record cannot wedge a partition.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
	log    zerolog.Logger
}

// NewConsumer joins groupID, sharing the topic's partitions with the other
// members of the group.
func NewConsumer(brokers []string, topic, groupID string, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		}),
		log: log,
	}
}

// NewFanoutConsumer reads every partition under a group of its own, so each
// caller sees every record from now on.
func NewFanoutConsumer(brokers []string, topic, nodeID string, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     "gateway-group-" + nodeID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
		log: log,
	}
}

// Run feeds records to handle until ctx is done.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error().Err(err).Msg("error reading message, retrying in 1s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handle(ctx, m); err != nil {
			c.log.Error().Err(err).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("failed to handle message")
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Int64("offset", m.Offset).Msg("commit failed")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
