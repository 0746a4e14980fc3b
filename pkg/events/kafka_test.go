package events

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

func TestEventMessageKeysByConversation(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	evt, err := model.NewEvent(model.EventTyping, "conv-1", "u1", []string{"u1", "u2"}, model.TypingPayload{IsTyping: true}, at)
	require.NoError(t, err)

	m, err := eventMessage(evt)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", string(m.Key))
	assert.True(t, m.Time.Equal(at))

	back, err := DecodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, back.ID)
	assert.Equal(t, []string{"u1", "u2"}, back.Recipients)

	var payload model.TypingPayload
	require.NoError(t, back.Decode(&payload))
	assert.True(t, payload.IsTyping)
}

func TestEventMessageFallsBackToUser(t *testing.T) {
	evt, err := model.NewEvent(model.EventPresence, "", "u1", []string{"u1"}, model.PresencePayload{Online: true}, time.Now())
	require.NoError(t, err)

	m, err := eventMessage(evt)
	require.NoError(t, err)
	assert.Equal(t, "u1", string(m.Key))
}

func TestCommandMessage(t *testing.T) {
	cmd := model.Command{
		Type:           model.CommandReact,
		UserID:         "u1",
		ConversationID: "conv-9",
		MessageID:      1234567890123456789,
		Emoji:          "👍",
	}
	m, err := commandMessage(cmd)
	require.NoError(t, err)
	assert.Equal(t, "conv-9", string(m.Key))
	assert.Contains(t, string(m.Value), `"message_id":"1234567890123456789"`)

	back, err := DecodeCommand(m)
	require.NoError(t, err)
	assert.Equal(t, cmd.MessageID, back.MessageID)
	assert.Equal(t, cmd.Emoji, back.Emoji)

	presence := model.Command{Type: model.CommandPresence, UserID: "u1", Online: true}
	m, err = commandMessage(presence)
	require.NoError(t, err)
	assert.Equal(t, "u1", string(m.Key))
}

func TestNewProducerFlushesPromptly(t *testing.T) {
	p := NewProducer([]string{"localhost:19092"}, "chat-events")
	defer p.Close()

	assert.Equal(t, batchTimeout, p.writer.BatchTimeout)
	assert.LessOrEqual(t, p.writer.BatchTimeout, 50*time.Millisecond)
	assert.Equal(t, kafka.RequireOne, p.writer.RequiredAcks)
}
