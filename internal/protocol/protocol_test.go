// ABOUTME: Tests for envelope decoding and payload validation
// ABOUTME: Covers required fields, nefield on private pairs, and wire field names

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_DecodeValid(t *testing.T) {
	env := &Envelope{
		Event: EventSendMessage,
		Data:  json.RawMessage(`{"senderId":"u1","conversationId":"c1","text":"hello","clientMessageId":"x1"}`),
	}

	var p SendMessage
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "u1", p.SenderID)
	assert.Equal(t, "c1", p.ConversationID)
	assert.Equal(t, "hello", p.Text)
	assert.Equal(t, "x1", p.ClientMessageID)
}

func TestEnvelope_DecodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		data   string
		target any
	}{
		{"no data", EventSaveSocketID, ``, &SaveSocketID{}},
		{"bad json", EventSaveSocketID, `{"userId":`, &SaveSocketID{}},
		{"missing user", EventSaveSocketID, `{}`, &SaveSocketID{}},
		{"empty text", EventSendMessage, `{"senderId":"a","conversationId":"c","text":""}`, &SendMessage{}},
		{"self private", EventCreatePrivateConversation, `{"senderId":"a","receiverId":"a","text":"hi"}`, &CreatePrivateConversation{}},
		{"no participants", EventCreateGroupConversation, `{"name":"n","subject":"s","participants":[],"admin":"a"}`, &CreateGroupConversation{}},
		{"blank participant", EventCreateGroupConversation, `{"name":"n","subject":"s","participants":["a",""],"admin":"a"}`, &CreateGroupConversation{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Event: tt.event}
			if tt.data != "" {
				env.Data = json.RawMessage(tt.data)
			}
			err := env.Decode(tt.target)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestReceiveMessage_WireNames(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := NewEnvelope(EventReceiveMessage, ReceiveMessage{
		Message: Message{
			ID:        "m1",
			Sender:    Sender{ID: "u1", Username: "alice"},
			Message:   "hi",
			Timestamp: ts,
			Seq:       1,
		},
		ConversationID: "c1",
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "receiveMessage", generic["event"])

	data := generic["data"].(map[string]any)
	assert.Equal(t, "c1", data["conversationId"])
	msg := data["message"].(map[string]any)
	assert.Equal(t, "m1", msg["_id"])
	assert.Equal(t, "hi", msg["message"])
	assert.Equal(t, "alice", msg["sender"].(map[string]any)["username"])
}
