// ABOUTME: Converts stored conversations and messages into their wire representation
// ABOUTME: Shared by fan-out, groupCreated notifications, and the REST listing

package conversation

import (
	"context"

	"github.com/samber/lo"

	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
)

// WireMessage converts a stored message into the shape clients receive
func WireMessage(m *store.Message) protocol.Message {
	return protocol.Message{
		ID:        m.ID,
		Sender:    protocol.Sender{ID: m.SenderID, Username: m.SenderName},
		Message:   m.Text,
		Timestamp: m.Timestamp,
		Seq:       m.Seq,
	}
}

// UserLookup resolves display names for participant lists
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// usernames resolves each id once; unknown users keep an empty name
func usernames(ctx context.Context, users UserLookup, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range lo.Uniq(ids) {
		if u, err := users.GetUser(ctx, id); err == nil {
			names[id] = u.Username
		}
	}
	return names
}

// wireConversation converts conv and its messages using a resolved name table
func wireConversation(conv *store.Conversation, msgs []*store.Message, names map[string]string) protocol.Conversation {
	return protocol.Conversation{
		ID:   conv.ID,
		Type: string(conv.Kind),
		Participants: lo.Map(conv.Participants, func(id string, _ int) protocol.Participant {
			return protocol.Participant{ID: id, Username: names[id]}
		}),
		Messages: lo.Map(msgs, func(m *store.Message, _ int) protocol.Message {
			return WireMessage(m)
		}),
		LastUpdated: conv.LastUpdated,
		Admin:       conv.Admin,
		Name:        conv.Name,
		Subject:     conv.Subject,
	}
}
