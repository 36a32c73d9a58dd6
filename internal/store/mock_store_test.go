// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Runs the same scenarios against both implementations

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bothStores runs fn once against a fresh MockStore and once against SQLite
func bothStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
}

func TestMockStore_Users(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateUser(ctx, &User{ID: "u1", Username: "alice"}))
		assert.ErrorIs(t, s.CreateUser(ctx, &User{ID: "u1", Username: "other"}), ErrDuplicateUser)
		assert.ErrorIs(t, s.CreateUser(ctx, &User{ID: "u2", Username: "alice"}), ErrDuplicateUser)

		// EnsureUser leaves an existing row alone
		require.NoError(t, s.EnsureUser(ctx, &User{ID: "u1", Username: "renamed"}))
		u, err := s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Nil(t, u.LastDisconnected)

		at := time.Now().UTC()
		require.NoError(t, s.SetLastDisconnected(ctx, "u1", at))
		u, err = s.GetUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u.LastDisconnected)
		assert.True(t, u.LastDisconnected.Equal(at))

		assert.ErrorIs(t, s.SetLastDisconnected(ctx, "ghost", at), ErrNotFound)
		_, err = s.GetUser(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMockStore_PrivatePairIsUnordered(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: "c1", Kind: KindPrivate, Participants: []string{"alice", "bob"},
		}))
		err := s.CreateConversation(ctx, &Conversation{
			ID: "c2", Kind: KindPrivate, Participants: []string{"bob", "alice"},
		})
		assert.ErrorIs(t, err, ErrDuplicateConversation)

		conv, err := s.FindPrivateConversation(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)

		_, err = s.GetConversation(ctx, "c2")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMockStore_AppendAssignsSeqAndBumpsLastUpdated(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateUser(ctx, &User{ID: "alice", Username: "alice"}))
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: "g1", Kind: KindGroup, Name: "n", Subject: "s", Admin: "alice",
			Participants: []string{"alice", "bob"},
		}))
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: "g2", Kind: KindGroup, Name: "n", Subject: "s", Admin: "alice",
			Participants: []string{"alice"},
		}))

		// Same wall-clock timestamp twice still yields strictly increasing times
		ts := time.Now().UTC().Add(time.Hour)
		first := &Message{ID: "m1", ConversationID: "g1", SenderID: "alice", Text: "one", Timestamp: ts}
		second := &Message{ID: "m2", ConversationID: "g1", SenderID: "bob", Text: "two", Timestamp: ts}
		require.NoError(t, s.AppendMessage(ctx, first))
		require.NoError(t, s.AppendMessage(ctx, second))
		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.True(t, second.Timestamp.After(first.Timestamp))

		msgs, err := s.ListMessages(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "alice", msgs[0].SenderName)
		assert.Equal(t, "", msgs[1].SenderName, "unknown sender has no name")

		convs, err := s.ListConversationsForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.Equal(t, "g1", convs[0].ID, "most recently updated first")

		since, err := s.ListMessagesSince(ctx, "bob", first.Timestamp)
		require.NoError(t, err)
		require.Len(t, since, 1)
		assert.Equal(t, "m2", since[0].ID)

		assert.ErrorIs(t, s.AppendMessage(ctx, &Message{ID: "m3", ConversationID: "missing"}), ErrNotFound)
	})
}

func TestMockStore_AddParticipant(t *testing.T) {
	bothStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: "g1", Kind: KindGroup, Name: "n", Subject: "s", Admin: "alice",
			Participants: []string{"alice"},
		}))

		require.NoError(t, s.AddParticipant(ctx, "g1", "bob"))
		assert.ErrorIs(t, s.AddParticipant(ctx, "g1", "bob"), ErrAlreadyMember)
		assert.ErrorIs(t, s.AddParticipant(ctx, "missing", "bob"), ErrNotFound)

		g, err := s.GetConversation(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, g.Participants)
	})
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "g1", Kind: KindGroup, Participants: []string{"alice"},
	}))

	g, err := s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	g.Participants[0] = "mallory"

	g, err = s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, g.Participants)
}
