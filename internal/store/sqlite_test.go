// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers users, conversation uniqueness, membership, and message append ordering

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, s.CreateUser(context.Background(), &User{ID: name, Username: name}))
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewSQLiteStoreWithDriver_Unsupported(t *testing.T) {
	_, err := NewSQLiteStoreWithDriver("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &User{ID: "u1", Username: "alice"}))

	t.Run("duplicate username", func(t *testing.T) {
		err := s.CreateUser(ctx, &User{ID: "u2", Username: "alice"})
		assert.ErrorIs(t, err, ErrDuplicateUser)
	})

	t.Run("get by id and name", func(t *testing.T) {
		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Nil(t, u.LastDisconnected)

		u, err = s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetUser(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.SetLastDisconnected(ctx, "ghost", time.Now()), ErrNotFound)
	})

	t.Run("last disconnected round trips", func(t *testing.T) {
		at := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
		require.NoError(t, s.SetLastDisconnected(ctx, "u1", at))

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u.LastDisconnected)
		assert.True(t, at.Equal(*u.LastDisconnected))
	})

	t.Run("ensure is idempotent", func(t *testing.T) {
		bot := &User{ID: "chatbot", Username: "chatBot"}
		require.NoError(t, s.EnsureUser(ctx, bot))
		require.NoError(t, s.EnsureUser(ctx, bot))

		err := s.EnsureUser(ctx, &User{ID: "other", Username: "chatBot"})
		assert.ErrorIs(t, err, ErrDuplicateUser)
	})
}

func TestPrivateConversationUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob")

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "c1", Kind: KindPrivate, Participants: []string{"alice", "bob"},
	}))

	// Reversed pair collides with the same key
	err := s.CreateConversation(ctx, &Conversation{
		ID: "c2", Kind: KindPrivate, Participants: []string{"bob", "alice"},
	})
	assert.ErrorIs(t, err, ErrDuplicateConversation)

	conv, err := s.FindPrivateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)

	_, err = s.FindPrivateConversation(ctx, "alice", "carol")
	assert.ErrorIs(t, err, ErrNotFound)

	// The failed insert must not leave participants behind
	_, err = s.GetConversation(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConversation_PrivateNeedsTwo(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateConversation(context.Background(), &Conversation{
		ID: "c1", Kind: KindPrivate, Participants: []string{"alice"},
	})
	require.Error(t, err)
}

func TestGroupsAreNotDeduplicated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2"} {
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID: id, Kind: KindGroup, Name: "Study", Subject: "Mathematics",
			Admin: "alice", Participants: []string{"alice", "bob"},
		}))
	}

	g, err := s.GetConversation(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, KindGroup, g.Kind)
	assert.Equal(t, "Mathematics", g.Subject)
	assert.Equal(t, "alice", g.Admin)
}

func TestAddParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "g1", Kind: KindGroup, Name: "n", Subject: "s", Admin: "alice",
		Participants: []string{"alice", "bob"},
	}))

	require.NoError(t, s.AddParticipant(ctx, "g1", "carol"))
	assert.ErrorIs(t, s.AddParticipant(ctx, "g1", "carol"), ErrAlreadyMember)
	assert.ErrorIs(t, s.AddParticipant(ctx, "missing", "carol"), ErrNotFound)

	g, err := s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, g.Participants)
}

func TestAppendMessage_OrderAndLastUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob")

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "c1", Kind: KindPrivate, Participants: []string{"alice", "bob"},
	}))

	// Identical timestamps still produce a strictly increasing sequence
	fixed := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Text:           fmt.Sprintf("hello %d", i),
			Timestamp:      fixed,
		}
		require.NoError(t, s.AppendMessage(ctx, msg))
		assert.Equal(t, int64(i+1), msg.Seq)
	}

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp), "timestamps must increase")
		assert.Equal(t, msgs[i-1].Seq+1, msgs[i].Seq)
	}
	assert.Equal(t, "alice", msgs[0].SenderName)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, conv.LastUpdated.Before(msgs[4].Timestamp))
}

func TestAppendMessage_MissingConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessage(context.Background(), &Message{
		ID: "m1", ConversationID: "nope", SenderID: "alice", Text: "hi",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "c1", Kind: KindPrivate, Participants: []string{"alice", "bob"},
	}))

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendMessage(ctx, &Message{
				ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: "bob", Text: "x",
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestListConversationsForUser_SortedByLastUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob", "carol")

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "old", Kind: KindPrivate, Participants: []string{"alice", "bob"},
	}))
	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "new", Kind: KindPrivate, Participants: []string{"alice", "carol"},
	}))
	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "other", Kind: KindPrivate, Participants: []string{"bob", "carol"},
	}))

	// A message in "old" makes it the most recent
	require.NoError(t, s.AppendMessage(ctx, &Message{
		ID: "m1", ConversationID: "old", SenderID: "bob", Text: "ping",
		Timestamp: time.Now().Add(time.Hour),
	}))

	convs, err := s.ListConversationsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "old", convs[0].ID)
	assert.Equal(t, "new", convs[1].ID)
	assert.Equal(t, []string{"alice", "bob"}, convs[0].Participants)

	none, err := s.ListConversationsForUser(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListMessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob", "carol")

	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "ab", Kind: KindPrivate, Participants: []string{"alice", "bob"},
	}))
	require.NoError(t, s.CreateConversation(ctx, &Conversation{
		ID: "bc", Kind: KindPrivate, Participants: []string{"bob", "carol"},
	}))

	base := time.Now().UTC()
	add := func(id, conv string, at time.Time) {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ID: id, ConversationID: conv, SenderID: "bob", Text: id, Timestamp: at,
		}))
	}
	add("before", "ab", base.Add(time.Second))
	add("after1", "ab", base.Add(3*time.Second))
	add("after2", "ab", base.Add(4*time.Second))
	add("elsewhere", "bc", base.Add(5*time.Second))

	msgs, err := s.ListMessagesSince(ctx, "alice", base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "after1", msgs[0].ID)
	assert.Equal(t, "after2", msgs[1].ID)
	assert.Equal(t, "bob", msgs[0].SenderName)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.True(t, isConstraintViolation(errors.New("UNIQUE constraint failed: users.username")))
	assert.True(t, isConstraintViolation(errors.New("PRIMARY KEY constraint failed: conversations.id")))
	assert.False(t, isConstraintViolation(errors.New("disk I/O error")))
	assert.False(t, isConstraintViolation(errors.New("NOT NULL constraint failed: messages.text")))
	assert.False(t, isConstraintViolation(errors.New("CHECK constraint failed: kind IN ('private', 'group')")))
	assert.False(t, isConstraintViolation(errors.New("FOREIGN KEY constraint failed")))
}

func TestCreateConversation_CheckFailureIsNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s, "alice")

	err := s.CreateConversation(context.Background(), &Conversation{
		ID:           "c1",
		Kind:         "channel",
		Participants: []string{"alice"},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateConversation)
}
