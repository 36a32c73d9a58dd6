package unread

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle-gateway/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text     string
		username string
		want     bool
	}{
		{"hi @bob check this", "bob", true},
		{"@bob", "bob", true},
		{"hey @bob, look", "bob", true},
		{"(@bob)", "bob", true},
		{"hi @bobby", "bob", false},
		{"hi @Bob", "bob", false},
		{"bob@bob.com", "bob", false},
		{"hi bob", "bob", false},
		{"@bob", "", false},
		{"ping @a.b now", "a.b", true},
		{"ping @axb now", "a.b", false},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.username, func(t *testing.T) {
			assert.Equal(t, tt.want, Mentions(tt.text, tt.username))
		})
	}
}

func TestComputeUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "bobby"} {
		require.NoError(t, s.CreateUser(ctx, &store.User{ID: u, Username: u}))
	}

	ab := &store.Conversation{ID: "ab", Kind: store.KindPrivate, Participants: []string{"alice", "bob"}}
	require.NoError(t, s.CreateConversation(ctx, ab))
	group := &store.Conversation{
		ID: "grp", Kind: store.KindGroup, Participants: []string{"alice", "bob", "bobby"},
		Admin: "alice", Name: "G", Subject: "S",
	}
	require.NoError(t, s.CreateConversation(ctx, group))
	other := &store.Conversation{ID: "other", Kind: store.KindPrivate, Participants: []string{"alice", "bobby"}}
	require.NoError(t, s.CreateConversation(ctx, other))

	base := time.Now().Add(time.Hour).UTC()
	add := func(convID, sender, text string, offset time.Duration) {
		t.Helper()
		require.NoError(t, s.AppendMessage(ctx, &store.Message{
			ID:             convID + text,
			ConversationID: convID,
			SenderID:       sender,
			Text:           text,
			Timestamp:      base.Add(offset),
		}))
	}

	add(ab.ID, "alice", "before", 0)
	add(ab.ID, "alice", "after one", 2*time.Second)
	add(ab.ID, "alice", "after two", 3*time.Second)
	add(group.ID, "bobby", "hi @bobby", 4*time.Second)
	add(group.ID, "alice", "hi @bob check this", 5*time.Second)
	add(other.ID, "alice", "not bob's", 6*time.Second)

	acct := NewAccountant(s, nil)

	t.Run("never disconnected", func(t *testing.T) {
		got, err := acct.ComputeUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	require.NoError(t, s.SetLastDisconnected(ctx, "bob", base.Add(time.Second)))

	t.Run("counts strictly after disconnect", func(t *testing.T) {
		got, err := acct.ComputeUnread(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, 2, got[ab.ID].Count)
		assert.False(t, got[ab.ID].Mentioned)
		assert.Equal(t, "after one", got[ab.ID].Messages[0].Text)

		assert.Equal(t, 2, got[group.ID].Count)
		assert.True(t, got[group.ID].Mentioned)

		assert.NotContains(t, got, other.ID, "conversations bob is not in are excluded")
	})

	t.Run("flatten", func(t *testing.T) {
		got, err := acct.ComputeUnread(ctx, "bob")
		require.NoError(t, err)
		assert.Len(t, Flatten(got), 4)
		assert.Equal(t, Counter{Count: 2, Mentioned: true}, Counts(got)[group.ID])
	})

	t.Run("disconnect equal to message timestamp excludes it", func(t *testing.T) {
		require.NoError(t, s.SetLastDisconnected(ctx, "bobby", base.Add(4*time.Second)))
		got, err := acct.ComputeUnread(ctx, "bobby")
		require.NoError(t, err)
		require.Contains(t, got, group.ID)
		assert.Equal(t, 1, got[group.ID].Count)
		assert.False(t, got[group.ID].Mentioned, "@bob does not mention bobby")
		assert.Equal(t, 1, got[other.ID].Count)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := acct.ComputeUnread(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestTally(t *testing.T) {
	tally := NewTally("u-bob", "bob")
	tally.Seed(map[string]Counter{
		"c1": {Count: 2},
		"c2": {Count: 1, Mentioned: true},
	})

	assert.True(t, tally.Apply("c1", "u-alice", "more"))
	assert.Equal(t, Counter{Count: 3}, tally.Get("c1"))

	assert.True(t, tally.Apply("c3", "u-alice", "hey @bob"))
	assert.Equal(t, Counter{Count: 1, Mentioned: true}, tally.Get("c3"))

	tally.Open("c2")
	assert.Equal(t, Counter{}, tally.Get("c2"))
	assert.False(t, tally.Apply("c2", "u-alice", "seen live @bob"))
	assert.Equal(t, Counter{}, tally.Get("c2"))

	snap := tally.Snapshot()
	assert.Len(t, snap, 2)
	assert.NotContains(t, snap, "c2")

	// Reseeding keeps the open conversation clear
	tally.Seed(map[string]Counter{"c2": {Count: 5}})
	assert.Empty(t, tally.Snapshot())

	tally.Open("")
	assert.True(t, tally.Apply("c2", "u-alice", "now closed"))
	assert.Equal(t, 1, tally.Get("c2").Count)
}

func TestTally_IgnoresOwnMessages(t *testing.T) {
	tally := NewTally("u-bob", "bob")

	assert.False(t, tally.Apply("c1", "u-bob", "note to self @bob"))
	assert.Equal(t, Counter{}, tally.Get("c1"))
	assert.Empty(t, tally.Snapshot())

	assert.True(t, tally.Apply("c1", "u-alice", "reply"))
	assert.Equal(t, Counter{Count: 1}, tally.Get("c1"))
}

func TestTally_NoUsernameNeverMentioned(t *testing.T) {
	tally := NewTally("u-anon", "")

	assert.True(t, tally.Apply("c1", "u-alice", "hey @ there"))
	assert.Equal(t, Counter{Count: 1}, tally.Get("c1"))
}
