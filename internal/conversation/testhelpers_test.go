// ABOUTME: Shared fixtures for conversation tests
// ABOUTME: SQLite store in a temp dir plus a recording notifier and responder

package conversation

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *store.SQLiteStore, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, s.CreateUser(context.Background(), &store.User{ID: name, Username: name}))
	}
}

// recordingNotifier plays the presence registry: only users in online receive
type recordingNotifier struct {
	mu       sync.Mutex
	online   map[string]bool
	received map[string][]*protocol.Envelope
}

func newRecordingNotifier(online ...string) *recordingNotifier {
	n := &recordingNotifier{
		online:   make(map[string]bool),
		received: make(map[string][]*protocol.Envelope),
	}
	for _, u := range online {
		n.online[u] = true
	}
	return n
}

func (n *recordingNotifier) Deliver(userID string, env *protocol.Envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[userID] {
		return false
	}
	n.received[userID] = append(n.received[userID], env)
	return true
}

func (n *recordingNotifier) events(userID, event string) []*protocol.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range n.received[userID] {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func decodeReceive(t *testing.T, env *protocol.Envelope) protocol.ReceiveMessage {
	t.Helper()
	var rm protocol.ReceiveMessage
	require.NoError(t, json.Unmarshal(env.Data, &rm))
	return rm
}

type recordingResponder struct {
	prefix string
	mu     sync.Mutex
	calls  []*store.Message
}

func (r *recordingResponder) Triggered(text string) bool {
	return len(text) >= len(r.prefix) && text[:len(r.prefix)] == r.prefix
}

func (r *recordingResponder) Respond(_ context.Context, _ *store.Conversation, msg *store.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
}

func (r *recordingResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
