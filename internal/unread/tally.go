// ABOUTME: Client-side unread counters fed by live deliveries
// ABOUTME: Counts messages for conversations that are not open, using the same mention rule

package unread

import (
	"regexp"
	"sync"

	"github.com/2389/huddle-gateway/internal/protocol"
)

// Counter is the unread state a client shows for one conversation
type Counter = protocol.UnreadCount

// Tally keeps per-conversation counters for one user. It is seeded from a
// ComputeUnread snapshot and then advanced by live receiveMessage events.
// Opening a conversation clears its counter. The user's own messages, echoed
// back by the gateway, never count.
type Tally struct {
	mu      sync.Mutex
	userID  string
	mention *regexp.Regexp // nil when the user has no display name
	open    string
	counts  map[string]Counter
}

// NewTally creates an empty Tally for the user with the given ID and display name
func NewTally(userID, username string) *Tally {
	return &Tally{
		userID:  userID,
		mention: mentionPattern(username),
		counts:  make(map[string]Counter),
	}
}

// Seed replaces the counters with a snapshot. The open conversation stays at zero.
func (t *Tally) Seed(snapshot map[string]Counter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = make(map[string]Counter, len(snapshot))
	for id, c := range snapshot {
		if id == t.open || c.Count == 0 {
			continue
		}
		t.counts[id] = c
	}
}

// Apply records a live message. It reports whether a counter changed, which
// is false for the currently open conversation and for the user's own messages.
func (t *Tally) Apply(conversationID, senderID, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conversationID == t.open || senderID == t.userID {
		return false
	}
	c := t.counts[conversationID]
	c.Count++
	if t.mention != nil && t.mention.MatchString(text) {
		c.Mentioned = true
	}
	t.counts[conversationID] = c
	return true
}

// Open marks conversationID as the one being viewed and clears its counter.
// An empty ID means nothing is open.
func (t *Tally) Open(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = conversationID
	delete(t.counts, conversationID)
}

// Get returns the counter for one conversation
func (t *Tally) Get(conversationID string) Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[conversationID]
}

// Snapshot returns a copy of every non-zero counter
func (t *Tally) Snapshot() map[string]Counter {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Counter, len(t.counts))
	for id, c := range t.counts {
		out[id] = c
	}
	return out
}
