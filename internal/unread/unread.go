// ABOUTME: Unread accounting: which messages a user missed while unreachable
// ABOUTME: Compares persisted message timestamps against the user's last disconnect

package unread

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/2389/huddle-gateway/internal/store"
)

// Store defines what unread accounting reads from persistence
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListMessagesSince(ctx context.Context, userID string, since time.Time) ([]*store.Message, error)
}

// Summary is the unread state of one conversation for one user
type Summary struct {
	Count     int
	Mentioned bool
	Messages  []*store.Message // append order
}

// Accountant computes point-in-time unread snapshots. It never writes.
type Accountant struct {
	store  Store
	logger *slog.Logger
}

// NewAccountant creates an Accountant. Pass nil logger for default.
func NewAccountant(s Store, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		store:  s,
		logger: logger.With("component", "unread"),
	}
}

// ComputeUnread returns, keyed by conversation ID, the messages newer than the
// user's last disconnect. A user who has never disconnected has nothing unread.
// Returns store.ErrNotFound if the user does not exist.
func (a *Accountant) ComputeUnread(ctx context.Context, userID string) (map[string]*Summary, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", userID, err)
	}

	result := make(map[string]*Summary)
	if user.LastDisconnected == nil {
		return result, nil
	}

	msgs, err := a.store.ListMessagesSince(ctx, userID, *user.LastDisconnected)
	if err != nil {
		return nil, fmt.Errorf("listing messages since disconnect: %w", err)
	}

	mention := mentionPattern(user.Username)
	for _, msg := range msgs {
		sum, ok := result[msg.ConversationID]
		if !ok {
			sum = &Summary{}
			result[msg.ConversationID] = sum
		}
		sum.Count++
		sum.Messages = append(sum.Messages, msg)
		if !sum.Mentioned && mention != nil && mention.MatchString(msg.Text) {
			sum.Mentioned = true
		}
	}

	a.logger.Debug("unread computed",
		"user_id", userID,
		"since", user.LastDisconnected,
		"conversations", len(result),
		"messages", len(msgs))

	return result, nil
}

// Flatten returns every unread message across conversations, ordered by
// conversation ID and then append order.
func Flatten(unread map[string]*Summary) []*store.Message {
	ids := make([]string, 0, len(unread))
	for id := range unread {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*store.Message
	for _, id := range ids {
		out = append(out, unread[id].Messages...)
	}
	return out
}

// Counts reduces a snapshot to its per-conversation counters
func Counts(unread map[string]*Summary) map[string]Counter {
	out := make(map[string]Counter, len(unread))
	for id, sum := range unread {
		out[id] = Counter{Count: sum.Count, Mentioned: sum.Mentioned}
	}
	return out
}

// Mentions reports whether text contains @username as a whole word.
// Matching is case-sensitive: "@bob" mentions bob but not bobby or Bob.
func Mentions(text, username string) bool {
	re := mentionPattern(username)
	return re != nil && re.MatchString(text)
}

// mentionPattern compiles the whole-word mention matcher for username, or
// returns nil for an empty name. Callers checking many texts for the same
// user compile it once.
func mentionPattern(username string) *regexp.Regexp {
	if username == "" {
		return nil
	}
	return regexp.MustCompile(`(?:^|[^\w@])@` + regexp.QuoteMeta(username) + `(?:$|[^\w])`)
}
