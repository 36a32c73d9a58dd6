// ABOUTME: Presence registry mapping each user to the one connection that can reach them now
// ABOUTME: Last registration wins; releasing a connection records the user's disconnect time

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/huddle-gateway/internal/protocol"
)

// Handle is a live connection that can receive server events.
// Deliver must not block; it reports false when the event was dropped.
type Handle interface {
	ID() string
	Deliver(env *protocol.Envelope) bool
}

// MissReporter is implemented by handles that can drop events they already
// accepted, for example on a full send queue. FirstMissed returns the
// timestamp of the oldest message the handle never wrote.
type MissReporter interface {
	FirstMissed() (time.Time, bool)
}

// DisconnectRecorder persists the moment a user stopped being reachable
type DisconnectRecorder interface {
	SetLastDisconnected(ctx context.Context, userID string, at time.Time) error
}

// Registry tracks which connection currently represents each user.
// State is in memory only and starts empty on every process start.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]Handle
	byHandle map[string]map[string]struct{} // handle ID -> user IDs bound to it
	recorder DisconnectRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates a Registry. recorder may be nil, in which case
// disconnect times are not persisted. Pass nil logger for default.
func NewRegistry(recorder DisconnectRecorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser:   make(map[string]Handle),
		byHandle: make(map[string]map[string]struct{}),
		recorder: recorder,
		now:      time.Now,
		logger:   logger.With("component", "presence"),
	}
}

// Register binds userID to h, replacing any previous binding for the user.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev.ID() != h.ID() {
		r.unbindLocked(prev.ID(), userID)
		r.logger.Debug("replacing connection", "user_id", userID, "previous", prev.ID(), "handle", h.ID())
	}

	r.byUser[userID] = h
	users, ok := r.byHandle[h.ID()]
	if !ok {
		users = make(map[string]struct{})
		r.byHandle[h.ID()] = users
	}
	users[userID] = struct{}{}

	r.logger.Info("user reachable", "user_id", userID, "handle", h.ID(), "total_users", len(r.byUser))
}

// Lookup returns the handle currently bound to userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byUser[userID]
	return h, ok
}

// Release removes every binding that points at h and records now as the
// last-disconnected time of each affected user. If h is a MissReporter that
// lost messages, the time recorded is just before the oldest lost message,
// so unread accounting reports it. It returns the released user IDs; an
// unbound handle is a no-op.
func (r *Registry) Release(ctx context.Context, h Handle) ([]string, error) {
	r.mu.Lock()
	users := r.byHandle[h.ID()]
	released := make([]string, 0, len(users))
	for userID := range users {
		if cur, ok := r.byUser[userID]; ok && cur.ID() == h.ID() {
			delete(r.byUser, userID)
			released = append(released, userID)
		}
	}
	delete(r.byHandle, h.ID())
	remaining := len(r.byUser)
	r.mu.Unlock()

	if len(released) == 0 {
		return nil, nil
	}

	r.logger.Info("user unreachable", "user_ids", released, "handle", h.ID(), "total_users", remaining)

	if r.recorder == nil {
		return released, nil
	}

	at := r.now().UTC()
	if mr, ok := h.(MissReporter); ok {
		if first, missed := mr.FirstMissed(); missed && !first.After(at) {
			at = first.UTC().Add(-time.Nanosecond)
		}
	}
	var errs []error
	for _, userID := range released {
		if err := r.recorder.SetLastDisconnected(ctx, userID, at); err != nil {
			errs = append(errs, fmt.Errorf("recording disconnect for %s: %w", userID, err))
		}
	}
	return released, errors.Join(errs...)
}

// Deliver sends env to userID if they are reachable. It reports whether a
// handle accepted the event. A miss is expected for offline users.
// The read lock is held across Handle.Deliver, so once Release has unbound
// a handle it receives nothing further through the registry.
func (r *Registry) Deliver(userID string, env *protocol.Envelope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byUser[userID]
	if !ok {
		return false
	}
	return h.Deliver(env)
}

// Count returns the number of reachable users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// unbindLocked drops userID from the handle's reverse index. Must be called with mu held.
func (r *Registry) unbindLocked(handleID, userID string) {
	users, ok := r.byHandle[handleID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.byHandle, handleID)
	}
}
