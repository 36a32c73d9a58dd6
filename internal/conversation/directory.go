// ABOUTME: Conversation directory owning existence, creation, deduplication and membership
// ABOUTME: Private pairs are found-or-created atomically; groups announce themselves to their participants

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
)

// DirectoryStore defines what the directory needs from storage
type DirectoryStore interface {
	store.ConversationStore
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Notifier delivers an event to a user if they are reachable
type Notifier interface {
	Deliver(userID string, env *protocol.Envelope) bool
}

// GroupRequest holds the fields required to create a group
type GroupRequest struct {
	Name         string   `validate:"required"`
	Subject      string   `validate:"required"`
	Participants []string `validate:"required,min=1,dive,required"`
	Admin        string   `validate:"required"`
}

var validate = validator.New()

// Directory is the source of truth for who belongs to which conversation
type Directory struct {
	store    DirectoryStore
	notifier Notifier
	logger   *slog.Logger
	newID    func() string
}

// NewDirectory creates a Directory. notifier may be nil when nobody needs
// groupCreated events (tests, CLI). Pass nil logger for default.
func NewDirectory(s DirectoryStore, notifier Notifier, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:    s,
		notifier: notifier,
		logger:   logger.With("component", "directory"),
		newID:    func() string { return uuid.New().String() },
	}
}

// Get returns the conversation with the given id
func (d *Directory) Get(ctx context.Context, conversationID string) (*store.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	return conv, nil
}

// FindOrCreatePrivate returns the private conversation between a and b,
// creating it if needed. The boolean reports whether it was created by this call.
//
// Concurrent calls for the same pair resolve to one conversation: the unique
// pair index rejects the losing insert and the loser re-reads the winner's row.
func (d *Directory) FindOrCreatePrivate(ctx context.Context, a, b string) (*store.Conversation, bool, error) {
	if a == "" || b == "" {
		return nil, false, validationError("both participants are required")
	}
	if a == b {
		return nil, false, validationError("a private conversation needs two different users")
	}

	conv, err := d.store.FindPrivateConversation(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up private conversation: %w", err)
	}

	conv = &store.Conversation{
		ID:           d.newID(),
		Kind:         store.KindPrivate,
		Participants: []string{a, b},
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Another request created the pair between our lookup and insert
			existing, lookupErr := d.store.FindPrivateConversation(ctx, a, b)
			if lookupErr == nil {
				d.logger.Debug("found existing private conversation after race", "conversation_id", existing.ID)
				return existing, false, nil
			}
			d.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, false, fmt.Errorf("creating private conversation: %w", err)
	}

	d.logger.Info("private conversation created", "conversation_id", conv.ID, "participants", conv.Participants)
	return conv, true, nil
}

// CreateGroup always creates a new group and notifies its reachable
// participants with groupCreated. Participants are trimmed and deduplicated
// keeping first occurrence order; the admin must be one of them.
func (d *Directory) CreateGroup(ctx context.Context, req GroupRequest) (*store.Conversation, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Admin = strings.TrimSpace(req.Admin)
	req.Participants = lo.Uniq(lo.Compact(lo.Map(req.Participants, func(p string, _ int) string {
		return strings.TrimSpace(p)
	})))

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !lo.Contains(req.Participants, req.Admin) {
		return nil, validationError("admin %q must be a participant", req.Admin)
	}

	conv := &store.Conversation{
		ID:           d.newID(),
		Kind:         store.KindGroup,
		Participants: req.Participants,
		Admin:        req.Admin,
		Name:         req.Name,
		Subject:      req.Subject,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	d.logger.Info("group created",
		"conversation_id", conv.ID,
		"name", conv.Name,
		"subject", conv.Subject,
		"participants", len(conv.Participants))

	d.announceGroup(ctx, conv)
	return conv, nil
}

// announceGroup sends groupCreated to each reachable participant only
func (d *Directory) announceGroup(ctx context.Context, conv *store.Conversation) {
	if d.notifier == nil {
		return
	}

	names := usernames(ctx, d.store, conv.Participants)
	env, err := protocol.NewEnvelope(protocol.EventGroupCreated, wireConversation(conv, nil, names))
	if err != nil {
		d.logger.Error("encoding groupCreated", "error", err)
		return
	}

	delivered := 0
	for _, userID := range conv.Participants {
		if d.notifier.Deliver(userID, env) {
			delivered++
		}
	}
	d.logger.Debug("groupCreated delivered",
		"conversation_id", conv.ID,
		"delivered", delivered,
		"missed", len(conv.Participants)-delivered)
}

// Join appends userID to a group's participants
func (d *Directory) Join(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" || userID == "" {
		return validationError("conversation and user are required")
	}

	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return translate(err)
	}
	if conv.Kind != store.KindGroup {
		return ErrInvalidKind
	}
	if conv.HasParticipant(userID) {
		return ErrAlreadyMember
	}

	if err := d.store.AddParticipant(ctx, conversationID, userID); err != nil {
		return translate(err)
	}

	d.logger.Info("user joined group", "conversation_id", conversationID, "user_id", userID)
	return nil
}

// ListForUser returns every conversation of userID with participants and
// messages populated, most recently updated first.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]protocol.Conversation, error) {
	convs, err := d.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	ids := lo.FlatMap(convs, func(c *store.Conversation, _ int) []string { return c.Participants })
	names := usernames(ctx, d.store, ids)

	out := make([]protocol.Conversation, 0, len(convs))
	for _, conv := range convs {
		msgs, err := d.store.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("listing messages for %s: %w", conv.ID, err)
		}
		out = append(out, wireConversation(conv, msgs, names))
	}
	return out, nil
}

// translate maps store sentinels onto the directory taxonomy
func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyMember):
		return ErrAlreadyMember
	default:
		return err
	}
}
