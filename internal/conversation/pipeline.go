// ABOUTME: Message pipeline: append to the durable log, then fan out to reachable participants
// ABOUTME: Appends per conversation are serialized; triggered messages hand off to the responder asynchronously

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
)

// PipelineStore defines what the pipeline needs from storage
type PipelineStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// Responder reacts to messages that carry its trigger. Respond runs on its
// own goroutine with a context detached from the originating request.
type Responder interface {
	Triggered(text string) bool
	Respond(ctx context.Context, conv *store.Conversation, msg *store.Message)
}

// Pipeline persists messages and delivers them.
//
// Key principle: record first, then deliver. A message is durable before any
// participant sees it, so a dropped connection never loses history.
type Pipeline struct {
	store     PipelineStore
	directory *Directory
	notifier  Notifier
	locks     *keyedMutex
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu        sync.RWMutex
	responder Responder
	inflight  sync.WaitGroup
}

// NewPipeline creates a Pipeline. Pass nil logger for default.
func NewPipeline(s PipelineStore, directory *Directory, notifier Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     s,
		directory: directory,
		notifier:  notifier,
		locks:     newKeyedMutex(),
		logger:    logger.With("component", "pipeline"),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// SetResponder installs the component that answers triggered messages.
// A nil responder disables augmentation.
func (p *Pipeline) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
}

// Send appends text from senderID to the conversation and fans it out.
// If the text carries the responder's trigger, the responder is started
// after fan-out and Send returns without waiting for it.
func (p *Pipeline) Send(ctx context.Context, conversationID, senderID, text string) (*store.Message, error) {
	conv, msg, err := p.appendAndDeliver(ctx, conversationID, senderID, text, true)
	if err != nil {
		p.logger.Warn("send failed",
			"conversation_id", conversationID,
			"sender_id", senderID,
			"error", err)
		return nil, err
	}

	p.mu.RLock()
	responder := p.responder
	p.mu.RUnlock()

	if responder != nil && responder.Triggered(text) {
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			responder.Respond(context.WithoutCancel(ctx), conv, msg)
		}()
	}
	return msg, nil
}

// Publish appends and fans out a message without membership checks and
// without consulting the responder. It is the re-entry point for synthetic
// messages such as bot replies, which therefore never re-trigger.
func (p *Pipeline) Publish(ctx context.Context, conversationID, senderID, text string) (*store.Message, error) {
	_, msg, err := p.appendAndDeliver(ctx, conversationID, senderID, text, false)
	return msg, err
}

// CreatePrivateAndSend finds or creates the private conversation between
// sender and receiver, then sends text into it.
func (p *Pipeline) CreatePrivateAndSend(ctx context.Context, senderID, receiverID, text string) (*store.Conversation, *store.Message, error) {
	conv, _, err := p.directory.FindOrCreatePrivate(ctx, senderID, receiverID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := p.Send(ctx, conv.ID, senderID, text)
	if err != nil {
		return conv, nil, err
	}
	return conv, msg, nil
}

// Wait blocks until every responder started by Send has returned
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) appendAndDeliver(ctx context.Context, conversationID, senderID, text string, requireMember bool) (*store.Conversation, *store.Message, error) {
	if text == "" {
		return nil, nil, validationError("text is required")
	}

	unlock := p.locks.Lock(conversationID)
	defer unlock()

	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("conversation %s: %w", conversationID, translate(err))
	}
	if requireMember && !conv.HasParticipant(senderID) {
		return nil, nil, ErrNotMember
	}

	sender, err := p.store.GetUser(ctx, senderID)
	if err != nil {
		return nil, nil, fmt.Errorf("sender %s: %w", senderID, translate(err))
	}

	msg := &store.Message{
		ID:             p.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     sender.Username,
		Text:           text,
		Timestamp:      p.now().UTC(),
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("appending message: %w", translate(err))
	}
	conv.LastUpdated = msg.Timestamp

	p.logger.Debug("message recorded",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"sender_id", senderID)

	p.fanOut(conv, msg)
	return conv, msg, nil
}

// fanOut delivers msg once to every reachable participant. Unreachable
// participants are an expected miss; unread accounting catches them up.
func (p *Pipeline) fanOut(conv *store.Conversation, msg *store.Message) {
	if p.notifier == nil {
		return
	}

	env, err := protocol.NewEnvelope(protocol.EventReceiveMessage, protocol.ReceiveMessage{
		Message:        WireMessage(msg),
		ConversationID: conv.ID,
	})
	if err != nil {
		p.logger.Error("encoding receiveMessage", "error", err)
		return
	}

	var missed []string
	for _, userID := range conv.Participants {
		if !p.notifier.Deliver(userID, env) {
			missed = append(missed, userID)
		}
	}

	if len(missed) > 0 {
		p.logger.Debug("delivery miss",
			"conversation_id", conv.ID,
			"message_id", msg.ID,
			"missed", missed)
	}
}
