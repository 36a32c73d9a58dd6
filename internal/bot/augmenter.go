// ABOUTME: Bot augmentation: answers triggered messages in group conversations
// ABOUTME: Scopes the prompt to the group subject and publishes the reply through the pipeline

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/huddle-gateway/internal/store"
)

const publishTimeout = 5 * time.Second

// Publisher persists and fans out a message without re-triggering the bot
type Publisher interface {
	Publish(ctx context.Context, conversationID, senderID, text string) (*store.Message, error)
}

// Config configures an Augmenter
type Config struct {
	Trigger string        // prefix that addresses the bot, e.g. "@chatBot"
	UserID  string        // sender ID of bot replies
	Timeout time.Duration // bound on a single generation call
}

// Augmenter implements the pipeline's responder
type Augmenter struct {
	cfg       Config
	generator Generator
	publisher Publisher
	logger    *slog.Logger
}

// NewAugmenter creates an Augmenter. Pass nil logger for default.
func NewAugmenter(cfg Config, generator Generator, publisher Publisher, logger *slog.Logger) *Augmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Augmenter{
		cfg:       cfg,
		generator: generator,
		publisher: publisher,
		logger:    logger.With("component", "bot"),
	}
}

// Triggered reports whether text starts with the trigger token
func (a *Augmenter) Triggered(text string) bool {
	return a.cfg.Trigger != "" && strings.HasPrefix(text, a.cfg.Trigger)
}

// Respond generates and publishes a reply to msg. Every failure is logged
// and ends the attempt; nothing is sent back to the conversation.
func (a *Augmenter) Respond(ctx context.Context, conv *store.Conversation, msg *store.Message) {
	logger := a.logger.With("conversation_id", conv.ID, "message_id", msg.ID)

	subject := strings.TrimSpace(conv.Subject)
	if subject == "" {
		logger.Info("bot trigger ignored, conversation has no subject")
		return
	}

	question := StripTrigger(msg.Text, a.cfg.Trigger)
	if question == "" {
		logger.Info("bot trigger ignored, empty question")
		return
	}

	start := time.Now()
	reply, err := a.generate(ctx, BuildPrompt(subject, question))
	if err != nil {
		logger.Warn("bot generation failed", "error", err, "elapsed", time.Since(start))
		return
	}

	// A reply that arrived just inside the generation timeout still gets stored
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	out, err := a.publisher.Publish(pubCtx, conv.ID, a.cfg.UserID, reply)
	if err != nil {
		logger.Error("publishing bot reply", "error", err)
		return
	}

	logger.Info("bot replied",
		"reply_id", out.ID,
		"subject", subject,
		"elapsed", time.Since(start))
}

// generate runs one generation call bounded by the configured timeout
func (a *Augmenter) generate(ctx context.Context, prompt string) (string, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	return a.generator.Generate(ctx, prompt)
}

// StripTrigger removes the first occurrence of trigger and surrounding space
func StripTrigger(text, trigger string) string {
	if trigger == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.Replace(text, trigger, "", 1))
}

// BuildPrompt scopes question to subject
func BuildPrompt(subject, question string) string {
	return fmt.Sprintf("Answer like you are a %q bot, so don't answer if the question is about a different field. %s", subject, question)
}
