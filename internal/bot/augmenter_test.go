// ABOUTME: Tests for bot augmentation
// ABOUTME: Uses a fake generator; the end-to-end case runs through a real pipeline and SQLite store

package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle-gateway/internal/conversation"
	"github.com/2389/huddle-gateway/internal/store"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	slow    bool // ignore cancellation and answer after delay anyway
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.delay > 0 && g.slow {
		time.Sleep(g.delay)
		return g.reply, g.err
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply, g.err
}

func (g *fakeGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, conversationID, senderID, text string) (*store.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.published = append(p.published, senderID+":"+text)
	return &store.Message{ID: "reply", ConversationID: conversationID, SenderID: senderID, Text: text}, nil
}

func testConfig() Config {
	return Config{Trigger: "@chatBot", UserID: "chatbot", Timeout: time.Second}
}

func TestTriggered(t *testing.T) {
	a := NewAugmenter(testConfig(), &fakeGenerator{}, &fakePublisher{}, nil)

	assert.True(t, a.Triggered("@chatBot what is 2+2"))
	assert.True(t, a.Triggered("@chatBot"))
	assert.False(t, a.Triggered("hey @chatBot"))
	assert.False(t, a.Triggered("@chatbot lowercase"))

	empty := NewAugmenter(Config{}, &fakeGenerator{}, &fakePublisher{}, nil)
	assert.False(t, empty.Triggered("@chatBot hi"))
}

func TestStripTriggerAndPrompt(t *testing.T) {
	assert.Equal(t, "what is 2+2", StripTrigger("@chatBot what is 2+2", "@chatBot"))
	assert.Equal(t, "", StripTrigger("@chatBot   ", "@chatBot"))

	prompt := BuildPrompt("Mathematics", "what is 2+2")
	assert.Equal(t,
		`Answer like you are a "Mathematics" bot, so don't answer if the question is about a different field. what is 2+2`,
		prompt)
}

func TestRespond(t *testing.T) {
	group := &store.Conversation{ID: "g1", Kind: store.KindGroup, Subject: "Mathematics"}
	msg := &store.Message{ID: "m1", ConversationID: "g1", Text: "@chatBot what is 2+2"}

	t.Run("publishes reply as bot", func(t *testing.T) {
		gen := &fakeGenerator{reply: "4"}
		pub := &fakePublisher{}
		NewAugmenter(testConfig(), gen, pub, nil).Respond(context.Background(), group, msg)

		require.Len(t, gen.calls(), 1)
		assert.Contains(t, gen.calls()[0], "Mathematics")
		assert.Contains(t, gen.calls()[0], "what is 2+2")
		assert.NotContains(t, gen.calls()[0], "@chatBot")
		assert.Equal(t, []string{"chatbot:4"}, pub.published)
	})

	t.Run("no subject", func(t *testing.T) {
		gen := &fakeGenerator{reply: "4"}
		pub := &fakePublisher{}
		private := &store.Conversation{ID: "p1", Kind: store.KindPrivate}
		NewAugmenter(testConfig(), gen, pub, nil).Respond(context.Background(), private, msg)

		assert.Empty(t, gen.calls())
		assert.Empty(t, pub.published)
	})

	t.Run("generator error", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("boom")}
		pub := &fakePublisher{}
		NewAugmenter(testConfig(), gen, pub, nil).Respond(context.Background(), group, msg)
		assert.Empty(t, pub.published)
	})

	t.Run("timeout", func(t *testing.T) {
		gen := &fakeGenerator{reply: "late", delay: time.Second}
		pub := &fakePublisher{}
		cfg := testConfig()
		cfg.Timeout = 10 * time.Millisecond
		NewAugmenter(cfg, gen, pub, nil).Respond(context.Background(), group, msg)
		assert.Empty(t, pub.published)
	})

	t.Run("reply at the deadline is still published", func(t *testing.T) {
		gen := &fakeGenerator{reply: "4", delay: 30 * time.Millisecond, slow: true}
		pub := &fakePublisher{}
		cfg := testConfig()
		cfg.Timeout = 10 * time.Millisecond
		NewAugmenter(cfg, gen, pub, nil).Respond(context.Background(), group, msg)
		assert.Equal(t, []string{"chatbot:4"}, pub.published)
	})

	t.Run("publish failure is swallowed", func(t *testing.T) {
		gen := &fakeGenerator{reply: "4"}
		pub := &fakePublisher{err: errors.New("disk full")}
		NewAugmenter(testConfig(), gen, pub, nil).Respond(context.Background(), group, msg)
		assert.Empty(t, pub.published)
	})
}

func TestAugmenter_ThroughPipeline(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "chatbot"} {
		require.NoError(t, s.CreateUser(ctx, &store.User{ID: u, Username: u}))
	}

	dir := conversation.NewDirectory(s, nil, nil)
	p := conversation.NewPipeline(s, dir, nil, nil)
	gen := &fakeGenerator{reply: "@chatBot says 4"}
	p.SetResponder(NewAugmenter(testConfig(), gen, p, nil))

	group, err := dir.CreateGroup(ctx, conversation.GroupRequest{
		Name: "Study", Subject: "Mathematics", Participants: []string{"alice", "bob"}, Admin: "alice",
	})
	require.NoError(t, err)

	_, err = p.Send(ctx, group.ID, "alice", "@chatBot what is 2+2")
	require.NoError(t, err)
	p.Wait()

	msgs, err := s.ListMessages(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "exactly one reply, and the reply does not trigger another")
	assert.Equal(t, "chatbot", msgs[1].SenderID)
	assert.Equal(t, "@chatBot says 4", msgs[1].Text)
	assert.Greater(t, msgs[1].Seq, msgs[0].Seq)
	assert.Len(t, gen.calls(), 1)
}
