// ABOUTME: Websocket endpoint: one goroutine pair per connection, events dispatched in arrival order
// ABOUTME: Connections are presence handles; closing one records the user's disconnect time

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/huddle-gateway/internal/auth"
	"github.com/2389/huddle-gateway/internal/conversation"
	"github.com/2389/huddle-gateway/internal/dedupe"
	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/store"
)

const (
	maxFrameSize   = 64 * 1024
	writeTimeout   = 10 * time.Second
	releaseTimeout = 5 * time.Second
)

// socketConn is a presence handle backed by a websocket. Deliver never
// blocks: events go through a buffered queue drained by writeLoop. A client
// that lets the queue fill up is a slow consumer and gets disconnected.
type socketConn struct {
	id     string
	conn   *websocket.Conn
	send   chan *protocol.Envelope
	cancel context.CancelFunc // ends the connection
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	overflowed  bool
	firstMissed time.Time // oldest message accepted for this socket but never written
}

var (
	_ presence.Handle       = (*socketConn)(nil)
	_ presence.MissReporter = (*socketConn)(nil)
)

func newSocketConn(conn *websocket.Conn, buffer int, cancel context.CancelFunc, logger *slog.Logger) *socketConn {
	id := uuid.New().String()
	return &socketConn{
		id:     id,
		conn:   conn,
		send:   make(chan *protocol.Envelope, buffer),
		cancel: cancel,
		logger: logger.With("socket_id", id),
	}
}

func (c *socketConn) ID() string { return c.id }

// Deliver queues env for writing. It reports false if the socket is closed
// or its queue is full. A full queue closes the connection.
func (c *socketConn) Deliver(env *protocol.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.overflowed {
		c.noteMissedLocked(env)
		return false
	}

	select {
	case c.send <- env:
		return true
	default:
		c.noteMissedLocked(env)
		c.overflowed = true
		c.logger.Warn("send queue full, closing slow consumer", "event", env.Event, "queued", len(c.send))
		c.cancel()
		return false
	}
}

// Overflowed reports whether the socket was closed for falling behind
func (c *socketConn) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

// noteMissedLocked remembers the oldest message this socket failed to
// deliver. Must be called with mu held.
func (c *socketConn) noteMissedLocked(env *protocol.Envelope) {
	ts, ok := env.MessageTime()
	if !ok {
		return
	}
	if c.firstMissed.IsZero() || ts.Before(c.firstMissed) {
		c.firstMissed = ts
	}
}

// FirstMissed implements presence.MissReporter
func (c *socketConn) FirstMissed() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstMissed, !c.firstMissed.IsZero()
}

// close stops further delivery and accounts for whatever the writer left
// in the queue. The writer must have stopped.
func (c *socketConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for {
		select {
		case env := <-c.send:
			c.noteMissedLocked(env)
		default:
			return
		}
	}
}

func (c *socketConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, env)
			cancel()
			if err != nil {
				c.mu.Lock()
				c.noteMissedLocked(env)
				c.mu.Unlock()
				c.logger.Debug("write failed", "event", env.Event, "error", err)
				return
			}
		}
	}
}

// handleSocket upgrades the request and serves the connection until either
// side closes it or the gateway shuts down.
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	g.sockets.Add(1)
	defer g.sockets.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(g.baseCtx, cancel)
	defer stop()

	sc := newSocketConn(conn, g.config.Delivery.BufferSize, cancel, g.logger)
	sc.logger.Debug("socket connected", "remote_addr", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		sc.writeLoop(ctx)
	}()

	g.readLoop(ctx, sc)

	cancel()
	<-writerDone
	if sc.Overflowed() {
		_ = conn.Close(websocket.StatusPolicyViolation, "send queue full")
	}
	g.releaseSocket(sc)
}

// releaseSocket stops delivery to sc and records its users as unreachable.
// The writer must have stopped.
func (g *Gateway) releaseSocket(sc *socketConn) {
	sc.close()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	released, err := g.registry.Release(ctx, sc)
	if err != nil {
		sc.logger.Error("recording disconnect", "error", err)
	}
	sc.logger.Debug("socket closed", "released_users", released)
}

func (g *Gateway) readLoop(ctx context.Context, sc *socketConn) {
	for {
		_, data, err := sc.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					sc.logger.Debug("read failed", "error", err)
				}
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.fail(sc, env.Event, protocol.ErrInvalidPayload, "", "")
			continue
		}
		g.dispatch(ctx, sc, &env)
	}
}

// dispatch applies one client event. Persistence runs on a context detached
// from the connection so a disconnect cannot undo an accepted send.
func (g *Gateway) dispatch(ctx context.Context, sc *socketConn, env *protocol.Envelope) {
	opCtx := context.WithoutCancel(ctx)

	switch env.Event {
	case protocol.EventSaveSocketID:
		g.onSaveSocketID(opCtx, sc, env)
	case protocol.EventSendMessage:
		g.onSendMessage(opCtx, sc, env)
	case protocol.EventCreatePrivateConversation:
		g.onCreatePrivate(opCtx, sc, env)
	case protocol.EventCreateGroupConversation:
		g.onCreateGroup(opCtx, sc, env)
	default:
		g.fail(sc, env.Event, errUnknownEvent, "", "")
	}
}

var errUnknownEvent = errors.New("unknown event")

func (g *Gateway) onSaveSocketID(ctx context.Context, sc *socketConn, env *protocol.Envelope) {
	var p protocol.SaveSocketID
	if err := env.Decode(&p); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}
	if err := auth.CheckActingAs(ctx, p.UserID); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}
	if _, err := g.store.GetUser(ctx, p.UserID); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}

	g.registry.Register(p.UserID, sc)
}

func (g *Gateway) onSendMessage(ctx context.Context, sc *socketConn, env *protocol.Envelope) {
	var p protocol.SendMessage
	if err := env.Decode(&p); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}
	if err := auth.CheckActingAs(ctx, p.SenderID); err != nil {
		g.fail(sc, env.Event, err, p.ConversationID, p.ClientMessageID)
		return
	}

	key, duplicate := g.markClientMessage(p.SenderID, p.ClientMessageID)
	if duplicate {
		sc.logger.Debug("duplicate send dropped", "client_message_id", p.ClientMessageID)
		return
	}

	if _, err := g.pipeline.Send(ctx, p.ConversationID, p.SenderID, p.Text); err != nil {
		g.forgetClientMessage(key)
		g.fail(sc, env.Event, err, p.ConversationID, p.ClientMessageID)
	}
}

func (g *Gateway) onCreatePrivate(ctx context.Context, sc *socketConn, env *protocol.Envelope) {
	var p protocol.CreatePrivateConversation
	if err := env.Decode(&p); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}
	if err := auth.CheckActingAs(ctx, p.SenderID); err != nil {
		g.fail(sc, env.Event, err, "", p.ClientMessageID)
		return
	}

	key, duplicate := g.markClientMessage(p.SenderID, p.ClientMessageID)
	if duplicate {
		sc.logger.Debug("duplicate send dropped", "client_message_id", p.ClientMessageID)
		return
	}

	conv, _, err := g.pipeline.CreatePrivateAndSend(ctx, p.SenderID, p.ReceiverID, p.Text)
	if err != nil {
		g.forgetClientMessage(key)
		var convID string
		if conv != nil {
			convID = conv.ID
		}
		g.fail(sc, env.Event, err, convID, p.ClientMessageID)
	}
}

func (g *Gateway) onCreateGroup(ctx context.Context, sc *socketConn, env *protocol.Envelope) {
	var p protocol.CreateGroupConversation
	if err := env.Decode(&p); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}
	if err := auth.CheckActingAs(ctx, p.Admin); err != nil {
		g.fail(sc, env.Event, err, "", "")
		return
	}

	_, err := g.directory.CreateGroup(ctx, conversation.GroupRequest{
		Name:         p.Name,
		Subject:      p.Subject,
		Participants: p.Participants,
		Admin:        p.Admin,
	})
	if err != nil {
		g.fail(sc, env.Event, err, "", "")
	}
}

// markClientMessage records a resend key. It returns the key to forget on
// failure and whether the message was already accepted.
func (g *Gateway) markClientMessage(senderID, clientMessageID string) (string, bool) {
	if clientMessageID == "" {
		return "", false
	}
	key := dedupe.ClientKey(senderID, clientMessageID)
	return key, g.dedupe.CheckAndMark(key)
}

func (g *Gateway) forgetClientMessage(key string) {
	if key != "" {
		g.dedupe.Forget(key)
	}
}

// fail tells the originating connection its event was not applied
func (g *Gateway) fail(sc *socketConn, event string, err error, conversationID, clientMessageID string) {
	reason := failureReason(err)
	sc.logger.Warn("event rejected", "event", event, "reason", reason, "error", err)

	env, encErr := protocol.NewEnvelope(protocol.EventDeliveryFailed, protocol.DeliveryFailed{
		Event:           event,
		Reason:          reason,
		ConversationID:  conversationID,
		ClientMessageID: clientMessageID,
	})
	if encErr != nil {
		sc.logger.Error("encoding deliveryFailed", "error", encErr)
		return
	}
	sc.Deliver(env)
}

// failureReason maps an error to the short reason sent to clients
func failureReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidPayload):
		return "invalid payload"
	case errors.Is(err, errUnknownEvent):
		return "unknown event"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not found"
	case errors.Is(err, conversation.ErrNotMember):
		return "not a member"
	case errors.Is(err, conversation.ErrValidation):
		return err.Error()
	default:
		return "internal error"
	}
}
