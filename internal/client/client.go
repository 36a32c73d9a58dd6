// ABOUTME: Go client for the huddle-gateway websocket and HTTP API
// ABOUTME: Registers the user on connect, exposes server events on a channel, and keeps unread counters

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/huddle-gateway/internal/protocol"
	"github.com/2389/huddle-gateway/internal/unread"
)

// ErrClosed is returned by calls made after the connection ended
var ErrClosed = errors.New("client closed")

// Options configures a Client
type Options struct {
	// BaseURL is the gateway's HTTP root, e.g. "http://localhost:8080"
	BaseURL string
	// Token is sent as a bearer token on every request when set
	Token string
	// Username feeds mention detection in the unread tally
	Username string
	// EventBuffer sizes the Events channel; defaults to 64
	EventBuffer int
	// HTTPClient is used for REST calls and the websocket handshake
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is one user's connection to the gateway
type Client struct {
	userID  string
	baseURL *url.URL
	token   string
	http    *http.Client
	conn    *websocket.Conn
	events  chan *protocol.Envelope
	tally   *unread.Tally
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
	errMu     sync.Mutex
	err       error
}

// Dial opens the websocket, registers userID as reachable through it and
// starts reading server events.
func Dial(ctx context.Context, userID string, opts Options) (*Client, error) {
	base, err := parseBase(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, _, err := websocket.Dial(ctx, websocketURL(base), &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		userID:  userID,
		baseURL: base,
		token:   opts.Token,
		http:    opts.HTTPClient,
		conn:    conn,
		events:  make(chan *protocol.Envelope, opts.EventBuffer),
		tally:   unread.NewTally(userID, opts.Username),
		logger:  opts.Logger.With("component", "client", "user_id", userID),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.readLoop()

	if err := c.emit(ctx, protocol.EventSaveSocketID, protocol.SaveSocketID{UserID: userID}); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", raw)
	}
	return base, nil
}

func websocketURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// UserID returns the user this client registered as
func (c *Client) UserID() string { return c.userID }

// Events delivers every server event in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan *protocol.Envelope { return c.events }

// Tally returns the live unread counters. Call Open on it when the user
// views a conversation.
func (c *Client) Tally() *unread.Tally { return c.tally }

// Done is closed when the connection ends; Err then reports why
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, or nil after Close
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// SendMessage appends text to an existing conversation. clientMessageID may
// be empty; when set, resending the same ID is a no-op on the server.
func (c *Client) SendMessage(ctx context.Context, conversationID, text, clientMessageID string) error {
	return c.emit(ctx, protocol.EventSendMessage, protocol.SendMessage{
		SenderID:        c.userID,
		ConversationID:  conversationID,
		Text:            text,
		ClientMessageID: clientMessageID,
	})
}

// CreatePrivateConversation sends text to receiverID, creating the private
// conversation on first contact.
func (c *Client) CreatePrivateConversation(ctx context.Context, receiverID, text, clientMessageID string) error {
	return c.emit(ctx, protocol.EventCreatePrivateConversation, protocol.CreatePrivateConversation{
		SenderID:        c.userID,
		ReceiverID:      receiverID,
		Text:            text,
		ClientMessageID: clientMessageID,
	})
}

// CreateGroupConversation creates a group administered by this user.
// The user is added to participants if missing.
func (c *Client) CreateGroupConversation(ctx context.Context, name, subject string, participants []string) error {
	members := participants
	found := false
	for _, p := range participants {
		if p == c.userID {
			found = true
			break
		}
	}
	if !found {
		members = append([]string{c.userID}, participants...)
	}

	return c.emit(ctx, protocol.EventCreateGroupConversation, protocol.CreateGroupConversation{
		Name:         name,
		Subject:      subject,
		Participants: members,
		Admin:        c.userID,
	})
}

func (c *Client) emit(ctx context.Context, event string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)

	for {
		var env protocol.Envelope
		if err := wsjson.Read(c.ctx, c.conn, &env); err != nil {
			if !c.closing.Load() {
				c.logger.Debug("connection lost", "error", err)
				c.setErr(err)
			}
			return
		}

		if env.Event == protocol.EventReceiveMessage {
			var rm protocol.ReceiveMessage
			if err := json.Unmarshal(env.Data, &rm); err == nil {
				c.tally.Apply(rm.ConversationID, rm.Message.Sender.ID, rm.Message.Message)
			}
		}

		select {
		case c.events <- &env:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Close ends the connection. The gateway records the disconnect time.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
		<-c.done
	})
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
