// ABOUTME: Wire format for the real-time channel: event envelope, names and payloads
// ABOUTME: Payloads carry go-playground/validator tags checked on decode

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Client to server events
const (
	EventSaveSocketID              = "saveSocketID"
	EventSendMessage               = "sendMessage"
	EventCreatePrivateConversation = "createPrivateConversation"
	EventCreateGroupConversation   = "createGroupConversation"
)

// Server to client events
const (
	EventReceiveMessage = "receiveMessage"
	EventGroupCreated   = "groupCreated"
	EventDeliveryFailed = "deliveryFailed"
)

// ErrInvalidPayload wraps decode and validation failures
var ErrInvalidPayload = errors.New("invalid payload")

var validate = validator.New()

// Envelope is a single frame on the real-time channel
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the named event
func NewEnvelope(event string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types that always marshal
func MustEnvelope(event string, data any) *Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// MessageTime returns the timestamp of the message carried by a
// receiveMessage envelope. Other events report false.
func (e *Envelope) MessageTime() (time.Time, bool) {
	if e.Event != EventReceiveMessage {
		return time.Time{}, false
	}
	var rm ReceiveMessage
	if err := json.Unmarshal(e.Data, &rm); err != nil || rm.Message.Timestamp.IsZero() {
		return time.Time{}, false
	}
	return rm.Message.Timestamp, true
}

// Decode unmarshals the envelope data into v and validates its struct tags
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// SaveSocketID binds the sending connection to a user
type SaveSocketID struct {
	UserID string `json:"userId" validate:"required"`
}

// SendMessage appends text to an existing conversation
type SendMessage struct {
	SenderID        string `json:"senderId" validate:"required"`
	ConversationID  string `json:"conversationId" validate:"required"`
	Text            string `json:"text" validate:"required"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// CreatePrivateConversation finds or creates the sender/receiver pair and sends text
type CreatePrivateConversation struct {
	SenderID        string `json:"senderId" validate:"required"`
	ReceiverID      string `json:"receiverId" validate:"required,nefield=SenderID"`
	Text            string `json:"text" validate:"required"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// CreateGroupConversation creates a named group with a subject
type CreateGroupConversation struct {
	Name         string   `json:"name" validate:"required"`
	Subject      string   `json:"subject" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
	Admin        string   `json:"admin" validate:"required"`
}

// Sender is the populated sender of a message
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Message is a persisted message as clients see it
type Message struct {
	ID        string    `json:"_id"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// ReceiveMessage is fanned out to every reachable participant after an append
type ReceiveMessage struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

// Participant is a populated conversation member
type Participant struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Conversation is a full conversation record. Messages is populated by the
// conversations listing and empty in groupCreated.
type Conversation struct {
	ID           string        `json:"_id"`
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	LastUpdated  time.Time     `json:"lastUpdated"`
	Admin        string        `json:"admin,omitempty"`
	Name         string        `json:"name,omitempty"`
	Subject      string        `json:"subject,omitempty"`
}

// DeliveryFailed tells the originating connection that its event was not applied
type DeliveryFailed struct {
	Event           string `json:"event"`
	Reason          string `json:"reason"`
	ConversationID  string `json:"conversationId,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// UnreadCount is the unread state of one conversation
type UnreadCount struct {
	Count     int  `json:"count"`
	Mentioned bool `json:"mentioned"`
}

// UnreadMessages is the body of GET /chat/unread-messages
type UnreadMessages struct {
	Messages      []ReceiveMessage       `json:"messages"`
	Conversations map[string]UnreadCount `json:"conversations"`
}
