package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidEvent = errors.New("invalid event payload")
)

// Kind names an inbound event on the wire.
type Kind string

const (
	KindTyping         Kind = "typing"
	KindStopTyping     Kind = "stopTyping"
	KindSendMessage    Kind = "sendMessage"
	KindMessageRead    Kind = "messageRead"
	KindGetUndelivered Kind = "getUndeliveredMessages"
	KindLogout         Kind = "logout"
)

// Inbound is one decoded client event. The set of implementations is closed:
// Typing, SendMessage, MessageRead, GetUndelivered and Logout.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Typing is a transient typing indicator. Stopped distinguishes stopTyping.
type Typing struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	Stopped        bool   `json:"-"`
}

// SendMessage asks to persist and deliver a message. The sender is always the
// authenticated user of the connection.
type SendMessage struct {
	ReceiverID     string    `json:"receiverId"`
	MessageID      string    `json:"messageId"`
	Content        string    `json:"content"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageRead acknowledges that the connected user read a message.
type MessageRead struct {
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

// GetUndelivered replays messages that arrived while the user was offline.
type GetUndelivered struct {
	ConversationID string `json:"conversationId"`
}

// Logout ends the session.
type Logout struct{}

func (t Typing) Kind() Kind {
	if t.Stopped {
		return KindStopTyping
	}
	return KindTyping
}
func (SendMessage) Kind() Kind    { return KindSendMessage }
func (MessageRead) Kind() Kind    { return KindMessageRead }
func (GetUndelivered) Kind() Kind { return KindGetUndelivered }
func (Logout) Kind() Kind         { return KindLogout }

func (Typing) inbound()         {}
func (SendMessage) inbound()    {}
func (MessageRead) inbound()    {}
func (GetUndelivered) inbound() {}
func (Logout) inbound()         {}

type envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode parses a {"event": ..., "data": ...} frame into its Inbound event.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var ev Inbound
	var err error
	switch env.Event {
	case KindTyping, KindStopTyping:
		var t Typing
		err = decodeData(env.Data, &t)
		t.Stopped = env.Event == KindStopTyping
		ev = t
	case KindSendMessage:
		var m SendMessage
		err = decodeData(env.Data, &m)
		ev = m
	case KindMessageRead:
		var m MessageRead
		err = decodeData(env.Data, &m)
		ev = m
	case KindGetUndelivered:
		var g GetUndelivered
		err = decodeData(env.Data, &g)
		ev = g
	case KindLogout:
		ev = Logout{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Event, err)
	}
	return ev, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

// Outbound event names.
const (
	EventMessage          = "message"
	EventMessageDelivered = "messageDelivered"
	EventMessageQueued    = "messageQueued"
	EventMessageRead      = "messageRead"
	EventMessageError     = "messageError"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventUserStatus       = "userStatus"
	EventError            = "error"
)

// Outbound is an event pushed to a connection.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type MessagePayload struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

type DeliveredPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

type QueuedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ReadPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// StatusPayload is a presence change of UserID.
type StatusPayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// ErrorPayload reports a failed event back to its sender. MessageID is set
// for messageError.
type ErrorPayload struct {
	MessageID string `json:"messageId,omitempty"`
	Event     string `json:"event,omitempty"`
	Error     string `json:"error"`
}
