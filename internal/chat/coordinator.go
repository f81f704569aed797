// Package chat brokers real-time messaging between connected users: presence,
// message send with delivery and read receipts, and replay of messages that
// arrived while the receiver was offline.
//
// A message is persisted with status sent before any push is attempted, so a
// missing or stale registry entry only delays delivery. The receiver recovers
// queued messages with getUndeliveredMessages after reconnecting.
//
// Without transactions the message insert and the conversation update of a
// send are two writes; a crash between them leaves the unread counter one
// short.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/metrics"
	"github.com/PaulBabatuyi/wayfare/internal/normalize"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of the conversation")
	ErrLoggedOut            = errors.New("logged out")
)

// MessageStore persists messages and their status transitions.
type MessageStore interface {
	Insert(ctx context.Context, msg *data.Message) error
	Get(ctx context.Context, id string) (*data.Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	Undelivered(ctx context.Context, conversationID, receiverID string) ([]*data.Message, error)
}

// ConversationStore persists conversation snapshots and unread counters.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*data.Conversation, error)
	ForParticipant(ctx context.Context, userID string) ([]*data.Conversation, error)
	RecordMessage(ctx context.Context, id string, last data.LastMessage, receiverID string) error
	ResetUnread(ctx context.Context, id, userID string) error
}

// PresenceStore records online state on the user document.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
}

// Transactor runs fn atomically when the backing store supports it.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Session is an authenticated connection.
type Session struct {
	UserID string
	Conn   Sender
}

// Coordinator handles connection lifecycle and inbound events.
type Coordinator struct {
	registry      *Registry
	messages      MessageStore
	conversations ConversationStore
	presence      PresenceStore
	tx            Transactor
	metrics       *metrics.Metrics
	log           zerolog.Logger
	now           func() time.Time
	newID         func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithPresenceStore(p PresenceStore) Option { return func(c *Coordinator) { c.presence = p } }
func WithTransactor(tx Transactor) Option { return func(c *Coordinator) { c.tx = tx } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }
func WithIDGenerator(f func() string) Option { return func(c *Coordinator) { c.newID = f } }

// NewCoordinator returns a Coordinator pushing through registry.
func NewCoordinator(registry *Registry, messages MessageStore, conversations ConversationStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:      registry,
		messages:      messages,
		conversations: conversations,
		log:           zerolog.Nop(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the connection registry the coordinator pushes through.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Connect registers the session, closing any connection it replaces, and
// announces the user online to connected counterparts.
func (c *Coordinator) Connect(ctx context.Context, s Session) {
	prev := c.registry.Register(s.UserID, s.Conn)
	if prev != nil && prev != s.Conn {
		c.log.Debug().Str("user_id", s.UserID).Msg("replacing previous connection")
		_ = prev.Close()
	}
	c.metrics.SetConnected(c.registry.Len())

	c.setPresence(ctx, s.UserID, true, nil)
	c.broadcastPresence(ctx, s.UserID, true, nil)
}

// Disconnect unregisters the session. A connection that was already replaced
// by a newer one is ignored.
func (c *Coordinator) Disconnect(ctx context.Context, s Session) {
	if !c.registry.Unregister(s.UserID, s.Conn) {
		return
	}
	c.metrics.SetConnected(c.registry.Len())

	lastSeen := c.now()
	c.setPresence(ctx, s.UserID, false, &lastSeen)
	c.broadcastPresence(ctx, s.UserID, false, &lastSeen)
}

// Handle processes one inbound event to completion. Failures are also reported
// to the session as messageError or error events. Logout returns ErrLoggedOut
// so the transport can close the connection.
func (c *Coordinator) Handle(ctx context.Context, s Session, ev Inbound) error {
	var err error
	switch ev := ev.(type) {
	case Typing:
		c.typing(s, ev)
	case SendMessage:
		err = c.sendMessage(ctx, s, ev)
	case MessageRead:
		err = c.messageRead(ctx, s, ev)
		if err != nil {
			c.reportError(s, EventMessageRead, ev.MessageID, err)
		}
	case GetUndelivered:
		err = c.getUndelivered(ctx, s, ev)
		if err != nil {
			c.reportError(s, string(KindGetUndelivered), "", err)
		}
	case Logout:
		c.Disconnect(ctx, s)
		return ErrLoggedOut
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
		c.reportError(s, "", "", err)
	}
	return err
}

func (c *Coordinator) typing(s Session, ev Typing) {
	receiver := normalize.ID(ev.ReceiverID)
	if receiver == "" || receiver == s.UserID {
		return
	}
	name := EventTyping
	if ev.Stopped {
		name = EventStopTyping
	}
	// Offline receivers simply miss it.
	_ = c.registry.SendToUser(receiver, Outbound{
		Event: name,
		Data:  TypingPayload{ConversationID: normalize.ID(ev.ConversationID), SenderID: s.UserID},
	})
}

func (c *Coordinator) sendMessage(ctx context.Context, s Session, ev SendMessage) error {
	msgID := normalize.ID(ev.MessageID)
	if msgID == "" {
		msgID = c.newID()
	}

	msg, err := c.newMessage(ctx, s.UserID, msgID, ev)
	if err != nil {
		c.failSend(s, msgID, err)
		return err
	}

	msg, retried, err := c.persist(ctx, msg)
	if err != nil {
		c.failSend(s, msgID, err)
		return err
	}
	if msg.Status != data.StatusSent {
		c.acknowledge(msg)
		return nil
	}
	if !retried {
		c.metrics.MessageStatus(string(data.StatusSent))
	}

	pushErr := c.registry.SendToUser(msg.ReceiverID, Outbound{Event: EventMessage, Data: messagePayload(msg)})
	if pushErr != nil {
		if !errors.Is(pushErr, ErrOffline) {
			c.log.Debug().Err(pushErr).Str("user_id", msg.ReceiverID).Msg("push to receiver failed")
		}
		c.notify(s.UserID, Outbound{
			Event: EventMessageQueued,
			Data:  QueuedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID},
		})
		return nil
	}

	deliveredAt := c.now()
	if _, err := c.deliver(ctx, msg, deliveredAt); err != nil {
		c.failSend(s, msgID, err)
		return err
	}
	return nil
}

// persist inserts msg and records it on its conversation. A resend of a stored
// message id from the same sender in the same conversation is a retry: the
// stored message is returned with retried set, and recorded again while it is
// still sent. The conversation ignores a second record of its latest message.
//
// The duplicate is resolved outside the insert transaction because a write
// error aborts the transaction it happens in.
func (c *Coordinator) persist(ctx context.Context, msg *data.Message) (*data.Message, bool, error) {
	err := c.inTx(ctx, func(ctx context.Context) error {
		if err := c.messages.Insert(ctx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return c.record(ctx, msg)
	})
	if err == nil {
		return msg, false, nil
	}
	if !errors.Is(err, data.ErrAlreadyExists) {
		return nil, false, err
	}

	stored, getErr := c.messages.Get(ctx, msg.ID)
	if getErr != nil {
		return nil, false, fmt.Errorf("load message: %w", getErr)
	}
	if stored.SenderID != msg.SenderID || stored.ConversationID != msg.ConversationID || stored.ReceiverID != msg.ReceiverID {
		return nil, false, err
	}
	if stored.Status == data.StatusSent {
		if err := c.inTx(ctx, func(ctx context.Context) error { return c.record(ctx, stored) }); err != nil {
			return nil, false, err
		}
	}
	c.log.Debug().Str("message_id", stored.ID).Str("status", string(stored.Status)).Msg("send retried")
	return stored, true, nil
}

func (c *Coordinator) record(ctx context.Context, msg *data.Message) error {
	last := data.LastMessage{MessageID: msg.ID, Content: msg.Content, SenderID: msg.SenderID, Timestamp: msg.CreatedAt}
	if err := c.conversations.RecordMessage(ctx, msg.ConversationID, last, msg.ReceiverID); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// acknowledge repeats the outcome of a send that had already been delivered
// or read to the sender retrying it.
func (c *Coordinator) acknowledge(msg *data.Message) {
	switch {
	case msg.Status == data.StatusRead && msg.ReadAt != nil:
		c.notify(msg.SenderID, Outbound{
			Event: EventMessageRead,
			Data: ReadPayload{
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
				ReaderID:       msg.ReceiverID,
				ReadAt:         *msg.ReadAt,
			},
		})
	case msg.DeliveredAt != nil:
		c.notify(msg.SenderID, Outbound{
			Event: EventMessageDelivered,
			Data:  DeliveredPayload{MessageID: msg.ID, ConversationID: msg.ConversationID, DeliveredAt: *msg.DeliveredAt},
		})
	}
}

// newMessage validates a send against the conversation before anything is
// written.
func (c *Coordinator) newMessage(ctx context.Context, senderID, msgID string, ev SendMessage) (*data.Message, error) {
	receiver := normalize.ID(ev.ReceiverID)
	convID := normalize.ID(ev.ConversationID)
	content := normalize.Content(ev.Content)
	switch {
	case receiver == "" || convID == "":
		return nil, fmt.Errorf("%w: receiverId and conversationId are required", ErrInvalidEvent)
	case receiver == senderID:
		return nil, fmt.Errorf("%w: cannot message yourself", ErrInvalidEvent)
	case content == "":
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidEvent)
	}

	conv, err := c.conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) || !conv.HasParticipant(receiver) {
		return nil, ErrNotParticipant
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.now()
	}
	return &data.Message{
		ID:             msgID,
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiver,
		Content:        content,
		Status:         data.StatusSent,
		CreatedAt:      createdAt.UTC(),
	}, nil
}

func (c *Coordinator) messageRead(ctx context.Context, s Session, ev MessageRead) error {
	msgID := normalize.ID(ev.MessageID)
	if msgID == "" {
		return fmt.Errorf("%w: messageId is required", ErrInvalidEvent)
	}

	msg, err := c.messages.Get(ctx, msgID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
		}
		return fmt.Errorf("load message: %w", err)
	}
	if msg.ReceiverID != s.UserID {
		return ErrNotParticipant
	}
	if convID := normalize.ID(ev.ConversationID); convID != "" && convID != msg.ConversationID {
		return fmt.Errorf("%w: message %s is not in conversation %s", ErrInvalidEvent, msgID, convID)
	}

	readAt := ev.ReadAt
	if readAt.IsZero() {
		readAt = c.now()
	}
	readAt = readAt.UTC()

	var changed bool
	err = c.inTx(ctx, func(ctx context.Context) error {
		var err error
		if changed, err = c.messages.MarkRead(ctx, msg.ID, readAt); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		if err := c.conversations.ResetUnread(ctx, msg.ConversationID, s.UserID); err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	c.metrics.MessageStatus(string(data.StatusRead))
	c.notify(msg.SenderID, Outbound{
		Event: EventMessageRead,
		Data: ReadPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReaderID:       s.UserID,
			ReadAt:         readAt,
		},
	})
	return nil
}

// getUndelivered pushes every sent message addressed to the session user,
// oldest first, and marks each delivered after its push. Running it again
// after an interruption only repeats pushes of messages not yet marked.
func (c *Coordinator) getUndelivered(ctx context.Context, s Session, ev GetUndelivered) error {
	convID := normalize.ID(ev.ConversationID)
	if convID == "" {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidEvent)
	}
	conv, err := c.conversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(s.UserID) {
		return ErrNotParticipant
	}

	pending, err := c.messages.Undelivered(ctx, convID, s.UserID)
	if err != nil {
		return fmt.Errorf("load undelivered: %w", err)
	}

	for _, msg := range pending {
		if err := s.Conn.Send(Outbound{Event: EventMessage, Data: messagePayload(msg)}); err != nil {
			return fmt.Errorf("push message %s: %w", msg.ID, err)
		}
		if _, err := c.deliver(ctx, msg, c.now()); err != nil {
			return err
		}
	}
	return nil
}

// deliver marks msg delivered and tells its sender. It reports false when msg
// had already moved past sent.
func (c *Coordinator) deliver(ctx context.Context, msg *data.Message, at time.Time) (bool, error) {
	at = at.UTC()
	ok, err := c.messages.MarkDelivered(ctx, msg.ID, at)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	if !ok {
		return false, nil
	}

	c.metrics.MessageStatus(string(data.StatusDelivered))
	c.notify(msg.SenderID, Outbound{
		Event: EventMessageDelivered,
		Data:  DeliveredPayload{MessageID: msg.ID, ConversationID: msg.ConversationID, DeliveredAt: at},
	})
	return true, nil
}

func (c *Coordinator) conversation(ctx context.Context, id string) (*data.Conversation, error) {
	conv, err := c.conversations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

// broadcastPresence tells each connected counterpart of userID about a
// presence change, once per counterpart.
func (c *Coordinator) broadcastPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	convs, err := c.conversations.ForParticipant(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("presence: list conversations failed")
		return
	}

	ev := Outbound{Event: EventUserStatus, Data: StatusPayload{UserID: userID, IsOnline: online, LastSeen: lastSeen}}
	seen := make(map[string]bool, len(convs))
	for _, conv := range convs {
		other, ok := conv.Other(userID)
		if !ok || seen[other] {
			continue
		}
		seen[other] = true
		_ = c.registry.SendToUser(other, ev)
	}
}

func (c *Coordinator) setPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	if c.presence == nil {
		return
	}
	if err := c.presence.SetPresence(ctx, userID, online, lastSeen); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Bool("online", online).Msg("persist presence failed")
	}
}

// notify pushes ev to userID if connected.
func (c *Coordinator) notify(userID string, ev Outbound) {
	if err := c.registry.SendToUser(userID, ev); err != nil && !errors.Is(err, ErrOffline) {
		c.log.Debug().Err(err).Str("user_id", userID).Str("event", ev.Event).Msg("notify failed")
	}
}

func (c *Coordinator) failSend(s Session, msgID string, err error) {
	c.metrics.MessageFailed()
	c.log.Warn().Err(err).Str("user_id", s.UserID).Str("message_id", msgID).Msg("send message failed")
	c.notify(s.UserID, Outbound{
		Event: EventMessageError,
		Data:  ErrorPayload{MessageID: msgID, Error: publicReason(err)},
	})
}

func (c *Coordinator) reportError(s Session, event, msgID string, err error) {
	c.log.Debug().Err(err).Str("user_id", s.UserID).Str("event", event).Msg("event failed")
	_ = s.Conn.Send(Outbound{
		Event: EventError,
		Data:  ErrorPayload{MessageID: msgID, Event: event, Error: publicReason(err)},
	})
}

func (c *Coordinator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.tx == nil {
		return fn(ctx)
	}
	return c.tx.WithTransaction(ctx, fn)
}

// publicReason hides store errors from clients.
func publicReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrNotParticipant):
		return err.Error()
	case errors.Is(err, data.ErrAlreadyExists):
		return "duplicate message id"
	default:
		return "internal error"
	}
}

func messagePayload(m *data.Message) MessagePayload {
	return MessagePayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
	}
}
