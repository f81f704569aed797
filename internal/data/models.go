package data

import "time"

// MessageStatus is the delivery lifecycle of a message. It only moves forward:
// sent -> delivered -> read. A message may skip delivered and go straight to
// read when the receiver reads it from history.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Message maps to the messages collection. ID is the client supplied message
// id so retries of the same send collide on the primary key.
type Message struct {
	ID             string        `bson:"_id"`
	ConversationID string        `bson:"conversation_id"`
	SenderID       string        `bson:"sender_id"`
	ReceiverID     string        `bson:"receiver_id"`
	Content        string        `bson:"content"`
	Status         MessageStatus `bson:"status"`
	DeliveredAt    *time.Time    `bson:"delivered_at"`
	ReadAt         *time.Time    `bson:"read_at"`
	CreatedAt      time.Time     `bson:"created_at"`
}

// LastMessage is the conversation list snapshot of the latest message.
type LastMessage struct {
	MessageID string    `bson:"message_id"`
	Content   string    `bson:"content"`
	SenderID  string    `bson:"sender_id"`
	Timestamp time.Time `bson:"timestamp"`
}

// Conversation maps to the conversations collection (two participants).
type Conversation struct {
	ID           string         `bson:"_id"`
	Participants []string       `bson:"participants"`
	LastMessage  *LastMessage   `bson:"last_message,omitempty"`
	UnreadCounts map[string]int `bson:"unread_counts"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) (string, bool) {
	if !c.HasParticipant(userID) {
		return "", false
	}
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	return "", false
}

// User maps to users collection. Only presence fields are written here; the
// profile is owned by the account service.
type User struct {
	ID       string     `bson:"_id"`
	Name     string     `bson:"name"`
	IsOnline bool       `bson:"is_online"`
	LastSeen *time.Time `bson:"last_seen,omitempty"`
}

// EntityType identifies a scored collection.
type EntityType string

const (
	EntityBusiness EntityType = "business"
	EntityLocation EntityType = "location"
)

// Entity is a Business or Location as seen by the scoring engine.
// HeatmapScore is a cache derived from the other fields.
type Entity struct {
	ID              string     `bson:"_id"`
	Name            string     `bson:"name"`
	LocationID      string     `bson:"location_id,omitempty"` // businesses only
	ActivityCount   float64    `bson:"activity_count"`
	AvgRating       float64    `bson:"avg_rating"`
	LastInteraction *time.Time `bson:"last_interaction,omitempty"`
	HeatmapScore    int        `bson:"heatmap_score"`
}

// InteractionUpdate is the write produced by recording one interaction.
// AvgRating is nil when the stored average is to be left alone.
type InteractionUpdate struct {
	Increment    float64
	AvgRating    *float64
	At           time.Time
	HeatmapScore int
}

// Review maps to reviews collection. Reviews are written by the review API;
// the scoring engine only aggregates them.
type Review struct {
	ID         string     `bson:"_id"`
	EntityType EntityType `bson:"entity_type"`
	EntityID   string     `bson:"entity_id"`
	UserID     string     `bson:"user_id"`
	Rating     float64    `bson:"rating"`
	CreatedAt  time.Time  `bson:"created_at"`
}
