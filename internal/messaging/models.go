package messaging

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the marketplace a participant is on.
type Role string

const (
	RoleCompany Role = "company"
	RoleCFO     Role = "cfo"
)

// Valid reports whether the role is one the marketplace knows about.
func (r Role) Valid() bool {
	return r == RoleCompany || r == RoleCFO
}

// Status is the lifecycle state of a conversation. Transitions to archived
// or blocked happen only by explicit action, never as a side effect.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusBlocked  Status = "blocked"
)

// MessageType distinguishes plain chat from structured scout messages and
// system-generated notices.
type MessageType string

const (
	TypeChat   MessageType = "chat"
	TypeScout  MessageType = "scout"
	TypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	return t == TypeChat || t == TypeScout || t == TypeSystem
}

// Conversation represents the single thread between one company and one CFO.
// Participants are stored normalized (ParticipantA < ParticipantB) so the
// pair uniqueness constraint holds regardless of who initiated.
type Conversation struct {
	ID               string    `json:"id" db:"id"`
	ParticipantA     string    `json:"participant_a" db:"participant_a"`
	ParticipantB     string    `json:"participant_b" db:"participant_b"`
	ParticipantARole Role      `json:"participant_a_role" db:"participant_a_role"`
	ParticipantBRole Role      `json:"participant_b_role" db:"participant_b_role"`
	Status           Status    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Counterpart returns the other participant's id and role.
func (c *Conversation) Counterpart(userID string) (string, Role) {
	if c.ParticipantA == userID {
		return c.ParticipantB, c.ParticipantBRole
	}
	return c.ParticipantA, c.ParticipantARole
}

// Attachment is a reference to a file held by the external object store.
// The messaging core never stores raw bytes.
type Attachment struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is one immutable unit of communication. IDs are allocated by the
// store at commit time so (SentAt, ID) gives a total display order.
type Message struct {
	ID             int64           `json:"id" db:"id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	SenderID       string          `json:"sender_id" db:"sender_id"`
	ReceiverID     string          `json:"receiver_id" db:"receiver_id"`
	Type           MessageType     `json:"type" db:"type"`
	Body           string          `json:"body" db:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Attachments    []Attachment    `json:"attachments,omitempty" db:"attachments"`
	SentAt         time.Time       `json:"sent_at" db:"sent_at"`
}

// ReadReceipt records that a user has seen a message. At most one receipt
// exists per (message, user); marking twice is a no-op.
type ReadReceipt struct {
	MessageID int64     `json:"message_id" db:"message_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ReadAt    time.Time `json:"read_at" db:"read_at"`
}

// ConversationSummary is the read-model row backing a user's conversation
// list. Counterpart identity comes from the profile service with an explicit
// role, so consumers never have to guess from display names.
type ConversationSummary struct {
	ConversationID    string    `json:"conversation_id"`
	Status            Status    `json:"status"`
	CounterpartID     string    `json:"counterpart_id"`
	CounterpartRole   Role      `json:"counterpart_role"`
	CounterpartName   string    `json:"counterpart_name"`
	CounterpartAvatar string    `json:"counterpart_avatar,omitempty"`
	LastMessage       string    `json:"last_message"`
	LastMessageAt     time.Time `json:"last_message_at"`
	UnreadCount       int       `json:"unread_count"`
}

// SortOrder selects message list direction. The thread view reads oldest
// first, the dashboard newest first; both go through the same query.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListOptions bounds a message page.
type ListOptions struct {
	Limit  int
	Offset int
	Order  SortOrder
}

// NormalizePair orders two participant ids so (A,B) and (B,A) key the same
// conversation.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
