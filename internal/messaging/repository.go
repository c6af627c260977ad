package messaging

import (
	"context"
	"time"
)

// Repository is the persistence boundary for conversations, messages, and
// read receipts. Two implementations exist: messaging/postgres for
// production and messaging/memory for unit tests and dev mode. Both honor
// the same invariants: normalized-pair uniqueness, (sent_at, id) ordering,
// and receipt upsert semantics.
type Repository interface {
	// CreateConversation inserts the conversation. The pair must already be
	// normalized. If a conversation for the pair exists, ErrConflict is
	// returned and the caller re-reads; exactly one row survives a race.
	CreateConversation(ctx context.Context, c *Conversation) error

	// GetConversation returns the conversation by id, or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// GetConversationByPair returns the conversation for a normalized pair,
	// or ErrNotFound.
	GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error)

	// ListConversations returns every conversation the user participates
	// in, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// UpdateConversationStatus applies an explicit lifecycle transition.
	UpdateConversationStatus(ctx context.Context, id string, status Status) error

	// InsertMessage persists the message, assigns its id and sent_at at
	// commit time, and bumps the owning conversation's updated_at in the
	// same logical transaction. The stored values are written back into m.
	InsertMessage(ctx context.Context, m *Message) error

	// ListMessages returns a page of messages ordered by (sent_at, id) in
	// the requested direction.
	ListMessages(ctx context.Context, conversationID string, opts ListOptions) ([]Message, error)

	// LatestMessages returns the newest message for each given conversation
	// in one pass. Conversations with no messages are absent from the map.
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error)

	// MarkRead inserts receipts for every message in the conversation that
	// was authored by someone other than readerID and has no receipt for
	// readerID yet. Upsert semantics: concurrent calls never produce
	// duplicates or errors. Returns the number newly marked.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)

	// UnreadCounts returns, for every conversation the user participates
	// in, the number of counterpart messages without a receipt for the
	// user. One batched query, no per-conversation round trips.
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
}
