// Package postgres implements the messaging repository over PostgreSQL.
// Uniqueness of the normalized participant pair and receipt upserts are
// backed by real constraints, not application-level convention.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cfolink/internal/messaging"
)

// Repository is the production implementation of messaging.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const conversationColumns = `id, participant_a, participant_b, participant_a_role, participant_b_role, status, created_at, updated_at`

func (r *Repository) CreateConversation(ctx context.Context, c *messaging.Conversation) error {
	query := `
		INSERT INTO conversations (id, participant_a, participant_b, participant_a_role, participant_b_role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.ParticipantA,
		c.ParticipantB,
		c.ParticipantARole,
		c.ParticipantBRole,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("insert conversation", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		// Another caller created the pair first; the caller re-reads.
		return messaging.ErrConflict
	}
	return nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*messaging.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns)
	return r.scanConversation(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetConversationByPair(ctx context.Context, a, b string) (*messaging.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE participant_a = $1 AND participant_b = $2`, conversationColumns)
	return r.scanConversation(r.db.QueryRowContext(ctx, query, a, b))
}

func (r *Repository) scanConversation(row *sql.Row) (*messaging.Conversation, error) {
	conv := &messaging.Conversation{}
	err := row.Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.ParticipantARole,
		&conv.ParticipantBRole,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, messaging.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("scan conversation", err)
	}
	return conv, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC
	`, conversationColumns)

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapDBError("list conversations", err)
	}
	defer rows.Close()

	var convs []messaging.Conversation
	for rows.Next() {
		var conv messaging.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.ParticipantA,
			&conv.ParticipantB,
			&conv.ParticipantARole,
			&conv.ParticipantBRole,
			&conv.Status,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, wrapDBError("scan conversation row", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate conversations", err)
	}
	return convs, nil
}

func (r *Repository) UpdateConversationStatus(ctx context.Context, id string, status messaging.Status) error {
	// updated_at tracks message activity only; a status change must not
	// move the conversation up the directory.
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return wrapDBError("update conversation status", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

func (r *Repository) InsertMessage(ctx context.Context, m *messaging.Message) error {
	var metadata any
	if len(m.Metadata) > 0 {
		metadata = []byte(m.Metadata)
	}
	var attachments any
	if len(m.Attachments) > 0 {
		encoded, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments = encoded
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	defer tx.Rollback()

	// sent_at and id are allocated here, at commit time, so concurrent
	// appends cannot produce out-of-order messages for any viewer.
	query := `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, type, body, metadata, attachments, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, sent_at
	`
	err = tx.QueryRowContext(ctx, query,
		m.ConversationID,
		m.SenderID,
		m.ReceiverID,
		m.Type,
		m.Body,
		metadata,
		attachments,
	).Scan(&m.ID, &m.SentAt)
	if err != nil {
		return wrapDBError("insert message", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		m.ConversationID, m.SentAt,
	)
	if err != nil {
		return wrapDBError("bump conversation updated_at", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit message", err)
	}
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID string, opts messaging.ListOptions) ([]messaging.Message, error) {
	direction := "ASC"
	if opts.Order == messaging.OrderDesc {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, conversation_id, sender_id, receiver_id, type, body, metadata, attachments, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at %s, id %s
		LIMIT $2 OFFSET $3
	`, direction, direction)

	rows, err := r.db.QueryContext(ctx, query, conversationID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, wrapDBError("list messages", err)
	}
	defer rows.Close()

	var msgs []messaging.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate messages", err)
	}
	return msgs, nil
}

func (r *Repository) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]messaging.Message, error) {
	if len(conversationIDs) == 0 {
		return map[string]messaging.Message{}, nil
	}

	query := `
		SELECT DISTINCT ON (conversation_id)
			id, conversation_id, sender_id, receiver_id, type, body, metadata, attachments, sent_at
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, sent_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(conversationIDs))
	if err != nil {
		return nil, wrapDBError("latest messages", err)
	}
	defer rows.Close()

	latest := make(map[string]messaging.Message, len(conversationIDs))
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		latest[msg.ConversationID] = *msg
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate latest messages", err)
	}
	return latest, nil
}

func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	// ON CONFLICT DO NOTHING makes concurrent marking race-free: the
	// second caller inserts zero rows instead of erroring.
	query := `
		INSERT INTO message_read_receipts (message_id, user_id, read_at)
		SELECT m.id, $2, $3
		FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, conversationID, readerID, at)
	if err != nil {
		return 0, wrapDBError("mark read", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(rows), nil
}

func (r *Repository) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	// One aggregate pass over all of the user's conversations; no
	// per-conversation round trips.
	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_a = $1 OR c.participant_b = $1)
		  AND m.sender_id <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM message_read_receipts r
			WHERE r.message_id = m.id AND r.user_id = $1
		  )
		GROUP BY m.conversation_id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapDBError("unread counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var conversationID string
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, wrapDBError("scan unread count", err)
		}
		counts[conversationID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate unread counts", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*messaging.Message, error) {
	msg := &messaging.Message{}
	var metadata, attachments []byte
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Type,
		&msg.Body,
		&metadata,
		&attachments,
		&msg.SentAt,
	)
	if err != nil {
		return nil, wrapDBError("scan message", err)
	}
	if len(metadata) > 0 {
		msg.Metadata = json.RawMessage(metadata)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	return msg, nil
}

func wrapDBError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %v: %w", op, err, messaging.ErrUnavailable)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
