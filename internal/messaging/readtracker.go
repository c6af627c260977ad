package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReadTracker records which messages a user has seen and derives unread
// counts. Marking is idempotent: a repeat call marks nothing and returns 0.
type ReadTracker struct {
	repo Repository
}

// NewReadTracker creates a read tracker over the repository.
func NewReadTracker(repo Repository) *ReadTracker {
	return &ReadTracker{repo: repo}
}

// MarkRead inserts receipts for every counterpart message the reader has
// not seen yet and returns how many were newly marked. A reader who is not
// a participant gets ErrForbidden and nothing is marked.
func (t *ReadTracker) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	conv, err := t.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrForbidden
		}
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(readerID) {
		return 0, ErrForbidden
	}

	marked, err := t.repo.MarkRead(ctx, conversationID, readerID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return marked, nil
}

// UnreadCount returns the user's total unread messages across every
// conversation they participate in.
func (t *ReadTracker) UnreadCount(ctx context.Context, userID string) (int, error) {
	counts, err := t.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread counts: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// UnreadByConversation returns per-conversation unread counts for the user
// in one batched pass.
func (t *ReadTracker) UnreadByConversation(ctx context.Context, userID string) (map[string]int, error) {
	counts, err := t.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return counts, nil
}

// UnreadCountForConversation returns the unread count for one conversation.
// The viewer must be a participant.
func (t *ReadTracker) UnreadCountForConversation(ctx context.Context, conversationID, userID string) (int, error) {
	conv, err := t.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrForbidden
		}
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return 0, ErrForbidden
	}
	counts, err := t.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread counts: %w", err)
	}
	return counts[conversationID], nil
}
