// Package memory provides an in-memory messaging repository used by unit
// tests and dev mode. It honors the same invariants as the Postgres
// implementation: normalized-pair uniqueness, (sent_at, id) ordering, and
// receipt upsert semantics.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cfolink/internal/messaging"
)

type pairKey struct {
	a, b string
}

// Repository is a mutex-guarded in-memory implementation of
// messaging.Repository.
type Repository struct {
	mu            sync.RWMutex
	conversations map[string]*messaging.Conversation
	pairIndex     map[pairKey]string
	messages      map[string][]messaging.Message
	receipts      map[int64]map[string]time.Time
	nextMessageID int64
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		conversations: make(map[string]*messaging.Conversation),
		pairIndex:     make(map[pairKey]string),
		messages:      make(map[string][]messaging.Message),
		receipts:      make(map[int64]map[string]time.Time),
	}
}

func (r *Repository) CreateConversation(_ context.Context, c *messaging.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{c.ParticipantA, c.ParticipantB}
	if _, exists := r.pairIndex[key]; exists {
		return messaging.ErrConflict
	}

	stored := *c
	r.conversations[c.ID] = &stored
	r.pairIndex[key] = c.ID
	return nil
}

func (r *Repository) GetConversation(_ context.Context, id string) (*messaging.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (r *Repository) GetConversationByPair(_ context.Context, a, b string) (*messaging.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pairIndex[pairKey{a, b}]
	if !ok {
		return nil, messaging.ErrNotFound
	}
	copied := *r.conversations[id]
	return &copied, nil
}

func (r *Repository) ListConversations(_ context.Context, userID string) ([]messaging.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []messaging.Conversation
	for _, conv := range r.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, *conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (r *Repository) UpdateConversationStatus(_ context.Context, id string, status messaging.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return messaging.ErrNotFound
	}
	// updated_at tracks message activity only, so the directory order is
	// unchanged by archive/block.
	conv.Status = status
	return nil
}

func (r *Repository) InsertMessage(_ context.Context, m *messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[m.ConversationID]
	if !ok {
		return messaging.ErrNotFound
	}

	r.nextMessageID++
	m.ID = r.nextMessageID

	// sent_at never goes backwards within a conversation.
	sentAt := time.Now().UTC()
	if msgs := r.messages[m.ConversationID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].SentAt; sentAt.Before(last) {
			sentAt = last
		}
	}
	m.SentAt = sentAt

	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], *m)
	conv.UpdatedAt = sentAt
	return nil
}

func (r *Repository) ListMessages(_ context.Context, conversationID string, opts messaging.ListOptions) ([]messaging.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[conversationID]
	ordered := make([]messaging.Message, len(msgs))
	copy(ordered, msgs)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].SentAt.Equal(ordered[j].SentAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].SentAt.Before(ordered[j].SentAt)
	})
	if opts.Order == messaging.OrderDesc {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	if opts.Offset >= len(ordered) {
		return []messaging.Message{}, nil
	}
	ordered = ordered[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(ordered) {
		ordered = ordered[:opts.Limit]
	}
	return ordered, nil
}

func (r *Repository) LatestMessages(_ context.Context, conversationIDs []string) (map[string]messaging.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]messaging.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := r.messages[id]
		if len(msgs) == 0 {
			continue
		}
		newest := msgs[0]
		for _, m := range msgs[1:] {
			if m.SentAt.After(newest.SentAt) || (m.SentAt.Equal(newest.SentAt) && m.ID > newest.ID) {
				newest = m
			}
		}
		latest[id] = newest
	}
	return latest, nil
}

func (r *Repository) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for _, m := range r.messages[conversationID] {
		if m.SenderID == readerID {
			continue
		}
		if _, seen := r.receipts[m.ID][readerID]; seen {
			continue
		}
		if r.receipts[m.ID] == nil {
			r.receipts[m.ID] = make(map[string]time.Time)
		}
		r.receipts[m.ID][readerID] = at
		marked++
	}
	return marked, nil
}

func (r *Repository) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for id, conv := range r.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		for _, m := range r.messages[id] {
			if m.SenderID == userID {
				continue
			}
			if _, seen := r.receipts[m.ID][userID]; !seen {
				counts[id]++
			}
		}
	}
	return counts, nil
}
