package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const previewRunes = 80

// Directory builds the per-user conversation list: counterpart identity,
// last-message preview, and unread badge. It is a read-model computed per
// request from the repository, with no cache to go stale.
type Directory struct {
	repo  Repository
	users UserDirectory
}

// NewDirectory creates a conversation directory.
func NewDirectory(repo Repository, users UserDirectory) *Directory {
	return &Directory{repo: repo, users: users}
}

// ListConversations returns the user's conversations ordered by most recent
// activity. A missing counterpart profile degrades to a placeholder rather
// than failing the list.
func (d *Directory) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := d.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		return []ConversationSummary{}, nil
	}

	ids := lo.Map(convs, func(c Conversation, _ int) string { return c.ID })
	latest, err := d.repo.LatestMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	unread, err := d.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, d.buildSummary(ctx, &conv, userID, latest[conv.ID], unread[conv.ID]))
	}
	return summaries, nil
}

// Summary builds the summary of one conversation for one participant. Used
// by the send path to publish conversation.updated events.
func (d *Directory) Summary(ctx context.Context, conversationID, userID string) (*ConversationSummary, error) {
	conv, err := d.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}

	latest, err := d.repo.LatestMessages(ctx, []string{conv.ID})
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	unread, err := d.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}

	summary := d.buildSummary(ctx, conv, userID, latest[conv.ID], unread[conv.ID])
	return &summary, nil
}

func (d *Directory) buildSummary(ctx context.Context, conv *Conversation, userID string, last Message, unread int) ConversationSummary {
	counterpartID, counterpartRole := conv.Counterpart(userID)

	info, err := d.users.Lookup(ctx, counterpartID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", counterpartID).
			Msg("counterpart profile unavailable, using placeholder")
		info = Placeholder(counterpartID, counterpartRole)
	}

	summary := ConversationSummary{
		ConversationID:    conv.ID,
		Status:            conv.Status,
		CounterpartID:     counterpartID,
		CounterpartRole:   counterpartRole,
		CounterpartName:   info.DisplayName,
		CounterpartAvatar: info.AvatarURL,
		LastMessageAt:     conv.UpdatedAt,
		UnreadCount:       unread,
	}
	if last.ID != 0 {
		summary.LastMessage = truncatePreview(last.Body)
		summary.LastMessageAt = last.SentAt
		if last.Body == "" && len(last.Attachments) > 0 {
			summary.LastMessage = last.Attachments[0].Name
		}
	}
	return summary
}

func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewRunes {
		return body
	}
	return string(runes[:previewRunes]) + "…"
}
