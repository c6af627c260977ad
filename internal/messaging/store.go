package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBodyLen caps message bodies when no limit is configured.
const DefaultMaxBodyLen = 4000

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageService is the append-only message store. It validates sender
// participation and conversation status before any write, and relies on the
// repository to allocate (sent_at, id) at commit time so concurrent appends
// never violate monotonic ordering.
type MessageService struct {
	repo       Repository
	maxBodyLen int
}

// NewMessageService creates a message service. maxBodyLen <= 0 falls back
// to DefaultMaxBodyLen.
func NewMessageService(repo Repository, maxBodyLen int) *MessageService {
	if maxBodyLen <= 0 {
		maxBodyLen = DefaultMaxBodyLen
	}
	return &MessageService{repo: repo, maxBodyLen: maxBodyLen}
}

// AppendInput carries the data for a new message. ReceiverID is derived
// from the conversation, never trusted from the caller.
type AppendInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Type           MessageType
	Metadata       []byte
	Attachments    []Attachment
}

// Append validates and persists a message, bumping the conversation's
// updated_at in the same logical transaction. A sender who is not a current
// participant gets ErrForbidden, as does any send into an archived or
// blocked conversation. An unknown conversation also reports ErrForbidden
// so callers cannot probe for thread existence.
func (s *MessageService) Append(ctx context.Context, in AppendInput) (*Message, error) {
	conv, err := s.repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, ErrForbidden
	}
	if conv.Status != StatusActive {
		return nil, fmt.Errorf("conversation is %s: %w", conv.Status, ErrForbidden)
	}

	body := strings.TrimSpace(in.Body)
	if body == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("empty body and no attachments: %w", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(body) > s.maxBodyLen {
		return nil, fmt.Errorf("body exceeds %d characters: %w", s.maxBodyLen, ErrInvalidMessage)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = TypeChat
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("unknown message type %q: %w", in.Type, ErrInvalidMessage)
	}

	receiver, _ := conv.Counterpart(in.SenderID)
	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     receiver,
		Type:           msgType,
		Body:           body,
		Metadata:       in.Metadata,
		Attachments:    in.Attachments,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// List returns one page of a conversation's messages ordered by
// (sent_at, id). The viewer must be a participant; this is the core privacy
// check for the whole subsystem, and an unknown conversation reports
// ErrForbidden just like a foreign one.
func (s *MessageService) List(ctx context.Context, conversationID, viewerID string, opts ListOptions) ([]Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}

	if opts.Limit <= 0 {
		opts.Limit = defaultPageSize
	}
	if opts.Limit > maxPageSize {
		opts.Limit = maxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Order == "" {
		opts.Order = OrderAsc
	}
	if opts.Order != OrderAsc && opts.Order != OrderDesc {
		return nil, fmt.Errorf("unknown sort order %q: %w", opts.Order, ErrInvalidMessage)
	}

	msgs, err := s.repo.ListMessages(ctx, conversationID, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Conversation returns the conversation for a participant. Non-participants
// and unknown ids both get ErrForbidden.
func (s *MessageService) Conversation(ctx context.Context, conversationID, viewerID string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// SetStatus applies an explicit archive/block transition. Only participants
// may change a conversation's status; transitions never happen implicitly.
func (s *MessageService) SetStatus(ctx context.Context, conversationID, userID string, status Status) (*Conversation, error) {
	if status != StatusArchived && status != StatusBlocked && status != StatusActive {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrInvalidMessage)
	}
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	if err := s.repo.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	conv.Status = status
	return conv, nil
}
