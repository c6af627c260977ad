package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cfolink/internal/api/auth"
	"github.com/cfolink/internal/attachments"
	"github.com/cfolink/internal/messaging"
	"github.com/cfolink/internal/notify"
)

// requestTimeout bounds every store-touching operation so a slow database
// cannot hang a request. A timeout means "unknown outcome, safe to retry":
// append and mark-read tolerate at-least-once delivery.
const requestTimeout = 10 * time.Second

// NotifyQueue queues offline notifications for receivers with no live
// subscription. Satisfied by the River job queue; nil disables it.
type NotifyQueue interface {
	QueueMessageNotify(ctx context.Context, userID, conversationID string, messageID int64) error
}

// Handlers contains the messaging endpoint handler methods.
type Handlers struct {
	resolver  *messaging.Resolver
	messages  *messaging.MessageService
	reads     *messaging.ReadTracker
	directory *messaging.Directory
	hub       *notify.Hub
	jobs      NotifyQueue
	files     attachments.Store
}

// NewHandlers creates the messaging handlers. jobs and files may be nil in
// dev mode.
func NewHandlers(
	resolver *messaging.Resolver,
	messages *messaging.MessageService,
	reads *messaging.ReadTracker,
	directory *messaging.Directory,
	hub *notify.Hub,
	jobs NotifyQueue,
	files attachments.Store,
) *Handlers {
	return &Handlers{
		resolver:  resolver,
		messages:  messages,
		reads:     reads,
		directory: directory,
		hub:       hub,
		jobs:      jobs,
		files:     files,
	}
}

type attachmentRef struct {
	ID   string `json:"id"`
	URL  string `json:"url" validate:"required"`
	Name string `json:"name"`
	Size int64  `json:"size" validate:"gte=0"`
}

func toAttachments(refs []attachmentRef) []messaging.Attachment {
	if len(refs) == 0 {
		return nil
	}
	out := make([]messaging.Attachment, len(refs))
	for i, ref := range refs {
		out[i] = messaging.Attachment{ID: ref.ID, URL: ref.URL, Name: ref.Name, Size: ref.Size}
	}
	return out
}

// SendMessageRequest is the payload for POST /messages. Exactly one of
// conversation_id or receiver_id selects the thread; receiver_id resolves
// or creates it first.
type SendMessageRequest struct {
	ConversationID string          `json:"conversation_id"`
	ReceiverID     string          `json:"receiver_id"`
	Body           string          `json:"body"`
	Type           string          `json:"type" validate:"omitempty,oneof=chat scout system"`
	Metadata       json.RawMessage `json:"metadata"`
	Attachments    []attachmentRef `json:"attachments" validate:"omitempty,dive"`
}

// StartConversationRequest is the payload for POST /conversations/start.
type StartConversationRequest struct {
	TargetUserID string          `json:"target_user_id" validate:"required"`
	Body         string          `json:"body"`
	Type         string          `json:"type" validate:"omitempty,oneof=chat scout system"`
	Metadata     json.RawMessage `json:"metadata"`
	Attachments  []attachmentRef `json:"attachments" validate:"omitempty,dive"`
}

// ListConversations handles GET /conversations: the caller's directory,
// newest activity first.
func (h *Handlers) ListConversations(c echo.Context) error {
	identity := auth.MustGetIdentity(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	summaries, err := h.directory.ListConversations(ctx, identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// StartConversation handles POST /conversations/start: resolves or creates
// the conversation with the target user and sends the initial message.
func (h *Handlers) StartConversation(c echo.Context) error {
	identity := auth.MustGetIdentity(c)

	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.resolver.ResolveOrCreate(ctx, identity.UserID, req.TargetUserID)
	if err != nil {
		if errors.Is(err, messaging.ErrRoleMismatch) {
			return echo.NewHTTPError(http.StatusBadRequest, messaging.ErrRoleMismatch.Error())
		}
		return toHTTPError(err)
	}

	msg, err := h.messages.Append(ctx, messaging.AppendInput{
		ConversationID: conv.ID,
		SenderID:       identity.UserID,
		Body:           req.Body,
		Type:           messaging.MessageType(req.Type),
		Metadata:       req.Metadata,
		Attachments:    toAttachments(req.Attachments),
	})
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidMessage) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return toHTTPError(err)
	}

	h.publishMessage(ctx, msg)

	return c.JSON(http.StatusCreated, map[string]any{
		"conversation":    conv,
		"initial_message": msg,
	})
}

// SendMessage handles POST /messages.
func (h *Handlers) SendMessage(c echo.Context) error {
	identity := auth.MustGetIdentity(c)

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conversationID := req.ConversationID
	if conversationID == "" {
		if req.ReceiverID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "conversation_id or receiver_id is required")
		}
		conv, err := h.resolver.ResolveOrCreate(ctx, identity.UserID, req.ReceiverID)
		if err != nil {
			return toHTTPError(err)
		}
		conversationID = conv.ID
	}

	msg, err := h.messages.Append(ctx, messaging.AppendInput{
		ConversationID: conversationID,
		SenderID:       identity.UserID,
		Body:           req.Body,
		Type:           messaging.MessageType(req.Type),
		Metadata:       req.Metadata,
		Attachments:    toAttachments(req.Attachments),
	})
	if err != nil {
		return toHTTPError(err)
	}

	h.publishMessage(ctx, msg)

	return c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /messages.
func (h *Handlers) ListMessages(c echo.Context) error {
	identity := auth.MustGetIdentity(c)

	conversationID := c.QueryParam("conversation_id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}

	opts := messaging.ListOptions{
		Limit:  intQueryParam(c, "limit", 0),
		Offset: intQueryParam(c, "offset", 0),
		Order:  messaging.SortOrder(c.QueryParam("order")),
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	msgs, err := h.messages.List(ctx, conversationID, identity.UserID, opts)
	if err != nil {
		return toHTTPError(err)
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

// MarkRead handles POST /conversations/:id/read. Fetching messages never
// marks them read; this endpoint is the one explicit read primitive.
func (h *Handlers) MarkRead(c echo.Context) error {
	identity := auth.MustGetIdentity(c)
	conversationID := c.Param("id")

	ctx, cancel := requestContext(c)
	defer cancel()

	marked, err := h.reads.MarkRead(ctx, conversationID, identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}

	if marked > 0 {
		h.publishSummary(ctx, conversationID, identity.UserID)
	}

	return c.JSON(http.StatusOK, map[string]int{"marked": marked})
}

// Unread handles GET /unread.
func (h *Handlers) Unread(c echo.Context) error {
	identity := auth.MustGetIdentity(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	byConversation, err := h.reads.UnreadByConversation(ctx, identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	total := 0
	for _, n := range byConversation {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":           total,
		"by_conversation": byConversation,
	})
}

// ArchiveConversation handles POST /conversations/:id/archive.
func (h *Handlers) ArchiveConversation(c echo.Context) error {
	return h.setStatus(c, messaging.StatusArchived)
}

// BlockConversation handles POST /conversations/:id/block.
func (h *Handlers) BlockConversation(c echo.Context) error {
	return h.setStatus(c, messaging.StatusBlocked)
}

func (h *Handlers) setStatus(c echo.Context, status messaging.Status) error {
	identity := auth.MustGetIdentity(c)
	conversationID := c.Param("id")

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.messages.SetStatus(ctx, conversationID, identity.UserID, status)
	if err != nil {
		return toHTTPError(err)
	}

	for _, userID := range []string{conv.ParticipantA, conv.ParticipantB} {
		h.publishSummary(ctx, conv.ID, userID)
	}

	return c.JSON(http.StatusOK, conv)
}

// UploadAttachment handles POST /attachments: hands the bytes to the object
// store and returns the reference to include in a later send.
func (h *Handlers) UploadAttachment(c echo.Context) error {
	if h.files == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Attachment storage is not configured")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read file")
	}
	defer src.Close()

	ctx, cancel := requestContext(c)
	defer cancel()

	ref, err := h.files.Put(ctx, fileHeader.Filename, src, fileHeader.Size)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, ref)
}

// publishMessage fans a persisted message out to live viewers and queues an
// offline notification when the receiver has no subscription. Persistence
// has already happened; everything here is best effort.
func (h *Handlers) publishMessage(ctx context.Context, msg *messaging.Message) {
	h.hub.Publish(notify.NewEvent(
		notify.ConversationTopic(msg.ConversationID),
		notify.EventMessageCreated,
		msg,
	))

	for _, userID := range []string{msg.SenderID, msg.ReceiverID} {
		h.publishSummary(ctx, msg.ConversationID, userID)
	}

	if h.jobs != nil && !h.hub.HasSubscribers(notify.UserTopic(msg.ReceiverID)) {
		if err := h.jobs.QueueMessageNotify(ctx, msg.ReceiverID, msg.ConversationID, msg.ID); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", msg.ReceiverID).
				Int64("message_id", msg.ID).
				Msg("failed to queue offline notification")
		}
	}
}

func (h *Handlers) publishSummary(ctx context.Context, conversationID, userID string) {
	summary, err := h.directory.Summary(ctx, conversationID, userID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("failed to build conversation summary for event")
		return
	}
	h.hub.Publish(notify.NewEvent(notify.UserTopic(userID), notify.EventConversationUpdated, summary))
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// toHTTPError maps the messaging error taxonomy onto HTTP status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, messaging.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, messaging.ErrRoleMismatch):
		return echo.NewHTTPError(http.StatusForbidden, messaging.ErrRoleMismatch.Error())
	case errors.Is(err, messaging.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "You are not a participant of this conversation")
	case errors.Is(err, messaging.ErrInvalidMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, messaging.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	case errors.Is(err, messaging.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "Conflicting update")
	case errors.Is(err, messaging.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Temporarily unavailable, retry shortly")
	default:
		log.Error().Err(err).Msg("unhandled messaging error")
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal error")
	}
}
