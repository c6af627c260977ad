package messaging_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfolink/internal/messaging"
	"github.com/cfolink/internal/messaging/memory"
)

type testEnv struct {
	repo     *memory.Repository
	resolver *messaging.Resolver
	messages *messaging.MessageService
	reads    *messaging.ReadTracker
	dir      *messaging.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewRepository()
	users := newTestDirectory()
	return &testEnv{
		repo:     repo,
		resolver: messaging.NewResolver(repo, users),
		messages: messaging.NewMessageService(repo, 0),
		reads:    messaging.NewReadTracker(repo),
		dir:      messaging.NewDirectory(repo, users),
	}
}

func (e *testEnv) conversation(t *testing.T, a, b string) *messaging.Conversation {
	t.Helper()
	conv, err := e.resolver.ResolveOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func (e *testEnv) send(t *testing.T, convID, sender, body string) *messaging.Message {
	t.Helper()
	msg, err := e.messages.Append(context.Background(), messaging.AppendInput{
		ConversationID: convID,
		SenderID:       sender,
		Body:           body,
	})
	require.NoError(t, err)
	return msg
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("persists a message and derives the receiver", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		msg := env.send(t, conv.ID, "co1", "こんにちは")

		assert.NotZero(t, msg.ID)
		assert.Equal(t, conv.ID, msg.ConversationID)
		assert.Equal(t, "co1", msg.SenderID)
		assert.Equal(t, "cfo1", msg.ReceiverID)
		assert.Equal(t, messaging.TypeChat, msg.Type)
		assert.Equal(t, "こんにちは", msg.Body)
		assert.False(t, msg.SentAt.IsZero())
	})

	t.Run("trims body whitespace", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		msg := env.send(t, conv.ID, "co1", "  hello  ")
		assert.Equal(t, "hello", msg.Body)
	})

	t.Run("rejects empty body without attachments", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co1",
			Body:           "   ",
		})
		require.ErrorIs(t, err, messaging.ErrInvalidMessage)
	})

	t.Run("allows attachment-only messages", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		msg, err := env.messages.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co1",
			Attachments: []messaging.Attachment{
				{Name: "q3-report.pdf", URL: "https://files.example.com/q3.pdf", Size: 1024},
			},
		})
		require.NoError(t, err)
		assert.Empty(t, msg.Body)
		require.Len(t, msg.Attachments, 1)
	})

	t.Run("counts body length in runes", func(t *testing.T) {
		env := newTestEnv(t)
		svc := messaging.NewMessageService(env.repo, 5)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := svc.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co1",
			Body:           "こんにちは", // 5 runes, 15 bytes
		})
		require.NoError(t, err)

		_, err = svc.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co1",
			Body:           strings.Repeat("a", 6),
		})
		require.ErrorIs(t, err, messaging.ErrInvalidMessage)
	})

	t.Run("rejects unknown message type", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co1",
			Body:           "hi",
			Type:           messaging.MessageType("carrier-pigeon"),
		})
		require.ErrorIs(t, err, messaging.ErrInvalidMessage)
	})

	t.Run("rejects a sender outside the conversation", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.Append(ctx, messaging.AppendInput{
			ConversationID: conv.ID,
			SenderID:       "co2",
			Body:           "let me in",
		})
		require.ErrorIs(t, err, messaging.ErrForbidden)
	})

	t.Run("unknown conversation reports forbidden, not not-found", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.messages.Append(ctx, messaging.AppendInput{
			ConversationID: "no-such-thread",
			SenderID:       "co1",
			Body:           "hello?",
		})
		require.ErrorIs(t, err, messaging.ErrForbidden)
		assert.NotErrorIs(t, err, messaging.ErrNotFound)
	})

	t.Run("rejects sends into archived and blocked conversations", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		for _, status := range []messaging.Status{messaging.StatusArchived, messaging.StatusBlocked} {
			_, err := env.messages.SetStatus(ctx, conv.ID, "co1", status)
			require.NoError(t, err)

			_, err = env.messages.Append(ctx, messaging.AppendInput{
				ConversationID: conv.ID,
				SenderID:       "cfo1",
				Body:           "anyone there?",
			})
			require.ErrorIs(t, err, messaging.ErrForbidden, "status %s must block sends", status)
		}
	})

	t.Run("reactivated conversation accepts sends again", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.SetStatus(ctx, conv.ID, "co1", messaging.StatusArchived)
		require.NoError(t, err)
		_, err = env.messages.SetStatus(ctx, conv.ID, "cfo1", messaging.StatusActive)
		require.NoError(t, err)

		env.send(t, conv.ID, "cfo1", "back again")
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("orders by sent time then id, both directions", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		bodies := []string{"first", "second", "third", "fourth"}
		for _, b := range bodies {
			env.send(t, conv.ID, "co1", b)
		}

		asc, err := env.messages.List(ctx, conv.ID, "cfo1", messaging.ListOptions{Order: messaging.OrderAsc})
		require.NoError(t, err)
		require.Len(t, asc, len(bodies))
		for i, msg := range asc {
			assert.Equal(t, bodies[i], msg.Body)
			if i > 0 {
				prev := asc[i-1]
				assert.True(t, msg.SentAt.After(prev.SentAt) ||
					(msg.SentAt.Equal(prev.SentAt) && msg.ID > prev.ID))
			}
		}

		desc, err := env.messages.List(ctx, conv.ID, "cfo1", messaging.ListOptions{Order: messaging.OrderDesc})
		require.NoError(t, err)
		require.Len(t, desc, len(bodies))
		for i, msg := range desc {
			assert.Equal(t, bodies[len(bodies)-1-i], msg.Body)
		}
	})

	t.Run("paginates with limit and offset", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		for i := 0; i < 5; i++ {
			env.send(t, conv.ID, "co1", strings.Repeat("x", i+1))
		}

		page, err := env.messages.List(ctx, conv.ID, "co1", messaging.ListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "xxx", page[0].Body)
		assert.Equal(t, "xxxx", page[1].Body)
	})

	t.Run("offset past the end returns an empty page", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "only one")

		page, err := env.messages.List(ctx, conv.ID, "co1", messaging.ListOptions{Offset: 100})
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("rejects unknown sort order", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.List(ctx, conv.ID, "co1", messaging.ListOptions{Order: messaging.SortOrder("sideways")})
		require.ErrorIs(t, err, messaging.ErrInvalidMessage)
	})

	t.Run("denies non-participants and unknown conversations alike", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "private")

		_, errForeign := env.messages.List(ctx, conv.ID, "cfo2", messaging.ListOptions{})
		require.ErrorIs(t, errForeign, messaging.ErrForbidden)

		_, errMissing := env.messages.List(ctx, "no-such-thread", "cfo2", messaging.ListOptions{})
		require.ErrorIs(t, errMissing, messaging.ErrForbidden)
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("participants may archive, block and reactivate", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		updated, err := env.messages.SetStatus(ctx, conv.ID, "cfo1", messaging.StatusBlocked)
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusBlocked, updated.Status)

		got, err := env.messages.Conversation(ctx, conv.ID, "co1")
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusBlocked, got.Status)
	})

	t.Run("outsiders may not change status", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.SetStatus(ctx, conv.ID, "co2", messaging.StatusArchived)
		require.ErrorIs(t, err, messaging.ErrForbidden)
	})

	t.Run("rejects unknown status values", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		_, err := env.messages.SetStatus(ctx, conv.ID, "co1", messaging.Status("paused"))
		require.ErrorIs(t, err, messaging.ErrInvalidMessage)
	})
}
