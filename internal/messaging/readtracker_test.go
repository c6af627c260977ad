package messaging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfolink/internal/messaging"
)

func TestMarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("marks counterpart messages and is idempotent", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "one")
		env.send(t, conv.ID, "co1", "two")
		env.send(t, conv.ID, "co1", "three")

		marked, err := env.reads.MarkRead(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 3, marked)

		marked, err = env.reads.MarkRead(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 0, marked, "repeat mark must be a no-op")

		count, err := env.reads.UnreadCountForConversation(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("own messages never count as unread", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "from the company")

		count, err := env.reads.UnreadCountForConversation(ctx, conv.ID, "co1")
		require.NoError(t, err)
		assert.Equal(t, 0, count, "the sender has nothing unread")

		marked, err := env.reads.MarkRead(ctx, conv.ID, "co1")
		require.NoError(t, err)
		assert.Equal(t, 0, marked)
	})

	t.Run("only new messages are marked on a second pass", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "one")

		marked, err := env.reads.MarkRead(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 1, marked)

		env.send(t, conv.ID, "co1", "two")
		env.send(t, conv.ID, "co1", "three")

		marked, err = env.reads.MarkRead(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 2, marked)
	})

	t.Run("listing messages does not mark them read", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "still unread")

		_, err := env.messages.List(ctx, conv.ID, "cfo1", messaging.ListOptions{})
		require.NoError(t, err)

		count, err := env.reads.UnreadCountForConversation(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 1, count, "reading the thread must stay side-effect free")
	})

	t.Run("non-participants and unknown conversations get forbidden", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")
		env.send(t, conv.ID, "co1", "private")

		_, err := env.reads.MarkRead(ctx, conv.ID, "cfo2")
		require.ErrorIs(t, err, messaging.ErrForbidden)

		_, err = env.reads.MarkRead(ctx, "no-such-thread", "cfo2")
		require.ErrorIs(t, err, messaging.ErrForbidden)

		count, err := env.reads.UnreadCountForConversation(ctx, conv.ID, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 1, count, "a rejected mark must change nothing")
	})
}

func TestUnreadCounts(t *testing.T) {
	ctx := context.Background()

	t.Run("totals span every conversation", func(t *testing.T) {
		env := newTestEnv(t)
		withCo1 := env.conversation(t, "co1", "cfo1")
		withCo2 := env.conversation(t, "co2", "cfo1")

		env.send(t, withCo1.ID, "co1", "one")
		env.send(t, withCo1.ID, "co1", "two")
		env.send(t, withCo2.ID, "co2", "three")

		total, err := env.reads.UnreadCount(ctx, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 3, total)

		byConv, err := env.reads.UnreadByConversation(ctx, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 2, byConv[withCo1.ID])
		assert.Equal(t, 1, byConv[withCo2.ID])
	})

	t.Run("each participant has an independent view", func(t *testing.T) {
		env := newTestEnv(t)
		conv := env.conversation(t, "co1", "cfo1")

		env.send(t, conv.ID, "co1", "to the cfo")
		env.send(t, conv.ID, "cfo1", "to the company")

		cfoCount, err := env.reads.UnreadCount(ctx, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 1, cfoCount)

		coCount, err := env.reads.UnreadCount(ctx, "co1")
		require.NoError(t, err)
		assert.Equal(t, 1, coCount)

		_, err = env.reads.MarkRead(ctx, conv.ID, "cfo1")
		require.NoError(t, err)

		cfoCount, err = env.reads.UnreadCount(ctx, "cfo1")
		require.NoError(t, err)
		assert.Equal(t, 0, cfoCount)

		coCount, err = env.reads.UnreadCount(ctx, "co1")
		require.NoError(t, err)
		assert.Equal(t, 1, coCount, "one side marking must not touch the other")
	})

	t.Run("a user with no conversations has zero unread", func(t *testing.T) {
		env := newTestEnv(t)

		total, err := env.reads.UnreadCount(ctx, "cfo2")
		require.NoError(t, err)
		assert.Equal(t, 0, total)
	})
}
