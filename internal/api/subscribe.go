package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cfolink/internal/api/auth"
	"github.com/cfolink/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is token-authenticated; cross-origin pages hold no
	// credentials we care about.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscribeConversation handles GET /ws/conversations/:id: a long-lived
// connection receiving message.created events for one thread. Participants
// only.
func (h *Handlers) SubscribeConversation(c echo.Context) error {
	identity := auth.MustGetIdentity(c)
	conversationID := c.Param("id")

	ctx, cancel := requestContext(c)
	defer cancel()

	if _, err := h.messages.Conversation(ctx, conversationID, identity.UserID); err != nil {
		return toHTTPError(err)
	}

	return h.serveSubscription(c, notify.ConversationTopic(conversationID))
}

// SubscribeInbox handles GET /ws/inbox: conversation.updated events for the
// caller's own list, so it refreshes without polling.
func (h *Handlers) SubscribeInbox(c echo.Context) error {
	identity := auth.MustGetIdentity(c)
	return h.serveSubscription(c, notify.UserTopic(identity.UserID))
}

// serveSubscription pumps hub events over the websocket until either side
// goes away. Each subscriber runs on its own connection and goroutines, so
// a slow one never stalls the hub or its peers.
func (h *Handlers) serveSubscription(c echo.Context, topic notify.Topic) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.hub.Subscribe(topic)
	if sub == nil {
		conn.Close()
		return nil
	}
	defer func() {
		sub.Close()
		conn.Close()
	}()

	// Read pump: the client sends nothing meaningful, but reading is how
	// we notice the connection dropping.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug().Str("topic", string(topic)).Msg("subscriber write failed, closing")
				return nil
			}
		case <-done:
			return nil
		}
	}
}
