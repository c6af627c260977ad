// Package notify is the in-process event notifier for live viewers.
// Delivery is best-effort and at-most-once per subscriber: the message
// store is the source of truth for ordering and the notifier only hints
// that something changed. Persistence always happens before publication.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topic scopes an event stream. Two families exist: per-conversation for
// users viewing a thread, and per-user for users viewing their list.
type Topic string

// ConversationTopic is the topic for live viewers of one thread.
func ConversationTopic(conversationID string) Topic {
	return Topic("conversation:" + conversationID)
}

// UserTopic is the topic for one user's conversation list.
func UserTopic(userID string) Topic {
	return Topic("user:" + userID)
}

// Event types published by the messaging core.
const (
	EventMessageCreated      = "message.created"
	EventConversationUpdated = "conversation.updated"
)

// Event is one notification delivered to subscribers of a topic.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Topic   Topic     `json:"-"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(topic Topic, eventType string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Topic:   topic,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

// Subscription is one subscriber's bounded event queue. Close releases the
// subscriber without affecting others on the same topic.
type Subscription struct {
	topic Topic
	ch    chan Event
	hub   *Hub
	once  sync.Once
}

// Events returns the subscription's receive channel. It is closed when the
// subscription is closed or the hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

// Hub fans events out to topic subscribers. A single goroutine owns the
// subscriber registry; registration, unregistration, and publication all go
// through channels. A full subscriber queue drops its oldest event rather
// than blocking the publisher.
type Hub struct {
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan Event
	done       chan struct{}
	closeOnce  sync.Once
	bufferSize int

	mu          sync.RWMutex
	subscribers map[Topic]int
}

// DefaultBufferSize is the per-subscriber queue depth when none is
// configured.
const DefaultBufferSize = 64

// NewHub creates a hub. Call Run before subscribing or publishing.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		broadcast:   make(chan Event, 256),
		done:        make(chan struct{}),
		bufferSize:  bufferSize,
		subscribers: make(map[Topic]int),
	}
}

// Run owns the subscriber registry until ctx is cancelled. Meant to be
// started once, as a goroutine, at server startup.
func (h *Hub) Run(ctx context.Context) {
	topics := make(map[Topic]map[*Subscription]struct{})

	defer func() {
		for _, subs := range topics {
			for sub := range subs {
				close(sub.ch)
			}
		}
		h.closeOnce.Do(func() { close(h.done) })
	}()

	for {
		select {
		case sub := <-h.register:
			if topics[sub.topic] == nil {
				topics[sub.topic] = make(map[*Subscription]struct{})
			}
			topics[sub.topic][sub] = struct{}{}
			h.setCount(sub.topic, len(topics[sub.topic]))

		case sub := <-h.unregister:
			if subs, ok := topics[sub.topic]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.ch)
					h.setCount(sub.topic, len(subs))
					if len(subs) == 0 {
						delete(topics, sub.topic)
					}
				}
			}

		case evt := <-h.broadcast:
			for sub := range topics[evt.Topic] {
				deliver(sub, evt)
			}

		case <-ctx.Done():
			return
		}
	}
}

// deliver enqueues without ever blocking the hub loop: when the subscriber
// queue is full, the oldest queued event is dropped for that subscriber.
func deliver(sub *Subscription, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
		log.Debug().Str("topic", string(evt.Topic)).Msg("event dropped for slow subscriber")
	}
}

// Subscribe registers a new subscriber on the topic. Returns nil if the hub
// has shut down.
func (h *Hub) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan Event, h.bufferSize),
		hub:   h,
	}
	select {
	case h.register <- sub:
		return sub
	case <-h.done:
		close(sub.ch)
		return nil
	}
}

// Publish hands an event to the hub. Best effort: if the hub is saturated
// or stopped, the event is dropped and the caller is never blocked.
func (h *Hub) Publish(evt Event) {
	select {
	case h.broadcast <- evt:
	case <-h.done:
	default:
		log.Warn().Str("topic", string(evt.Topic)).Msg("notifier saturated, event dropped")
	}
}

// HasSubscribers reports whether anyone is currently listening on the
// topic. The send path uses this to decide whether to queue an offline
// notification for the receiver.
func (h *Hub) HasSubscribers(topic Topic) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscribers[topic] > 0
}

func (h *Hub) setCount(topic Topic, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		delete(h.subscribers, topic)
		return
	}
	h.subscribers[topic] = n
}
