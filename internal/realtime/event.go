package realtime

import (
	"sync"
	"time"

	"github.com/sharebite/sharebite-client/internal/proto"
)

// EventKind is a notification the manager emits to subscribers.
type EventKind int

const (
	// EventConnecting signals a handshake attempt has started.
	EventConnecting EventKind = iota
	// EventConnected signals a session is established.
	EventConnected
	// EventDisconnected signals the manager dropped to Disconnected.
	EventDisconnected
	// EventReconnectAttempt signals a scheduled retry; Attempt carries the count.
	EventReconnectAttempt
	// EventReconnectFailed signals the reconnect budget is exhausted.
	EventReconnectFailed
	// EventCredentialInvalid signals the server rejected the credential;
	// re-authentication is required before reconnecting.
	EventCredentialInvalid

	// EventPresenceChange reports a peer going online or offline.
	EventPresenceChange
	// EventNewMessage delivers an inbound chat message.
	EventNewMessage
	// EventNewConversation announces a conversation started by a peer.
	EventNewConversation
	// EventTypingStarted and EventTypingStopped report remote typing changes.
	EventTypingStarted
	EventTypingStopped
	// EventMessageRead and EventMessageDelivered report peer receipts.
	EventMessageRead
	EventMessageDelivered
	// EventUnreadCount carries the server's total unread counter.
	EventUnreadCount
	// EventDeliveryFailed reports a queued message dropped after its attempt budget.
	EventDeliveryFailed
	// EventFoodReserved and EventFoodStatus surface marketplace notifications.
	EventFoodReserved
	EventFoodStatus
)

// Event describes what happened in the realtime layer.
type Event struct {
	Kind EventKind

	Attempt        int
	UserID         string
	UserName       string
	Online         bool
	LastSeen       *time.Time
	ConversationID string
	MessageID      string
	Message        *proto.MessagePayload
	TotalUnread    int
	Reservation    *proto.FoodReservedData
	Listing        *proto.FoodStatusData
	Error          *Error
}

// Emitter fans events out to subscribers. Subscriptions have explicit
// lifetimes: the returned cancel func removes the handler, so re-subscribing
// consumers never accumulate duplicate registrations.
type Emitter struct {
	mu   sync.Mutex
	subs map[int]chan *Event
	next int
}

// NewEmitter returns an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan *Event)}
}

// Subscribe registers a buffered event channel and its cancel func.
func (e *Emitter) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	e.mu.Lock()
	id := e.next
	e.next++
	ch := make(chan *Event, buffer)
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber. Slow consumers drop.
func (e *Emitter) Emit(ev *Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close removes and closes all subscriptions.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
