// Package queue buffers outbound chat messages that could not be sent
// immediately and retries them with a bounded attempt budget.
package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/proto"
)

// DefaultMaxAttempts bounds how many flush passes may try a single entry.
const DefaultMaxAttempts = 3

// Entry is a message waiting for a successful send.
type Entry struct {
	ID             string
	ConversationID string
	Content        proto.MessageContent
	Attempts       int
	EnqueuedAt     time.Time
}

// SendFunc attempts to transmit one entry through the active session.
type SendFunc func(Entry) error

// DropFunc is invoked exactly once for an entry that exhausted its attempts.
type DropFunc func(Entry)

// Queue is a single-writer buffer; all mutation happens from the connection
// manager's loop, so the flush guard only has to stop re-entrant flushes.
type Queue struct {
	entries     []*Entry
	maxAttempts int
	flushing    bool
	onDrop      DropFunc
	log         *zerolog.Logger
}

// New constructs an empty queue. maxAttempts <= 0 selects the default.
func New(maxAttempts int, logger *zerolog.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		maxAttempts: maxAttempts,
		log:         logger,
	}
}

// SetDropHandler registers the delivery-failure callback.
func (q *Queue) SetDropHandler(fn DropFunc) {
	q.onDrop = fn
}

// Enqueue buffers a message and returns its queue entry. Never fails.
func (q *Queue) Enqueue(conversationID string, content proto.MessageContent) Entry {
	e := &Entry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		EnqueuedAt:     time.Now(),
	}
	q.entries = append(q.entries, e)
	q.log.Debug().Str("id", e.ID).Str("conversation", conversationID).Int("depth", len(q.entries)).Msg("message queued")
	return *e
}

// Flush walks entries in enqueue order and tries to send each one.
// Success removes the entry; failure increments its attempt count and an
// entry that reaches the attempt budget is dropped with a single report.
// A flush in progress is never re-entered; the late call is a no-op.
func (q *Queue) Flush(send SendFunc) (sent, dropped int) {
	if q.flushing || len(q.entries) == 0 {
		return 0, 0
	}
	q.flushing = true
	defer func() { q.flushing = false }()

	remaining := q.entries[:0]
	for _, e := range q.entries {
		if err := send(*e); err != nil {
			e.Attempts++
			if e.Attempts >= q.maxAttempts {
				dropped++
				q.log.Warn().Str("id", e.ID).Int("attempts", e.Attempts).Msg("queued message dropped")
				if q.onDrop != nil {
					q.onDrop(*e)
				}
				continue
			}
			remaining = append(remaining, e)
			continue
		}
		sent++
	}
	q.entries = remaining
	if sent > 0 || dropped > 0 {
		q.log.Info().Int("sent", sent).Int("dropped", dropped).Int("depth", len(q.entries)).Msg("queue flushed")
	}
	return sent, dropped
}

// Clear drops all entries unconditionally. Used on logout.
func (q *Queue) Clear() {
	q.entries = nil
}

// Len reports the number of buffered entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Snapshot returns a copy of the buffered entries in enqueue order.
func (q *Queue) Snapshot() []Entry {
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}
