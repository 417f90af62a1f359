// Package typing tracks per-conversation remote typing indicators with a
// defensive expiry, so a peer whose tab died without sending typing_stop
// never leaves a permanently stuck "typing…" state.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a typing entry stays alive without a refresh.
const DefaultTTL = 7 * time.Second

// sweepInterval bounds how stale an expired entry can linger between reads.
const sweepInterval = time.Second

// Coordinator maintains conversation-scoped sets of remotely typing users.
// Entries expire on TTL, on an explicit stop event, or on Reset, whichever
// comes first.
type Coordinator struct {
	mu     sync.Mutex
	byConv map[string]map[string]time.Time // conversation -> user -> expiry
	ttl    time.Duration
	now    func() time.Time
}

// NewCoordinator builds a coordinator. ttl <= 0 selects the default.
func NewCoordinator(ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		byConv: make(map[string]map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Start records (or refreshes) a remote user typing in a conversation.
func (c *Coordinator) Start(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.byConv[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		c.byConv[conversationID] = users
	}
	users[userID] = c.now().Add(c.ttl)
}

// Stop removes a remote user's typing entry for a conversation.
func (c *Coordinator) Stop(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if users, ok := c.byConv[conversationID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(c.byConv, conversationID)
		}
	}
}

// TypingUsers returns the users currently typing in a conversation, sorted
// for stable output. Expired entries are pruned on read.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.byConv[conversationID]
	if !ok {
		return nil
	}
	now := c.now()
	out := make([]string, 0, len(users))
	for id, expiry := range users {
		if now.After(expiry) {
			delete(users, id)
			continue
		}
		out = append(out, id)
	}
	if len(users) == 0 {
		delete(c.byConv, conversationID)
	}
	sort.Strings(out)
	return out
}

// IsTyping reports whether a specific user is typing in a conversation.
func (c *Coordinator) IsTyping(conversationID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.byConv[conversationID]
	if !ok {
		return false
	}
	expiry, ok := users[userID]
	if !ok {
		return false
	}
	if c.now().After(expiry) {
		delete(users, userID)
		return false
	}
	return true
}

// Sweep removes all expired entries.
func (c *Coordinator) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for conv, users := range c.byConv {
		for id, expiry := range users {
			if now.After(expiry) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(c.byConv, conv)
		}
	}
}

// Reset drops all typing state. Called on disconnect.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byConv = make(map[string]map[string]time.Time)
}

// Run sweeps expired entries periodically until the context ends.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
