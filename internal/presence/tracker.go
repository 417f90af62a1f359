// Package presence tracks which peer users are currently online,
// fed purely by server push events.
package presence

import (
	"sync"
	"time"
)

// Tracker holds the set of online peer IDs. It is reactive: entries change
// only on inbound presence events, and the whole set is rebuilt empty on
// every disconnect because stale presence is worse than no presence.
type Tracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// Apply records a presence change pushed by the server.
func (t *Tracker) Apply(userID string, isOnline bool, lastSeen *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isOnline {
		t.online[userID] = struct{}{}
		delete(t.lastSeen, userID)
		return
	}
	delete(t.online, userID)
	if lastSeen != nil {
		t.lastSeen[userID] = *lastSeen
	}
}

// IsOnline reports whether the given user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// LastSeen returns the last-seen timestamp for an offline user, if known.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[userID]
	return ts, ok
}

// OnlineCount returns the number of users currently online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// Snapshot returns the online user IDs. Callers must treat it as immutable.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// Reset clears all presence state. Called on every disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
	t.lastSeen = make(map[string]time.Time)
}
