package typing

import (
	"testing"
	"time"
)

func newTestCoordinator(ttl time.Duration) (*Coordinator, *time.Time) {
	c := NewCoordinator(ttl)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestTypingIsConversationScoped(t *testing.T) {
	c, _ := newTestCoordinator(0)

	c.Start("c1", "u1")

	if got := c.TypingUsers("c1"); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("c1 typing=%v, want [u1]", got)
	}
	if got := c.TypingUsers("c2"); len(got) != 0 {
		t.Fatalf("u1 leaked into c2: %v", got)
	}
	if c.IsTyping("c2", "u1") {
		t.Fatalf("u1 must not appear typing in c2")
	}
}

func TestStopRemovesEntry(t *testing.T) {
	c, _ := newTestCoordinator(0)

	c.Start("c1", "u1")
	c.Start("c1", "u2")
	c.Stop("c1", "u1")

	if got := c.TypingUsers("c1"); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("typing=%v, want [u2]", got)
	}
}

func TestEntryExpiresWithoutStop(t *testing.T) {
	c, now := newTestCoordinator(5 * time.Second)

	c.Start("c1", "u1")
	*now = now.Add(6 * time.Second)

	if got := c.TypingUsers("c1"); len(got) != 0 {
		t.Fatalf("expired entry still visible: %v", got)
	}
	if c.IsTyping("c1", "u1") {
		t.Fatalf("expired entry reported as typing")
	}
}

func TestRepeatedStartRefreshesExpiry(t *testing.T) {
	c, now := newTestCoordinator(5 * time.Second)

	c.Start("c1", "u1")
	*now = now.Add(4 * time.Second)
	c.Start("c1", "u1")
	*now = now.Add(4 * time.Second)

	if !c.IsTyping("c1", "u1") {
		t.Fatalf("refreshed entry expired too early")
	}
}

func TestSweepPrunesExpired(t *testing.T) {
	c, now := newTestCoordinator(time.Second)

	c.Start("c1", "u1")
	c.Start("c2", "u2")
	*now = now.Add(2 * time.Second)
	c.Sweep()

	if len(c.byConv) != 0 {
		t.Fatalf("sweep left %d conversations", len(c.byConv))
	}
}

func TestResetClearsAll(t *testing.T) {
	c, _ := newTestCoordinator(0)
	c.Start("c1", "u1")
	c.Start("c2", "u2")

	c.Reset()

	if got := c.TypingUsers("c1"); len(got) != 0 {
		t.Fatalf("typing state survived reset: %v", got)
	}
}
