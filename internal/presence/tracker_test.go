package presence

import (
	"testing"
	"time"
)

func TestApplyAndQuery(t *testing.T) {
	tr := NewTracker()

	tr.Apply("u1", true, nil)
	tr.Apply("u2", true, nil)

	if !tr.IsOnline("u1") || !tr.IsOnline("u2") {
		t.Fatalf("expected u1 and u2 online")
	}
	if tr.IsOnline("u3") {
		t.Fatalf("u3 should not be online")
	}
	if got := tr.OnlineCount(); got != 2 {
		t.Fatalf("count=%d, want 2", got)
	}
}

func TestOfflineRecordsLastSeen(t *testing.T) {
	tr := NewTracker()
	ts := time.Now().Add(-time.Minute)

	tr.Apply("u1", true, nil)
	tr.Apply("u1", false, &ts)

	if tr.IsOnline("u1") {
		t.Fatalf("u1 should be offline")
	}
	seen, ok := tr.LastSeen("u1")
	if !ok || !seen.Equal(ts) {
		t.Fatalf("lastSeen=%v ok=%v, want %v", seen, ok, ts)
	}
}

func TestComingBackOnlineClearsLastSeen(t *testing.T) {
	tr := NewTracker()
	ts := time.Now()

	tr.Apply("u1", false, &ts)
	tr.Apply("u1", true, nil)

	if _, ok := tr.LastSeen("u1"); ok {
		t.Fatalf("lastSeen should be cleared when the user returns")
	}
}

func TestResetEmptiesEverything(t *testing.T) {
	tr := NewTracker()
	ts := time.Now()
	tr.Apply("u1", true, nil)
	tr.Apply("u2", false, &ts)

	tr.Reset()

	if tr.OnlineCount() != 0 {
		t.Fatalf("count=%d after reset", tr.OnlineCount())
	}
	if _, ok := tr.LastSeen("u2"); ok {
		t.Fatalf("lastSeen survived reset")
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("snapshot not empty after reset")
	}
}
