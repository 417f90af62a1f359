package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Default()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2000 * time.Millisecond},
		{1, 3000 * time.Millisecond},
		{2, 4500 * time.Millisecond},
		{3, 6750 * time.Millisecond},
	}

	for _, tt := range tests {
		got := p.DelayWithRand(tt.attempt, 0)
		if got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayIsCapped(t *testing.T) {
	p := Default()

	// 2s * 1.5^20 is far beyond the cap.
	if got := p.DelayWithRand(20, 0.99); got != p.Cap {
		t.Errorf("got %v, want cap %v", got, p.Cap)
	}
}

func TestDelayAddsJitter(t *testing.T) {
	p := Default()

	base := p.DelayWithRand(0, 0)
	jittered := p.DelayWithRand(0, 0.5)

	if jittered-base != 500*time.Millisecond {
		t.Errorf("expected 500ms of jitter, got %v", jittered-base)
	}
}

func TestNegativeAttemptClamped(t *testing.T) {
	p := Default()
	if got := p.DelayWithRand(-3, 0); got != p.Base {
		t.Errorf("got %v, want %v", got, p.Base)
	}
}
