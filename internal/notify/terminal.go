package notify

import (
	"fmt"
	"io"
	"sync"
)

// TerminalSink renders signals with terminal escape sequences: BEL for
// sound, OSC 0 for the title, OSC 9 for desktop-style notifications
// (supported by iTerm2, kitty and friends).
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalSink writes escape sequences to w, normally the controlling
// terminal's stdout.
func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

func (s *TerminalSink) PlaySound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, "\a")
}

func (s *TerminalSink) Alert(title, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\x1b]9;%s: %s\a", title, body)
}

func (s *TerminalSink) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\x1b]0;%s\a", title)
}
