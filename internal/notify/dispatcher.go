// Package notify turns realtime events into user-facing signals: a sound,
// an alert when the client is in the background, and a window title that
// advertises unseen messages for a while before reverting.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/realtime"
)

// DefaultTitleRevert is how long a mutated title survives without focus.
const DefaultTitleRevert = 30 * time.Second

// Sink renders the signals. Implementations must tolerate rapid calls.
type Sink interface {
	PlaySound()
	Alert(title, body string)
	SetTitle(title string)
}

// Dispatcher consumes manager events and drives a Sink.
type Dispatcher struct {
	sink        Sink
	log         *zerolog.Logger
	baseTitle   string
	revertAfter time.Duration

	mu        sync.Mutex
	focused   bool
	sound     bool
	unseen    int
	revertTmr *time.Timer
}

// New builds a dispatcher that starts focused with sound enabled.
func New(sink Sink, baseTitle string, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:        sink,
		log:         logger,
		baseTitle:   baseTitle,
		revertAfter: DefaultTitleRevert,
		focused:     true,
		sound:       true,
	}
}

// SetTitleRevert overrides the title revert delay. Zero keeps the default.
func (d *Dispatcher) SetTitleRevert(after time.Duration) {
	if after > 0 {
		d.revertAfter = after
	}
}

// SetSoundEnabled toggles the audible signal.
func (d *Dispatcher) SetSoundEnabled(enabled bool) {
	d.mu.Lock()
	d.sound = enabled
	d.mu.Unlock()
}

// SetFocused records whether the client is in the foreground. Gaining
// focus clears the unseen counter and restores the title immediately.
func (d *Dispatcher) SetFocused(focused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = focused
	if focused {
		d.unseen = 0
		d.restoreTitleLocked()
	}
}

// Run consumes events until the channel closes.
func (d *Dispatcher) Run(events <-chan *realtime.Event) {
	for ev := range events {
		d.HandleEvent(ev)
	}
	d.mu.Lock()
	d.restoreTitleLocked()
	d.mu.Unlock()
}

// HandleEvent reacts to a single manager event.
func (d *Dispatcher) HandleEvent(ev *realtime.Event) {
	switch ev.Kind {
	case realtime.EventNewMessage, realtime.EventNewConversation:
		sender := ev.UserName
		if sender == "" {
			sender = "Someone"
		}
		body := sender + " sent you a message"
		if ev.Message != nil && ev.Message.Content.Text != "" {
			body = ev.Message.Content.Text
		}
		d.announce(sender, body)

	case realtime.EventFoodReserved:
		if ev.Reservation == nil {
			return
		}
		d.announce("Reservation", fmt.Sprintf("%s reserved %q", ev.Reservation.RequesterName, ev.Reservation.FoodTitle))

	case realtime.EventFoodStatus:
		if ev.Listing == nil {
			return
		}
		d.announce("Listing update", fmt.Sprintf("%q is now %s", ev.Listing.FoodTitle, ev.Listing.NewStatus))

	case realtime.EventDeliveryFailed:
		d.mu.Lock()
		d.sink.Alert("Message not delivered", "a buffered message was dropped after repeated failures")
		d.mu.Unlock()
		d.log.Warn().Str("message_id", ev.MessageID).Msg("delivery failure surfaced to user")
	}
}

func (d *Dispatcher) announce(title, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sound {
		d.sink.PlaySound()
	}
	if d.focused {
		return
	}

	d.sink.Alert(title, body)
	d.unseen++
	d.sink.SetTitle(fmt.Sprintf("(%d) New message - %s", d.unseen, d.baseTitle))

	if d.revertTmr != nil {
		d.revertTmr.Stop()
	}
	d.revertTmr = time.AfterFunc(d.revertAfter, func() {
		d.mu.Lock()
		d.restoreTitleLocked()
		d.mu.Unlock()
	})
}

func (d *Dispatcher) restoreTitleLocked() {
	if d.revertTmr != nil {
		d.revertTmr.Stop()
		d.revertTmr = nil
	}
	d.sink.SetTitle(d.baseTitle)
}
