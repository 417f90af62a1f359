package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/backoff"
	"github.com/sharebite/sharebite-client/internal/presence"
	"github.com/sharebite/sharebite-client/internal/proto"
	"github.com/sharebite/sharebite-client/internal/queue"
	"github.com/sharebite/sharebite-client/internal/typing"
)

type fakeSession struct {
	mu     sync.Mutex
	sent   []proto.Intent
	frames chan *proto.Event
	closed chan struct{}
	once   sync.Once
	dead   atomic.Bool
	refuse atomic.Bool // make Send fail without closing
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		frames: make(chan *proto.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Send(_ context.Context, intent proto.Intent) error {
	if s.refuse.Load() {
		return errors.New("send refused")
	}
	select {
	case <-s.closed:
		return errors.New("session closed")
	default:
	}
	s.mu.Lock()
	s.sent = append(s.sent, intent)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) (*proto.Event, error) {
	select {
	case ev := <-s.frames:
		return ev, nil
	case <-s.closed:
		return nil, errors.New("session closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSession) Alive() bool {
	if s.dead.Load() {
		return false
	}
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) push(typ string, data any) {
	raw, _ := json.Marshal(data)
	s.frames <- &proto.Event{Type: typ, Data: raw}
}

func (s *fakeSession) intents() []proto.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.Intent, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) intentsOf(typ string) []proto.Intent {
	var out []proto.Intent
	for _, in := range s.intents() {
		if in.Type == typ {
			out = append(out, in)
		}
	}
	return out
}

type fakeDialer struct {
	mu          sync.Mutex
	errs        []error // consumed one per dial; nil means success
	alwaysErr   error
	refuseSends bool // new sessions start with Send refusing
	sessions    []*fakeSession
	tokens      []string
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.alwaysErr != nil {
		return nil, d.alwaysErr
	}
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	if err != nil {
		return nil, err
	}
	s := newFakeSession()
	if d.refuseSends {
		s.refuse.Store(true)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 {
		i = len(d.sessions) + i
	}
	if i < 0 || i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func testConfig() Config {
	return Config{
		HandshakeTimeout: time.Second,
		Backoff:          backoff.Policy{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, Factor: 1.5, JitterMax: time.Millisecond},
		MaxAttempts:      10,
	}
}

func newTestManager(t *testing.T, dialer Dialer, cfg Config) (*Manager, <-chan *Event, context.CancelFunc) {
	t.Helper()
	logger := zerolog.Nop()
	m := New(cfg, Deps{
		Dialer:   dialer,
		Queue:    queue.New(3, &logger),
		Presence: presence.NewTracker(),
		Typing:   typing.NewCoordinator(typing.DefaultTTL),
		Logger:   &logger,
	})
	events, unsubscribe := m.Events()
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		unsubscribe()
	})
	return m, events, cancel
}

func mustEvent(t *testing.T, events <-chan *Event, kind EventKind) *Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectLifecycle(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnecting)
	mustEvent(t, events, EventConnected)

	snap := m.Info()
	if snap.State != "connected" {
		t.Fatalf("state = %s, want connected", snap.State)
	}
	if snap.ConnectedAt.IsZero() {
		t.Fatal("ConnectedAt not set while connected")
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestJoinedConversationsReissuedAfterReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.JoinConversation("conv-1")
	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info() // barrier: join intents are issued before the loop takes new commands

	joins := dialer.session(0).intentsOf(proto.IntentJoinConversation)
	if len(joins) != 1 {
		t.Fatalf("join intents on first session = %d, want 1", len(joins))
	}

	dialer.session(0).Close()
	mustEvent(t, events, EventReconnectAttempt)
	mustEvent(t, events, EventConnected)
	m.Info()

	joins = dialer.session(1).intentsOf(proto.IntentJoinConversation)
	if len(joins) != 1 {
		t.Fatalf("join intents on second session = %d, want 1", len(joins))
	}
}

func TestOfflineSendQueuedAndFlushedOnReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info()

	first := dialer.session(0)
	m.SendMessage("conv-1", proto.MessageContent{Text: "m1"})
	waitFor(t, "m1 sent on live session", func() bool {
		return len(first.intentsOf(proto.IntentSendMessage)) == 1
	})

	// Drop the session, then send while the manager is recovering.
	first.Close()
	mustEvent(t, events, EventReconnectAttempt)
	m.SendMessage("conv-1", proto.MessageContent{Text: "m2"})

	mustEvent(t, events, EventConnected)
	m.Info()

	second := dialer.session(1)
	sends := second.intentsOf(proto.IntentSendMessage)
	if len(sends) != 1 {
		t.Fatalf("flushed sends on new session = %d, want 1", len(sends))
	}
	var data proto.SendMessageData
	if err := json.Unmarshal(sends[0].Data, &data); err != nil {
		t.Fatalf("unmarshal flushed send: %v", err)
	}
	if data.Content.Text != "m2" {
		t.Fatalf("flushed text = %q, want m2", data.Content.Text)
	}
	if depth := m.Info().QueueDepth; depth != 0 {
		t.Fatalf("queue depth after flush = %d, want 0", depth)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{alwaysErr: errors.New("refused")}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	m, events, _ := newTestManager(t, dialer, cfg)

	m.SetCredential("tok-1")
	first := mustEvent(t, events, EventReconnectAttempt)
	if first.Attempt != 1 {
		t.Fatalf("first attempt = %d, want 1", first.Attempt)
	}
	second := mustEvent(t, events, EventReconnectAttempt)
	if second.Attempt != 2 {
		t.Fatalf("second attempt = %d, want 2", second.Attempt)
	}
	mustEvent(t, events, EventReconnectFailed)

	if got := m.Info().State; got != "failed" {
		t.Fatalf("state = %s, want failed", got)
	}
	// Failed is terminal until an external trigger.
	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("dials kept happening in failed state: %d -> %d", dials, got)
	}

	// Connectivity restored: fresh budget, immediate attempt.
	dialer.mu.Lock()
	dialer.alwaysErr = nil
	dialer.mu.Unlock()
	m.NetworkOnline()
	mustEvent(t, events, EventConnected)
	if got := m.Info().Attempts; got != 0 {
		t.Fatalf("attempts after successful connect = %d, want 0", got)
	}
}

func TestCredentialRejectedStopsRetrying(t *testing.T) {
	dialer := &fakeDialer{alwaysErr: &AuthError{Reason: "token expired"}}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-stale")
	ev := mustEvent(t, events, EventCredentialInvalid)
	if ev.Error == nil || ev.Error.Code != ErrCodeAuthFailed {
		t.Fatalf("credential invalid event error = %+v, want code %s", ev.Error, ErrCodeAuthFailed)
	}
	mustEvent(t, events, EventDisconnected)

	if got := m.Info().State; got != "disconnected" {
		t.Fatalf("state = %s, want disconnected", got)
	}
	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatalf("manager retried a rejected credential: %d -> %d dials", dials, got)
	}
}

func TestCredentialRotationRestartsSession(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-old")
	mustEvent(t, events, EventConnected)
	m.Info()
	old := dialer.session(0)

	m.SetCredential("tok-new")
	mustEvent(t, events, EventConnected)
	m.Info()

	if old.Alive() {
		t.Fatal("old session still alive after rotation")
	}
	dialer.mu.Lock()
	tokens := append([]string(nil), dialer.tokens...)
	dialer.mu.Unlock()
	if len(tokens) != 2 || tokens[1] != "tok-new" {
		t.Fatalf("dial tokens = %v, want [tok-old tok-new]", tokens)
	}
}

func TestLogoutClearsBufferedState(t *testing.T) {
	dialer := &fakeDialer{alwaysErr: errors.New("offline")}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.JoinConversation("conv-1")
	m.SendMessage("conv-1", proto.MessageContent{Text: "pending"})
	waitFor(t, "message buffered", func() bool { return m.Info().QueueDepth == 1 })

	m.SetCredential("tok-1")
	mustEvent(t, events, EventReconnectAttempt)
	m.SetCredential("")
	mustEvent(t, events, EventDisconnected)

	snap := m.Info()
	if snap.QueueDepth != 0 {
		t.Fatalf("queue depth after logout = %d, want 0", snap.QueueDepth)
	}
	if len(snap.Joined) != 0 {
		t.Fatalf("joined after logout = %v, want empty", snap.Joined)
	}
	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Fatal("manager kept dialing after logout")
	}
}

func TestPresenceRebuiltEmptyOnDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info()

	dialer.session(0).push(proto.EventPresenceChange, proto.PresenceChangeData{UserID: "u-1", IsOnline: true})
	ev := mustEvent(t, events, EventPresenceChange)
	if ev.UserID != "u-1" || !ev.Online {
		t.Fatalf("presence event = %+v, want u-1 online", ev)
	}
	waitFor(t, "presence applied", func() bool { return m.Info().OnlineUsers == 1 })

	dialer.session(0).Close()
	mustEvent(t, events, EventReconnectAttempt)
	if got := m.Info().OnlineUsers; got != 0 {
		t.Fatalf("online users survived disconnect: %d, want 0", got)
	}
}

func TestInboundFramesFanOut(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info()
	sess := dialer.session(0)

	sess.push(proto.EventNewMessage, proto.NewMessageData{
		ConversationID: "conv-1",
		Message:        proto.MessagePayload{ID: "msg-1", SenderID: "u-2", SenderName: "Dana", Content: proto.MessageContent{Text: "hi"}},
	})
	ev := mustEvent(t, events, EventNewMessage)
	if ev.ConversationID != "conv-1" || ev.MessageID != "msg-1" || ev.UserName != "Dana" {
		t.Fatalf("new message event = %+v", ev)
	}

	sess.push(proto.EventTypingStart, proto.TypingEventData{ConversationID: "conv-1", UserID: "u-2", UserName: "Dana"})
	ev = mustEvent(t, events, EventTypingStarted)
	if ev.UserID != "u-2" {
		t.Fatalf("typing event user = %s, want u-2", ev.UserID)
	}

	sess.push(proto.EventUnreadCountUpdate, proto.UnreadCountData{TotalUnread: 4})
	ev = mustEvent(t, events, EventUnreadCount)
	if ev.TotalUnread != 4 {
		t.Fatalf("total unread = %d, want 4", ev.TotalUnread)
	}

	sess.push(proto.EventFoodReserved, proto.FoodReservedData{FoodID: "f-1", FoodTitle: "Bread", RequesterName: "Sam"})
	ev = mustEvent(t, events, EventFoodReserved)
	if ev.Reservation == nil || ev.Reservation.FoodTitle != "Bread" {
		t.Fatalf("food reserved event = %+v", ev.Reservation)
	}
}

func TestServerUnauthorizedFrameRequiresReauth(t *testing.T) {
	dialer := &fakeDialer{}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info()

	dialer.session(0).frames <- &proto.Event{
		Type:  proto.EventError,
		Error: &proto.Error{Code: proto.ErrCodeUnauthorized, Msg: "token revoked"},
	}
	mustEvent(t, events, EventCredentialInvalid)
	mustEvent(t, events, EventDisconnected)
	if got := m.Info().State; got != "disconnected" {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestHeartbeatForcesReconnectOnSilentFailure(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m, events, _ := newTestManager(t, dialer, cfg)

	m.SetCredential("tok-1")
	mustEvent(t, events, EventConnected)
	m.Info()

	// Session stops being usable but never surfaces a read error.
	dialer.session(0).dead.Store(true)
	mustEvent(t, events, EventConnecting)
	mustEvent(t, events, EventConnected)
	waitFor(t, "replacement session", func() bool { return dialer.dialCount() == 2 })
}

func TestQueueDropReportsDeliveryFailure(t *testing.T) {
	dialer := &fakeDialer{refuseSends: true}
	m, events, _ := newTestManager(t, dialer, testConfig())

	m.SendMessage("conv-1", proto.MessageContent{Text: "doomed"})
	waitFor(t, "message buffered", func() bool { return m.Info().QueueDepth == 1 })

	// Each connect flushes once; every session refuses sends, so each flush
	// burns one delivery attempt. The third flush drops and reports.
	m.SetCredential("tok-1")
	for i := 0; i < 2; i++ {
		mustEvent(t, events, EventConnected)
		m.Info()
		dialer.session(-1).Close()
	}
	mustEvent(t, events, EventConnected)

	ev := mustEvent(t, events, EventDeliveryFailed)
	if ev.Error == nil || ev.Error.Code != ErrCodeDeliveryFailed {
		t.Fatalf("delivery failure error = %+v", ev.Error)
	}
	if depth := m.Info().QueueDepth; depth != 0 {
		t.Fatalf("queue depth after drop = %d, want 0", depth)
	}
}
