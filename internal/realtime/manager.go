// Package realtime maintains one logical connection to the marketplace
// gateway over a sequence of physical sessions, with automatic recovery,
// and fans inbound events out to presence, typing and notification consumers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/backoff"
	"github.com/sharebite/sharebite-client/internal/presence"
	"github.com/sharebite/sharebite-client/internal/proto"
	"github.com/sharebite/sharebite-client/internal/queue"
	"github.com/sharebite/sharebite-client/internal/typing"
)

const (
	sendTimeout = 10 * time.Second
	infoTimeout = 2 * time.Second
)

// Config tunes the manager's recovery behaviour.
type Config struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration // <= 0 disables the liveness safety net
	Backoff           backoff.Policy
	MaxAttempts       int
}

// DefaultConfig mirrors the gateway client profile: 20s handshake window,
// 30s heartbeat, 10 reconnect attempts.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  20 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Backoff:           backoff.Default(),
		MaxAttempts:       10,
	}
}

// Deps are the collaborators the manager drives. All of them are owned by
// the manager's loop once Run starts; readers treat them as snapshots.
type Deps struct {
	Dialer   Dialer
	Queue    *queue.Queue
	Presence *presence.Tracker
	Typing   *typing.Coordinator
	Logger   *zerolog.Logger
}

// Snapshot is the manager's externally visible connection info.
type Snapshot struct {
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	OnlineUsers int       `json:"onlineUsers"`
	QueueDepth  int       `json:"queueDepth"`
	Joined      []string  `json:"joinedConversations"`
	ConnectedAt time.Time `json:"connectedAt,omitzero"`
}

type cmdKind int

const (
	cmdSetCredential cmdKind = iota
	cmdForceReconnect
	cmdNetworkOnline
	cmdJoin
	cmdLeave
	cmdSendMessage
	cmdTypingStart
	cmdTypingStop
	cmdMarkRead
	cmdMarkDelivered
	cmdInfo
)

type command struct {
	kind           cmdKind
	token          string
	conversationID string
	messageID      string
	content        proto.MessageContent
	reply          chan Snapshot
}

type dialResult struct {
	gen  uint64
	sess Session
	err  error
}

type inboundFrame struct {
	gen uint64
	ev  *proto.Event
}

type readFailure struct {
	gen uint64
	err error
}

// Manager owns the connection state machine. All fields below the cmds
// channel are touched only by the Run goroutine.
type Manager struct {
	cfg     Config
	dialer  Dialer
	queue   *queue.Queue
	pres    *presence.Tracker
	typ     *typing.Coordinator
	log     *zerolog.Logger
	emitter *Emitter

	cmds        chan command
	dialResults chan dialResult
	frames      chan inboundFrame
	readErrs    chan readFailure

	runCtx      context.Context
	state       State
	credential  string
	attempts    int
	joined      map[string]struct{}
	sess        Session
	sessGen     uint64
	dialGen     uint64
	backoffTmr  *time.Timer
	connectedAt time.Time
}

// New constructs a manager. Run must be started before issuing intents.
func New(cfg Config, deps Deps) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.Default()
	}

	m := &Manager{
		cfg:         cfg,
		dialer:      deps.Dialer,
		queue:       deps.Queue,
		pres:        deps.Presence,
		typ:         deps.Typing,
		log:         deps.Logger,
		emitter:     NewEmitter(),
		cmds:        make(chan command, 64),
		dialResults: make(chan dialResult, 4),
		frames:      make(chan inboundFrame, 64),
		readErrs:    make(chan readFailure, 4),
		joined:      make(map[string]struct{}),
	}

	m.queue.SetDropHandler(func(e queue.Entry) {
		m.emitter.Emit(&Event{
			Kind:           EventDeliveryFailed,
			MessageID:      e.ID,
			ConversationID: e.ConversationID,
			Error:          &Error{Code: ErrCodeDeliveryFailed, Message: "message dropped after retry budget"},
		})
	})

	return m
}

// Events subscribes to manager events; cancel removes the subscription.
func (m *Manager) Events() (<-chan *Event, func()) {
	return m.emitter.Subscribe(64)
}

// State returns the current connection state via the loop.
func (m *Manager) State() State {
	snap := m.Info()
	for s := StateDisconnected; s <= StateFailed; s++ {
		if s.String() == snap.State {
			return s
		}
	}
	return StateDisconnected
}

// SetCredential installs, rotates, or (with an empty token) removes the
// session credential. Rotation restarts the session with the new value.
func (m *Manager) SetCredential(token string) {
	m.post(command{kind: cmdSetCredential, token: token})
}

// ForceReconnect resets the attempt budget and dials immediately.
func (m *Manager) ForceReconnect() {
	m.post(command{kind: cmdForceReconnect})
}

// NetworkOnline signals connectivity was restored; it resumes a Failed or
// waiting manager with a fresh attempt budget.
func (m *Manager) NetworkOnline() {
	m.post(command{kind: cmdNetworkOnline})
}

// JoinConversation subscribes to a conversation's events. The subscription
// is re-issued automatically after every reconnect.
func (m *Manager) JoinConversation(conversationID string) {
	m.post(command{kind: cmdJoin, conversationID: conversationID})
}

// LeaveConversation drops a conversation subscription.
func (m *Manager) LeaveConversation(conversationID string) {
	m.post(command{kind: cmdLeave, conversationID: conversationID})
}

// SendMessage sends immediately when connected; otherwise the message is
// buffered and flushed on the next connected transition.
func (m *Manager) SendMessage(conversationID string, content proto.MessageContent) {
	m.post(command{kind: cmdSendMessage, conversationID: conversationID, content: content})
}

// StartTyping and StopTyping are best-effort; they are dropped silently
// while not connected and never queued.
func (m *Manager) StartTyping(conversationID string) {
	m.post(command{kind: cmdTypingStart, conversationID: conversationID})
}

func (m *Manager) StopTyping(conversationID string) {
	m.post(command{kind: cmdTypingStop, conversationID: conversationID})
}

// MarkRead and MarkDelivered are fire-and-forget receipts; a missed receipt
// is re-derivable when the conversation is re-fetched.
func (m *Manager) MarkRead(messageID, conversationID string) {
	m.post(command{kind: cmdMarkRead, messageID: messageID, conversationID: conversationID})
}

func (m *Manager) MarkDelivered(messageID, conversationID string) {
	m.post(command{kind: cmdMarkDelivered, messageID: messageID, conversationID: conversationID})
}

// Info returns a consistent connection snapshot, or a zero snapshot if the
// loop is not running.
func (m *Manager) Info() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case m.cmds <- command{kind: cmdInfo, reply: reply}:
	case <-time.After(infoTimeout):
		return Snapshot{State: StateDisconnected.String()}
	}
	select {
	case snap := <-reply:
		return snap
	case <-time.After(infoTimeout):
		return Snapshot{State: StateDisconnected.String()}
	}
}

func (m *Manager) post(cmd command) {
	m.cmds <- cmd
}

// Run executes the state machine until the context is cancelled. All state
// transitions apply fully (cancel timers, tear down the old session, apply
// the new state, emit) before the next command or frame is handled.
func (m *Manager) Run(ctx context.Context) {
	m.runCtx = ctx

	var heartbeatC <-chan time.Time
	if m.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeatC = ticker.C
	}

	for {
		select {
		case cmd := <-m.cmds:
			m.handleCommand(ctx, cmd)
		case res := <-m.dialResults:
			m.handleDialResult(ctx, res)
		case fr := <-m.frames:
			m.handleFrame(fr)
		case rf := <-m.readErrs:
			m.handleReadFailure(rf)
		case <-m.backoffC():
			m.backoffTmr = nil
			if m.state == StateReconnecting {
				m.startConnect(ctx)
			}
		case <-heartbeatC:
			m.handleHeartbeat(ctx)
		case <-ctx.Done():
			m.disconnect()
			m.emitter.Close()
			return
		}
	}
}

func (m *Manager) backoffC() <-chan time.Time {
	if m.backoffTmr == nil {
		return nil
	}
	return m.backoffTmr.C
}

func (m *Manager) cancelBackoff() {
	if m.backoffTmr == nil {
		return
	}
	if !m.backoffTmr.Stop() {
		select {
		case <-m.backoffTmr.C:
		default:
		}
	}
	m.backoffTmr = nil
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("connection state")
	m.state = s
}

func (m *Manager) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSetCredential:
		m.handleSetCredential(ctx, cmd.token)
	case cmdForceReconnect:
		if m.credential == "" {
			return
		}
		m.attempts = 0
		m.startConnect(ctx)
	case cmdNetworkOnline:
		if m.credential == "" || m.state == StateConnected || m.state == StateConnecting {
			return
		}
		m.attempts = 0
		m.startConnect(ctx)
	case cmdJoin:
		m.joined[cmd.conversationID] = struct{}{}
		if m.state == StateConnected {
			m.sendIntent(proto.IntentJoinConversation, proto.JoinData{ConversationID: cmd.conversationID})
		}
	case cmdLeave:
		delete(m.joined, cmd.conversationID)
		if m.state == StateConnected {
			m.sendIntent(proto.IntentLeaveConversation, proto.LeaveData{ConversationID: cmd.conversationID})
		}
	case cmdSendMessage:
		m.handleSendMessage(cmd.conversationID, cmd.content)
	case cmdTypingStart:
		if m.state == StateConnected {
			m.sendIntent(proto.IntentTypingStart, proto.TypingData{ConversationID: cmd.conversationID})
		}
	case cmdTypingStop:
		if m.state == StateConnected {
			m.sendIntent(proto.IntentTypingStop, proto.TypingData{ConversationID: cmd.conversationID})
		}
	case cmdMarkRead:
		if m.state == StateConnected {
			m.sendIntent(proto.IntentMessageRead, proto.ReceiptData{MessageID: cmd.messageID, ConversationID: cmd.conversationID})
		}
	case cmdMarkDelivered:
		if m.state == StateConnected {
			m.sendIntent(proto.IntentMessageDelivered, proto.ReceiptData{MessageID: cmd.messageID, ConversationID: cmd.conversationID})
		}
	case cmdInfo:
		cmd.reply <- m.snapshot()
	}
}

func (m *Manager) handleSetCredential(ctx context.Context, token string) {
	if token == m.credential {
		return
	}
	if token == "" {
		// Logout: drop everything, including buffered sends and joins.
		m.credential = ""
		m.queue.Clear()
		m.joined = make(map[string]struct{})
		m.disconnect()
		return
	}
	rotated := m.credential != ""
	m.credential = token
	m.attempts = 0
	if rotated {
		m.log.Info().Msg("session credential rotated, restarting session")
	}
	m.startConnect(ctx)
}

func (m *Manager) handleSendMessage(conversationID string, content proto.MessageContent) {
	if m.state == StateConnected && m.sess != nil {
		if err := m.sendIntent(proto.IntentSendMessage, proto.SendMessageData{ConversationID: conversationID, Content: content}); err == nil {
			return
		}
		// A failed immediate send is buffered like any offline send.
	}
	m.queue.Enqueue(conversationID, content)
}

// startConnect supersedes any pending backoff timer and any live session,
// so at most one session and one pending attempt exist at any time.
func (m *Manager) startConnect(ctx context.Context) {
	if m.credential == "" {
		return
	}
	m.cancelBackoff()
	m.closeSession()

	m.setState(StateConnecting)
	m.emitter.Emit(&Event{Kind: EventConnecting})

	m.dialGen++
	gen := m.dialGen
	token := m.credential
	go func() {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
		sess, err := m.dialer.Dial(dctx, token)
		select {
		case m.dialResults <- dialResult{gen: gen, sess: sess, err: err}:
		case <-ctx.Done():
			if sess != nil {
				_ = sess.Close()
			}
		}
	}()
}

func (m *Manager) handleDialResult(ctx context.Context, res dialResult) {
	if res.gen != m.dialGen {
		// Superseded attempt; discard its session if it ever opened.
		if res.sess != nil {
			_ = res.sess.Close()
		}
		return
	}
	if res.err != nil {
		var authErr *AuthError
		if errors.As(res.err, &authErr) {
			m.handleAuthRejected(authErr)
			return
		}
		m.log.Warn().Err(res.err).Int("attempt", m.attempts).Msg("connect failed")
		m.scheduleReconnect()
		return
	}
	if m.state != StateConnecting {
		_ = res.sess.Close()
		return
	}

	m.sess = res.sess
	m.sessGen = res.gen
	m.attempts = 0
	m.connectedAt = time.Now()
	m.setState(StateConnected)
	m.log.Info().Msg("connected to gateway")
	m.emitter.Emit(&Event{Kind: EventConnected})

	go m.readLoop(ctx, res.sess, res.gen)

	// Join state does not persist across sessions; re-issue every intent.
	for conversationID := range m.joined {
		m.sendIntent(proto.IntentJoinConversation, proto.JoinData{ConversationID: conversationID})
	}
	m.flushQueue()
}

func (m *Manager) readLoop(ctx context.Context, sess Session, gen uint64) {
	for {
		ev, err := sess.Receive(ctx)
		if err != nil {
			select {
			case m.readErrs <- readFailure{gen: gen, err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case m.frames <- inboundFrame{gen: gen, ev: ev}:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleReadFailure(rf readFailure) {
	if m.sess == nil || rf.gen != m.sessGen {
		return // stale session
	}
	m.log.Warn().Err(rf.err).Msg("session read failed")
	m.closeSession()
	if m.credential == "" {
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.closeSession()
	m.attempts++
	if m.attempts > m.cfg.MaxAttempts {
		m.setState(StateFailed)
		m.log.Error().Int("attempts", m.cfg.MaxAttempts).Msg("reconnect budget exhausted")
		m.emitter.Emit(&Event{Kind: EventReconnectFailed, Attempt: m.cfg.MaxAttempts})
		return
	}
	delay := m.cfg.Backoff.Delay(m.attempts - 1)
	m.setState(StateReconnecting)
	m.log.Info().Int("attempt", m.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	m.emitter.Emit(&Event{Kind: EventReconnectAttempt, Attempt: m.attempts})
	m.cancelBackoff()
	m.backoffTmr = time.NewTimer(delay)
}

func (m *Manager) handleHeartbeat(ctx context.Context) {
	if m.state != StateConnected || m.credential == "" {
		return
	}
	if m.sess != nil && m.sess.Alive() {
		return
	}
	// Safety net for silent failures where no read error ever fired.
	m.log.Warn().Msg("liveness check failed, forcing reconnect")
	m.closeSession()
	m.startConnect(ctx)
}

func (m *Manager) handleAuthRejected(authErr *AuthError) {
	m.log.Error().Str("reason", authErr.Reason).Msg("credential rejected, re-authentication required")
	m.cancelBackoff()
	m.closeSession()
	m.credential = ""
	m.emitter.Emit(&Event{
		Kind:  EventCredentialInvalid,
		Error: &Error{Code: ErrCodeAuthFailed, Message: authErr.Error()},
	})
	m.setState(StateDisconnected)
	m.emitter.Emit(&Event{Kind: EventDisconnected})
}

// closeSession tears down the live session, if any, and rebuilds presence
// and typing state empty: stale indicators are worse than none.
func (m *Manager) closeSession() {
	if m.sess == nil {
		return
	}
	_ = m.sess.Close()
	m.sess = nil
	m.connectedAt = time.Time{}
	m.pres.Reset()
	m.typ.Reset()
}

func (m *Manager) disconnect() {
	m.cancelBackoff()
	m.dialGen++ // invalidate any in-flight dial
	m.closeSession()
	m.attempts = 0
	if m.state != StateDisconnected {
		m.setState(StateDisconnected)
		m.emitter.Emit(&Event{Kind: EventDisconnected})
	}
}

func (m *Manager) sendIntent(typ string, data any) error {
	if m.sess == nil {
		return ErrNotConnected
	}
	intent, err := proto.NewIntent(typ, data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(m.runCtx, sendTimeout)
	defer cancel()
	if err := m.sess.Send(ctx, intent); err != nil {
		m.log.Warn().Err(err).Str("intent", typ).Msg("send failed")
		return err
	}
	return nil
}

func (m *Manager) flushQueue() {
	m.queue.Flush(func(e queue.Entry) error {
		return m.sendIntent(proto.IntentSendMessage, proto.SendMessageData{
			ConversationID: e.ConversationID,
			Content:        e.Content,
		})
	})
}

func (m *Manager) snapshot() Snapshot {
	joined := make([]string, 0, len(m.joined))
	for id := range m.joined {
		joined = append(joined, id)
	}
	return Snapshot{
		State:       m.state.String(),
		Attempts:    m.attempts,
		OnlineUsers: m.pres.OnlineCount(),
		QueueDepth:  m.queue.Len(),
		Joined:      joined,
		ConnectedAt: m.connectedAt,
	}
}

func (m *Manager) handleFrame(fr inboundFrame) {
	if m.sess == nil || fr.gen != m.sessGen {
		return // frame from a torn-down session
	}
	ev := fr.ev
	switch ev.Type {
	case proto.EventPresenceChange:
		var data proto.PresenceChangeData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			m.log.Debug().Err(err).Msg("bad presence_change payload")
			return
		}
		m.pres.Apply(data.UserID, data.IsOnline, data.LastSeen)
		m.emitter.Emit(&Event{
			Kind:     EventPresenceChange,
			UserID:   data.UserID,
			Online:   data.IsOnline,
			LastSeen: data.LastSeen,
		})

	case proto.EventNewMessage:
		var data proto.NewMessageData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			m.log.Debug().Err(err).Msg("bad new_message payload")
			return
		}
		msg := data.Message
		m.emitter.Emit(&Event{
			Kind:           EventNewMessage,
			ConversationID: data.ConversationID,
			MessageID:      msg.ID,
			UserID:         msg.SenderID,
			UserName:       msg.SenderName,
			Message:        &msg,
		})

	case proto.EventNewConversation:
		var data proto.NewConversationData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			m.log.Debug().Err(err).Msg("bad new_conversation payload")
			return
		}
		e := &Event{Kind: EventNewConversation, ConversationID: data.ConversationID, Message: data.Message}
		if data.Message != nil {
			e.UserID = data.Message.SenderID
			e.UserName = data.Message.SenderName
		}
		m.emitter.Emit(e)

	case proto.EventTypingStart, proto.EventTypingStop:
		var data proto.TypingEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			m.log.Debug().Err(err).Msg("bad typing payload")
			return
		}
		kind := EventTypingStarted
		if ev.Type == proto.EventTypingStop {
			kind = EventTypingStopped
			m.typ.Stop(data.ConversationID, data.UserID)
		} else {
			m.typ.Start(data.ConversationID, data.UserID)
		}
		m.emitter.Emit(&Event{
			Kind:           kind,
			ConversationID: data.ConversationID,
			UserID:         data.UserID,
			UserName:       data.UserName,
		})

	case proto.EventMessageRead, proto.EventMessageDelivered:
		var data proto.ReceiptEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			m.log.Debug().Err(err).Msg("bad receipt payload")
			return
		}
		kind := EventMessageRead
		if ev.Type == proto.EventMessageDelivered {
			kind = EventMessageDelivered
		}
		m.emitter.Emit(&Event{
			Kind:           kind,
			ConversationID: data.ConversationID,
			MessageID:      data.MessageID,
			UserID:         data.UserID,
		})

	case proto.EventUnreadCountUpdate:
		var data proto.UnreadCountData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.emitter.Emit(&Event{Kind: EventUnreadCount, TotalUnread: data.TotalUnread})

	case proto.EventFoodReserved:
		var data proto.FoodReservedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.emitter.Emit(&Event{Kind: EventFoodReserved, Reservation: &data})

	case proto.EventFoodStatusUpdate:
		var data proto.FoodStatusData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		m.emitter.Emit(&Event{Kind: EventFoodStatus, Listing: &data})

	case proto.EventError:
		if ev.Error != nil && ev.Error.Code == proto.ErrCodeUnauthorized {
			m.handleAuthRejected(&AuthError{Reason: ev.Error.Msg})
			return
		}
		m.log.Warn().Interface("error", ev.Error).Msg("server error frame")

	default:
		m.log.Debug().Str("type", ev.Type).Msg("unhandled event frame")
	}
}
