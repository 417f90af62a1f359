// Package app wires the client together: local store, realtime manager,
// notification dispatcher and the diagnostics server.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/auth"
	"github.com/sharebite/sharebite-client/internal/backoff"
	"github.com/sharebite/sharebite-client/internal/config"
	"github.com/sharebite/sharebite-client/internal/diag"
	"github.com/sharebite/sharebite-client/internal/notify"
	"github.com/sharebite/sharebite-client/internal/presence"
	"github.com/sharebite/sharebite-client/internal/queue"
	"github.com/sharebite/sharebite-client/internal/realtime"
	"github.com/sharebite/sharebite-client/internal/store"
	"github.com/sharebite/sharebite-client/internal/store/sqlite"
	"github.com/sharebite/sharebite-client/internal/transport/ws"
	"github.com/sharebite/sharebite-client/internal/typing"
)

// A saved token this close to expiry is not worth presenting; the user is
// asked to log in again instead of burning reconnect attempts on it.
const tokenExpiryMargin = time.Minute

// App owns the client's long-lived components.
type App struct {
	cfg      config.Config
	log      *zerolog.Logger
	store    store.Store
	auth     *auth.Client
	manager  *realtime.Manager
	typing   *typing.Coordinator
	notifier *notify.Dispatcher
	diag     *diag.Server
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("local store initialized")

	pres := presence.NewTracker()
	typ := typing.NewCoordinator(cfg.TypingTTL)
	q := queue.New(cfg.MaxSendAttempts, logger)
	dialer := ws.NewDialer(cfg.ServerURL, logger)

	manager := realtime.New(realtime.Config{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Backoff: backoff.Policy{
			Base:      cfg.ReconnectBaseDelay,
			Cap:       cfg.ReconnectMaxDelay,
			Factor:    backoff.Default().Factor,
			JitterMax: backoff.Default().JitterMax,
		},
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, realtime.Deps{
		Dialer:   dialer,
		Queue:    q,
		Presence: pres,
		Typing:   typ,
		Logger:   logger,
	})

	notifier := notify.New(notify.NewTerminalSink(os.Stdout), "ShareBite", logger)

	return &App{
		cfg:      cfg,
		log:      logger,
		store:    st,
		auth:     auth.NewClient(cfg.APIURL, logger),
		manager:  manager,
		typing:   typ,
		notifier: notifier,
		diag:     diag.NewServer(cfg.DiagAddr, manager, logger),
	}, nil
}

// Manager exposes the realtime manager for the interactive frontend.
func (a *App) Manager() *realtime.Manager {
	return a.manager
}

// Notifier exposes the notification dispatcher.
func (a *App) Notifier() *notify.Dispatcher {
	return a.notifier
}

// Run starts all background components, restores the saved session and
// blocks until the context is cancelled or the diagnostics server fails.
func (a *App) Run(ctx context.Context) error {
	go a.manager.Run(ctx)
	go a.typing.Run(ctx)

	events, unsubscribe := a.manager.Events()
	defer unsubscribe()
	go a.notifier.Run(events)

	a.restoreSession(ctx)

	diagErr := make(chan error, 1)
	go func() {
		diagErr <- a.diag.Run(ctx)
	}()

	select {
	case err := <-diagErr:
		a.cleanup()
		if err != nil {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		err := <-diagErr
		a.cleanup()
		return err
	}
}

// restoreSession presents the saved credential and re-subscribes to the
// saved conversation roster.
func (a *App) restoreSession(ctx context.Context) {
	sess, err := a.store.LoadSession(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load saved session")
		return
	}
	if sess == nil {
		a.log.Info().Msg("no saved session, login required")
		return
	}
	if auth.ExpiresWithin(sess.Token, tokenExpiryMargin) {
		a.log.Info().Str("user_id", sess.UserID).Msg("saved session expired, login required")
		if err := a.store.ClearSession(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to clear expired session")
		}
		return
	}

	a.log.Info().Str("user_id", sess.UserID).Msg("restoring saved session")
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load conversation roster")
	}
	for _, c := range convs {
		a.manager.JoinConversation(c.ID)
	}
	a.manager.SetCredential(sess.Token)
}

// Login authenticates, persists the session and hands the credential to
// the realtime manager.
func (a *App) Login(ctx context.Context, email, password string) error {
	creds, err := a.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return a.adoptCredentials(ctx, creds)
}

// LoginGuest obtains a guest credential under a display name.
func (a *App) LoginGuest(ctx context.Context, name string) error {
	creds, err := a.auth.GuestLogin(ctx, name)
	if err != nil {
		return err
	}
	return a.adoptCredentials(ctx, creds)
}

func (a *App) adoptCredentials(ctx context.Context, creds auth.Credentials) error {
	if err := a.store.SaveSession(ctx, store.Session{
		Token:    creds.Token,
		UserID:   creds.UserID,
		Username: creds.Username,
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.manager.SetCredential(creds.Token)
	return nil
}

// Logout removes the saved session and disconnects.
func (a *App) Logout(ctx context.Context) error {
	a.manager.SetCredential("")
	if err := a.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// JoinConversation subscribes and records the conversation in the roster
// so it is restored on the next start.
func (a *App) JoinConversation(ctx context.Context, id, title string) error {
	a.manager.JoinConversation(id)
	if err := a.store.UpsertConversation(ctx, store.Conversation{ID: id, Title: title}); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// LeaveConversation unsubscribes and forgets the roster entry.
func (a *App) LeaveConversation(ctx context.Context, id string) error {
	a.manager.LeaveConversation(id)
	if err := a.store.RemoveConversation(ctx, id); err != nil {
		return fmt.Errorf("remove conversation: %w", err)
	}
	return nil
}

// MarkRead sends the read receipt and advances the local read marker.
func (a *App) MarkRead(ctx context.Context, conversationID, messageID string) error {
	a.manager.MarkRead(messageID, conversationID)
	if err := a.store.SetReadMarker(ctx, conversationID, messageID); err != nil {
		return fmt.Errorf("save read marker: %w", err)
	}
	return nil
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
