package realtime

import (
	"context"

	"github.com/sharebite/sharebite-client/internal/proto"
)

// Session is one physical connection lifetime. A session is stateless
// between attempts: every reconnect replaces it wholesale.
type Session interface {
	// Send transmits one intent frame.
	Send(ctx context.Context, intent proto.Intent) error
	// Receive blocks for the next server event frame.
	Receive(ctx context.Context) (*proto.Event, error)
	// Alive reports whether the session still considers itself usable.
	// It must be cheap; it backs the heartbeat safety net.
	Alive() bool
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer opens a new Session, performing the credential handshake.
// A rejected credential is reported as *AuthError.
type Dialer interface {
	Dial(ctx context.Context, token string) (Session, error)
}
