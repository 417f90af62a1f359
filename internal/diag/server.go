// Package diag serves a local diagnostics endpoint: a health probe and a
// live snapshot of the realtime connection for debugging stuck clients.
package diag

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/realtime"
)

// InfoSource exposes the connection snapshot, normally *realtime.Manager.
type InfoSource interface {
	Info() realtime.Snapshot
}

// Server is the diagnostics HTTP server. Bind it to loopback only; the
// snapshot leaks conversation identifiers.
type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

// NewServer builds the diagnostics server on addr.
func NewServer(addr string, src InfoSource, logger *zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newEngine(src),
			ReadHeaderTimeout: time.Second,
		},
		log: logger,
	}
}

func newEngine(src InfoSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	engine.GET("/debug/realtime", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Info())
	})

	return engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		s.log.Info().Msg("shutting down diagnostics server")
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
