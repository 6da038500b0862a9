// Package gateway accepts game connections and hands each one to a session
// whose traffic starts in the auth room.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/dispatch"
	"github.com/project-spire/spire-game-server/internal/session"
)

// closeNotifyTimeout bounds the SessionClosed hand-off after a session ends.
const closeNotifyTimeout = 2 * time.Second

// Acceptor listens for game connections. It implements server.Service.
type Acceptor struct {
	cfg     config.ServerConfig
	sessCfg config.SessionConfig
	auth    *session.Inbox
	server  dispatch.Sender
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates an acceptor whose sessions start out targeting auth.
//
// Precondition: auth, server and logger must be non-nil; cfg must have a valid port.
// Postcondition: Returns an Acceptor ready to be started with Start.
func NewAcceptor(cfg config.ServerConfig, sessCfg config.SessionConfig, auth *session.Inbox, server dispatch.Sender, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		sessCfg: sessCfg,
		auth:    auth,
		server:  server,
		logger:  logger.Named("gateway"),
		quit:    make(chan struct{}),
	}
}

// Start listens and accepts connections until ctx is cancelled or Stop is
// called. Every session is served under ctx, so cancellation tears them down.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed and every session has finished when
// Start returns.
func (a *Acceptor) Start(ctx context.Context) error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.logger.Info("gateway listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-a.quit:
		case <-stopWatch:
		}
	}()
	defer a.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || a.stopped() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		if !a.track() {
			_ = conn.Close()
			return nil
		}
		go a.handleConn(ctx, conn)
	}
}

// track registers a connection with the WaitGroup. It refuses once Stop has
// begun, so Add never races the Wait in Stop.
func (a *Acceptor) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) stopped() bool {
	select {
	case <-a.quit:
		return true
	default:
		return false
	}
}

// handleConn serves one connection and reports its end to the dispatcher.
func (a *Acceptor) handleConn(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			a.logger.Warn("setting TCP_NODELAY", zap.String("remote_addr", conn.RemoteAddr().String()), zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	s := session.New(conn, a.auth, a.sessCfg, a.logger)
	a.logger.Debug("client connected", zap.Stringer("session", s), zap.String("remote_addr", s.PeerAddr))
	if err := s.Serve(ctx); err != nil {
		a.logger.Debug("session ended", zap.Stringer("session", s), zap.Error(err))
	}

	nctx, ncancel := context.WithTimeout(context.WithoutCancel(ctx), closeNotifyTimeout)
	defer ncancel()
	if err := a.server.Send(nctx, dispatch.SessionClosed{Session: s}); err != nil {
		a.logger.Debug("reporting session close", zap.Stringer("session", s), zap.Error(err))
	}
}

// Stop closes the listener, ends every session and waits for them to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	if a.listener != nil {
		_ = a.listener.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()

	a.logger.Info("gateway stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
