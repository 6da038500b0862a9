package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-spire/spire-game-server/internal/mailbox"
	"github.com/project-spire/spire-game-server/internal/protocol"
)

// ErrClosedByServer is the termination cause when a CloseCommand ends the session.
var ErrClosedByServer = errors.New("session closed by server")

// Serve runs the receive and send loops and blocks until the session terminates.
// Termination is triggered by whichever happens first: a loop exiting, a
// CloseCommand, or ctx cancellation.
//
// Precondition: Serve is called at most once per Context.
// Postcondition: The socket is closed, both loops have exited, IsOpen reports
// false and Done is closed. The returned error is the termination cause; nil
// means the peer disconnected cleanly.
func (s *Context) Serve(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvDone := make(chan error, 1)
	sendDone := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recvDone <- s.receiveLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		sendDone <- s.sendLoop(ctx)
	}()

	cause := s.supervise(ctx, recvDone, sendDone)

	cancel()
	// Closing the socket unblocks a pending read or write in the sibling loop.
	_ = s.conn.Close()
	wg.Wait()
	if s.markClosed() {
		close(s.done)
	}

	if cause != nil && !errors.Is(cause, context.Canceled) {
		s.logger.Info("session closed", zap.Error(cause), zap.Duration("duration", time.Since(start)))
	} else {
		s.logger.Info("session closed", zap.Duration("duration", time.Since(start)))
	}
	return cause
}

func (s *Context) supervise(ctx context.Context, recvDone, sendDone <-chan error) error {
	for {
		select {
		case err := <-recvDone:
			return err
		case err := <-sendDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			switch c := cmd.(type) {
			case CloseCommand:
				return ErrClosedByServer
			case RetargetCommand:
				s.inbound.Store(c.Inbound)
				s.logger.Debug("inbound retargeted")
			}
		}
	}
}

func (s *Context) receiveLoop(ctx context.Context) error {
	for {
		frame, err := protocol.ReadFrame(s.conn, s.cfg.MaxFrameSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receiving frame: %w", err)
		}

		// The target is read fresh for every frame so a retarget takes effect
		// at a frame boundary.
		inbox := s.inbound.Load()
		msg := InMessage{Session: s, Category: frame.Category, Payload: frame.Payload}
		if err := inbox.Send(ctx, msg); err != nil {
			if errors.Is(err, mailbox.ErrClosed) {
				s.logger.Debug("dropping frame for stopped room", zap.Stringer("category", frame.Category))
				continue
			}
			return err
		}
	}
}

func (s *Context) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.outbound:
			if s.cfg.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if _, err := s.conn.Write(frame); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("sending frame: %w", err)
			}
		}
	}
}
