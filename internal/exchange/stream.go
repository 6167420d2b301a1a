package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 16 * time.Second
)

// stream keeps one websocket session alive and hands every message to handle.
// Dropped connections are redialled with exponential backoff until stop.
type stream struct {
	logger *slog.Logger
	prefix string
	dial   func(ctx context.Context) (*websocket.Conn, error)
	handle func(message []byte) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start dials once synchronously so a bad endpoint fails Connect, then keeps
// reading in the background. The session outlives ctx and ends with stop.
func (s *stream) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.logger.Info(s.prefix + ": connected successfully")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(runCtx, conn, done)
	return nil
}

func (s *stream) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *stream) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *stream) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	backoff := initialBackoff
	for {
		if conn != nil {
			err := s.consume(ctx, conn)
			if ctx.Err() != nil {
				s.logger.Info(s.prefix + ": context cancelled, closing connection")
				return
			}
			s.logger.Error(s.prefix+": failed to read message", "error", err)
		}

		s.logger.Info(s.prefix+": connecting to WebSocket", "backoff", backoff)
		var err error
		conn, err = s.dial(ctx)
		if err != nil {
			s.logger.Error(s.prefix+": WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}

		backoff = initialBackoff
		s.logger.Info(s.prefix + ": connected successfully")
	}
}

func (s *stream) consume(ctx context.Context, conn *websocket.Conn) error {
	// ReadMessage does not observe ctx; closing the conn unblocks it.
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handle(message); err != nil {
			s.logger.Warn(s.prefix+": failed to parse message", "error", err)
		}
	}
}
