package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chartlens-server-go/internal/platform/logging"
)

// SessionOptions tunes keepalive and buffering for one feed subscriber.
type SessionOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	return o
}

// Session pumps broadcast messages to one websocket client.
type Session struct {
	id     string
	conn   *Connection
	opts   SessionOptions
	logger *logging.Logger

	send    chan []byte
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, conn *Connection, opts SessionOptions, logger *logging.Logger) *Session {
	opts = opts.withDefaults()
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		opts:   opts,
		logger: logger,
		send:   make(chan []byte, opts.SendBuffer),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Enqueue queues payload without blocking. A full buffer drops the message.
func (s *Session) Enqueue(payload []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped reports how many messages were discarded for this client.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// Run drives the read and write pumps until either fails, then calls onDone.
func (s *Session) Run(onDone func(error)) {
	go func() {
		err := s.conn.ReadLoop(s.opts.PongWait, s.opts.ReadLimit)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = nil
		}
		if err == nil {
			err = ErrPeerGone
		}
		s.cancel(err)
	}()

	runErr := s.writeLoop()
	s.Close(runErr)
	if onDone != nil {
		onDone(runErr)
	}
}

func (s *Session) writeLoop() error {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			cause := context.Cause(s.ctx)
			if errors.Is(cause, ErrPeerGone) || errors.Is(cause, ErrSessionShutdown) {
				return nil
			}
			return cause
		case payload := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload, s.opts.WriteTimeout); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil, s.opts.WriteTimeout); err != nil {
				return err
			}
		}
	}
}

// Close terminates the session once.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.cancel(reason)
	if err := s.conn.Close(); err != nil && s.logger != nil {
		s.logger.WarnTag("WS", "session %s connection close failed: %v", s.id, err)
	}
}
