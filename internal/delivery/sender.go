// Package delivery implements the outbound event queue: an ordered,
// unbounded FIFO drained by a single background worker that owns the one
// persistent connection to the TAK server.
package delivery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/incident-feed-relay/internal/observability"
)

// Dialer establishes the outbound transport connection. The contract is
// fixed at compile time; the sender never probes for capabilities.
type Dialer interface {
	Dial(ctx context.Context) (io.WriteCloser, error)
}

// State is the sender lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Sender owns the delivery queue and its worker. Lifecycle is the explicit
// state machine stopped → starting → running → stopping → stopped; Start and
// Stop are the only transitions callers drive.
//
// Delivery is at-least-once: a payload whose write fails is retried on a
// fresh connection before any newer payload is taken. Duplicates are
// acceptable downstream because events are idempotent by identity and kind.
type Sender struct {
	dialer  Dialer
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	cond  *sync.Cond
	queue [][]byte
	state State
	conn  io.WriteCloser

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Sender.
func New(dialer Dialer, logger *slog.Logger, metrics *observability.Metrics) *Sender {
	s := &Sender{
		dialer:  dialer,
		logger:  logger,
		metrics: metrics,
		state:   StateStopped,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start dials the initial connection and launches the worker. An initial
// dial failure is returned to the caller (startup failures are fatal; the
// process must not claim readiness without a transport).
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	s.metrics.SenderRunning.Set(1)
	s.logger.Info("delivery sender started")

	go s.worker(workerCtx)
	return nil
}

// Stop abandons queued work, stops the worker, and releases the transport.
// Safe to call on an already stopped sender.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	dropped := len(s.queue)
	s.queue = nil
	cancel, done := s.cancel, s.done
	// Closing the connection first unblocks a worker stuck mid-write on a
	// dead peer.
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.metrics.SenderRunning.Set(0)
	s.metrics.QueueDepth.Set(0)
	s.logger.Info("delivery sender stopped", "abandoned", dropped)
}

// Enqueue appends a payload to the queue. It never blocks. The return value
// is false when the sender is not running; callers log and continue.
func (s *Sender) Enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return false
	}
	s.queue = append(s.queue, payload)
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	s.cond.Signal()
	return true
}

// Running reports whether the worker is draining the queue.
func (s *Sender) Running() bool {
	return s.State() == StateRunning
}

// State returns the current lifecycle state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueDepth returns the number of payloads waiting for delivery.
func (s *Sender) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// worker drains the queue until the sender leaves the running state.
func (s *Sender) worker(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state == StateRunning {
			s.cond.Wait()
		}
		if s.state != StateRunning {
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()

		if !s.deliver(ctx, payload) {
			return
		}
	}
}

// deliver writes one payload, reconnecting with capped exponential backoff
// until the write lands or the sender stops. The same payload is retried on
// every fresh connection before any newer work is taken.
func (s *Sender) deliver(ctx context.Context, payload []byte) bool {
	backoff := initialBackoff

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			_, err := conn.Write(payload)
			if err == nil {
				s.metrics.DeliverySent.Inc()
				return true
			}
			s.metrics.DeliveryErrors.Inc()
			s.logger.Warn("transport write failed, reconnecting", "error", err)
			conn.Close()
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
		}

		if !sleepWithContext(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff)

		s.metrics.Reconnects.Inc()
		fresh, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			s.logger.Warn("transport reconnect failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.state != StateRunning {
			// Stop won the race while the dial was in flight; it already
			// released the old connection and will not see this one.
			s.mu.Unlock()
			fresh.Close()
			return false
		}
		s.conn = fresh
		s.mu.Unlock()
		s.logger.Info("transport reconnected")
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
