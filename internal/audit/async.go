package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the async buffer has no room
	ErrQueueFull = errors.New("audit queue full")
	// ErrSinkClosed is returned for records offered after Close
	ErrSinkClosed = errors.New("audit sink closed")
)

const defaultDeliveryTimeout = 10 * time.Second

// AsyncSink decouples a slow sink from the caller with a bounded queue and a
// single delivery goroutine. Records that do not fit are dropped.
type AsyncSink struct {
	inner   Sink
	log     *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

// NewAsyncSink starts the delivery worker for inner
func NewAsyncSink(inner Sink, buffer int, log *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &AsyncSink{
		inner:   inner,
		log:     log,
		timeout: defaultDeliveryTimeout,
		queue:   make(chan Record, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) Name() string { return a.inner.Name() }

// Record enqueues rec without blocking
func (a *AsyncSink) Record(_ context.Context, rec Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.inner.Record(ctx, rec); err != nil {
			a.log.Warn("Async audit delivery failed",
				zap.String("sink", a.inner.Name()),
				zap.Uint("alert_id", rec.AlertID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
