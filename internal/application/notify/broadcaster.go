// Package notify fans committed letter events out to interested parties.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/dispatcher"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// DefaultQueueSize bounds the number of undelivered events
const DefaultQueueSize = 1024

// Broadcaster decouples committing a transition from delivering its event.
// Notify only enqueues; a single worker goroutine dispatches in queue order,
// so events of one letter reach handlers in commit order. Delivery is
// best-effort: a full queue drops the event.
type Broadcaster struct {
	queue      chan *event.Event
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBroadcaster creates a broadcaster with a bounded queue
func NewBroadcaster(d dispatcher.Dispatcher, queueSize int, logger *zap.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		queue:      make(chan *event.Event, queueSize),
		dispatcher: d,
		logger:     logger,
	}
}

// Notify enqueues evt without blocking. It reports false when the event was dropped.
func (b *Broadcaster) Notify(evt *event.Event) bool {
	select {
	case b.queue <- evt:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("Notification queue full, event dropped",
			zap.String("event_type", evt.Type.String()),
			zap.String("letter_id", evt.LetterID),
			zap.Int64("version", evt.Version))
		return false
	}
}

// Start launches the delivery goroutine
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return fmt.Errorf("broadcaster already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.isRunning = true

	go b.run(runCtx, b.done)

	b.logger.Info("Broadcaster started", zap.Int("queue_capacity", cap(b.queue)))
	return nil
}

// Stop halts the worker after delivering what is already queued
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done

	b.logger.Info("Broadcaster stopped",
		zap.Int64("delivered", b.delivered.Load()),
		zap.Int64("dropped", b.dropped.Load()))
	return nil
}

// Name returns the worker name for identification
func (b *Broadcaster) Name() string {
	return "NotificationBroadcaster"
}

// Stats returns delivered and dropped counts
func (b *Broadcaster) Stats() (delivered, dropped int64) {
	return b.delivered.Load(), b.dropped.Load()
}

func (b *Broadcaster) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case evt := <-b.queue:
			b.deliver(ctx, evt)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

// drain delivers whatever was queued before shutdown
func (b *Broadcaster) drain() {
	ctx := context.Background()
	for {
		select {
		case evt := <-b.queue:
			b.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, evt *event.Event) {
	// Reminders change no state, so they do not need the ordered path and
	// must not hold it up while an IM call is in flight.
	if evt.Type == event.TypeLetterReminder {
		b.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
		b.delivered.Add(1)
		return
	}

	if err := b.dispatcher.Dispatch(ctx, evt); err != nil {
		b.logger.Warn("Event delivery incomplete",
			zap.String("event_type", evt.Type.String()),
			zap.String("letter_id", evt.LetterID),
			zap.Int64("version", evt.Version),
			zap.Error(err))
		return
	}
	b.delivered.Add(1)
}
