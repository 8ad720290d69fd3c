package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/garyjia/letter-approval/internal/domain/event"
)

// ErrClosed is returned by Dispatch after Close
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans letter events out to named handlers
type Dispatcher interface {
	// SubscribeNamed registers handler for eventType. Registering an existing
	// name again replaces that handler in place.
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers handler under name for every letter event type
	SubscribeAll(name string, handler Handler)

	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs the handlers in registration order and joins their
	// failures. One failing handler does not skip the rest.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs each handler on its own goroutine, bounded by the
	// in-flight limit, and returns immediately
	DispatchAsync(ctx context.Context, evt *event.Event)

	ListHandlers(eventType event.Type) []HandlerInfo

	// Close rejects new dispatches and waits for async handlers
	Close() error
}

// Logger is the subset of the application logger the dispatcher needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// registry is never mutated after publication
type registry map[event.Type][]HandlerInfo

type eventDispatcher struct {
	// writers serialize on mu and publish a fresh registry; readers load it
	mu    sync.Mutex
	table atomic.Pointer[registry]

	logger  Logger
	timeout time.Duration
	slots   *semaphore.Weighted

	inflight sync.WaitGroup
	closed   atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHandlerTimeout bounds each handler call. Zero means no limit.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) { d.timeout = timeout }
}

// WithMaxInFlight caps concurrently running async handlers
func WithMaxInFlight(n int) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		logger: nopLogger{},
		slots:  semaphore.NewWeighted(64),
	}
	empty := registry{}
	d.table.Store(&empty)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) handlers(t event.Type) []HandlerInfo {
	return (*d.table.Load())[t]
}

// update copies the current registry, lets fn edit the copy for one type
// and publishes it
func (d *eventDispatcher) update(t event.Type, fn func([]HandlerInfo) []HandlerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := *d.table.Load()
	next := make(registry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[t] = fn(append([]HandlerInfo(nil), cur[t]...))
	d.table.Store(&next)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	info := HandlerInfo{Name: name, EventType: eventType, Handler: handler}
	replaced := false
	d.update(eventType, func(list []HandlerInfo) []HandlerInfo {
		for i := range list {
			if list[i].Name == name {
				list[i] = info
				replaced = true
				return list
			}
		}
		return append(list, info)
	})
	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name, "replaced", replaced)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	for _, t := range event.AllTypes {
		d.SubscribeNamed(t, name, handler)
	}
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.update(eventType, func(list []HandlerInfo) []HandlerInfo {
		kept := list[:0]
		for _, h := range list {
			if h.Name != name {
				kept = append(kept, h)
			}
		}
		return kept
	})
	d.logger.Info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	var errs []error
	for _, h := range d.handlers(evt.Type) {
		if err := d.invoke(ctx, evt, h); err != nil {
			d.logger.Error("Handler failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"letter_id", evt.LetterID,
				"handler_name", h.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.logger.Error("Async dispatch after close dropped", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	for _, h := range d.handlers(evt.Type) {
		d.inflight.Add(1)
		go func(h HandlerInfo) {
			defer d.inflight.Done()

			if err := d.slots.Acquire(ctx, 1); err != nil {
				d.logger.Error("Async handler skipped", "handler_name", h.Name, "event_id", evt.ID, "error", err)
				return
			}
			defer d.slots.Release(1)

			if err := d.invoke(ctx, evt, h); err != nil {
				d.logger.Error("Async handler failed",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(h)
	}
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	list := d.handlers(eventType)
	out := make([]HandlerInfo, len(list))
	for i, h := range list {
		out[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return out
}

func (d *eventDispatcher) Close() error {
	if d.closed.Swap(true) {
		return fmt.Errorf("dispatcher already closed")
	}
	d.inflight.Wait()
	d.logger.Info("Dispatcher closed")
	return nil
}

// invoke runs one handler under the configured timeout and turns a panic
// into an error
func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, h HandlerInfo) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handler(ctx, evt)
}
