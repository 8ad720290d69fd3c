package watch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// Source is what the watcher needs from the server
type Source interface {
	FetchLetter(ctx context.Context, letterID string) (*notify.Snapshot, error)
	Tracked(ctx context.Context) ([]notify.Snapshot, error)
	Subscribe(ctx context.Context, handle func(*event.Event)) error
}

// Config tunes the watcher loops
type Config struct {
	// PollInterval is the period of the full HTTP resync, which also
	// flushes refreshes held back by the cooldown
	PollInterval time.Duration
	// ReconnectDelay is the pause before redialing a dropped websocket
	ReconnectDelay time.Duration
}

// Watcher keeps a reconciler current from both the event stream and polling
type Watcher struct {
	src    Source
	rec    *notify.Reconciler
	cfg    Config
	logger *zap.Logger
}

// NewWatcher creates a watcher feeding rec
func NewWatcher(src Source, rec *notify.Reconciler, cfg Config, logger *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{src: src, rec: rec, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.subscribeLoop(ctx) })
	g.Go(func() error { return w.pollLoop(ctx) })
	return g.Wait()
}

func (w *Watcher) subscribeLoop(ctx context.Context) error {
	for {
		err := w.src.Subscribe(ctx, func(evt *event.Event) {
			if _, err := w.rec.HandleEvent(ctx, evt); err != nil {
				w.logger.Warn("Refresh after event failed",
					zap.String("letter_id", evt.LetterID),
					zap.Error(err))
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("Event stream interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("delay", w.cfg.ReconnectDelay))

		// Events missed while disconnected are picked up by the next poll
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.Sync(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sync runs one full resync: every tracked letter is observed, then
// letters held back by the cooldown are refreshed.
func (w *Watcher) Sync(ctx context.Context) {
	snaps, err := w.src.Tracked(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Poll failed", zap.Error(err))
		}
		return
	}
	for i := range snaps {
		w.rec.Observe(&snaps[i])
	}
	if err := w.rec.Flush(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("Flush failed", zap.Error(err))
	}
}
