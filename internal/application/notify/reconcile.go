package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/garyjia/letter-approval/internal/domain/event"
)

// Snapshot is the authoritative state of a letter as read back from the server
type Snapshot struct {
	LetterID string `json:"id"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

// Fetcher reads the current state of a letter
type Fetcher func(ctx context.Context, letterID string) (*Snapshot, error)

// Reconciler keeps a subscriber's view of letters at the latest known
// version. Events are only hints: a fetched snapshot always wins, events at
// or below the known version are dropped as duplicates or stale deliveries,
// and events caused by the local actor are skipped because the caller
// already holds the response of its own action.
type Reconciler struct {
	self     string
	fetch    Fetcher
	cooldown time.Duration
	now      func() time.Time
	onChange func(*Snapshot)

	mu          sync.Mutex
	known       map[string]int64
	lastRefresh map[string]time.Time
	dirty       map[string]bool

	group singleflight.Group
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithCooldown sets the minimum gap between two refreshes of the same
// letter. Events inside the window mark the letter dirty for Flush.
func WithCooldown(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.cooldown = d
	}
}

// WithReconcilerClock replaces time.Now
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithOnChange is called whenever a newer snapshot is accepted
func WithOnChange(fn func(*Snapshot)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onChange = fn
	}
}

// NewReconciler creates a reconciler acting for the local actor self
func NewReconciler(self string, fetch Fetcher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		self:        self,
		fetch:       fetch,
		now:         time.Now,
		known:       make(map[string]int64),
		lastRefresh: make(map[string]time.Time),
		dirty:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent decides whether evt warrants a refresh and performs it.
// It reports whether a newer snapshot was accepted.
func (r *Reconciler) HandleEvent(ctx context.Context, evt *event.Event) (bool, error) {
	if evt == nil || evt.LetterID == "" {
		return false, nil
	}

	r.mu.Lock()
	if evt.Version <= r.known[evt.LetterID] {
		r.mu.Unlock()
		return false, nil
	}
	if r.self != "" && evt.ActorID == r.self {
		r.mu.Unlock()
		return false, nil
	}
	if last, ok := r.lastRefresh[evt.LetterID]; ok && r.cooldown > 0 && r.now().Sub(last) < r.cooldown {
		r.dirty[evt.LetterID] = true
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	return r.Refresh(ctx, evt.LetterID)
}

// Refresh fetches the letter now. Concurrent refreshes of one letter share
// a single fetch.
func (r *Reconciler) Refresh(ctx context.Context, letterID string) (bool, error) {
	v, err, _ := r.group.Do(letterID, func() (interface{}, error) {
		r.mu.Lock()
		r.lastRefresh[letterID] = r.now()
		delete(r.dirty, letterID)
		r.mu.Unlock()

		return r.fetch(ctx, letterID)
	})
	if err != nil {
		return false, err
	}

	snap, _ := v.(*Snapshot)
	return r.Observe(snap), nil
}

// Observe records a snapshot obtained any other way, such as a poll or the
// response to the local actor's own call. Older snapshots are ignored.
func (r *Reconciler) Observe(snap *Snapshot) bool {
	if snap == nil || snap.LetterID == "" {
		return false
	}

	r.mu.Lock()
	if snap.Version <= r.known[snap.LetterID] {
		r.mu.Unlock()
		return false
	}
	r.known[snap.LetterID] = snap.Version
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(snap)
	}
	return true
}

// Flush refreshes every letter whose events were held back by the cooldown
func (r *Reconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := r.Refresh(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Known returns the latest accepted version of a letter, 0 if none
func (r *Reconciler) Known(letterID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[letterID]
}
