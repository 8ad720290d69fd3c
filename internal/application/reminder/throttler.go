// Package reminder lets a submitter nudge the current approver at most once
// per interval.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/letter-approval/internal/application/authz"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/application/workflow"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// DefaultInterval is the minimum gap between two reminders for one letter
const DefaultInterval = 24 * time.Hour

// Result describes a reminder that was let through
type Result struct {
	LetterID      string    `json:"letter_id"`
	RecipientID   string    `json:"recipient_id"`
	SentAt        time.Time `json:"sent_at"`
	NextAllowedAt time.Time `json:"next_allowed_at"`
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Throttler gates reminders. The check and the timestamp update happen under
// the letter lock and are repeated as a conditional UPDATE, so two racing
// callers cannot both pass.
type Throttler struct {
	letters   port.LetterRepository
	actors    port.ActorRepository
	evaluator *authz.Evaluator
	locker    *workflow.Locker
	notifier  workflow.Notifier
	logger    Logger

	interval time.Duration
	now      func() time.Time
}

// Option configures the throttler
type Option func(*Throttler)

// WithInterval overrides DefaultInterval
func WithInterval(d time.Duration) Option {
	return func(t *Throttler) {
		t.interval = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) {
		t.now = now
	}
}

// WithNotifier sets where reminder events go
func WithNotifier(n workflow.Notifier) Option {
	return func(t *Throttler) {
		t.notifier = n
	}
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(t *Throttler) {
		t.logger = l
	}
}

// NewThrottler creates a throttler. locker should be the engine's so
// reminders serialize with transitions on the same letter.
func NewThrottler(letters port.LetterRepository, actors port.ActorRepository, evaluator *authz.Evaluator, locker *workflow.Locker, opts ...Option) *Throttler {
	t := &Throttler{
		letters:   letters,
		actors:    actors,
		evaluator: evaluator,
		locker:    locker,
		interval:  DefaultInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TryRemind records a reminder if the letter is pending and the previous
// reminder is older than the interval. Throttled calls return a RateLimit
// error carrying the remaining wait.
func (t *Throttler) TryRemind(ctx context.Context, letterID, actorID, message string) (*Result, error) {
	const op = "reminder.TryRemind"

	unlock := t.locker.Lock(letterID)
	defer unlock()

	letter, err := t.letters.GetByID(ctx, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return nil, apperr.NotFound(op, "letter %s not found", letterID)
	}
	if letter.Status != entity.StatusPending {
		return nil, apperr.State(op, "letter %s is %s, reminders need a pending letter", letter.ID, letter.Status)
	}

	actor, err := t.actors.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	if !t.evaluator.CanRemind(letter, actor) {
		return nil, apperr.Authorization(op, "only the submitter or an admin may send reminders")
	}

	now := t.now().UTC()
	if wait := t.remaining(letter.LastReminderAt, now); wait > 0 {
		return nil, apperr.RateLimited(op, wait)
	}

	ok, err := t.letters.TouchReminder(ctx, letter.ID, now, now.Add(-t.interval))
	if err != nil {
		return nil, fmt.Errorf("failed to record reminder: %w", err)
	}
	if !ok {
		// another process recorded one first
		return nil, apperr.RateLimited(op, t.interval)
	}

	recipient := letter.CurrentApprover()
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Reminder: letter %q is waiting for your approval", letter.Title)
	}

	if t.notifier != nil {
		evt := event.NewEvent(event.TypeLetterReminder, letter.ID, letter.Status.String(), actorID, letter.Version, now).
			WithPayload(event.PayloadSubmitterID, letter.SubmitterID).
			WithPayload(event.PayloadRecipientID, recipient).
			WithPayload(event.PayloadMessage, message).
			WithPayload(event.PayloadTitle, letter.Title)
		if step := letter.CurrentStep(); step != nil {
			evt = evt.WithStepKind(string(step.Kind))
		}
		if !t.notifier.Notify(evt) && t.logger != nil {
			t.logger.Error("Reminder event dropped", "letter_id", letter.ID)
		}
	}

	if t.logger != nil {
		t.logger.Info("Reminder sent",
			"letter_id", letter.ID,
			"actor_id", actorID,
			"recipient_id", recipient,
		)
	}

	return &Result{
		LetterID:      letter.ID,
		RecipientID:   recipient,
		SentAt:        now,
		NextAllowedAt: now.Add(t.interval),
	}, nil
}

// remaining returns how long until a reminder is allowed again, or zero.
// A reminder needs strictly more than interval since the last one.
func (t *Throttler) remaining(last *time.Time, now time.Time) time.Duration {
	if last == nil {
		return 0
	}
	elapsed := now.Sub(*last)
	if elapsed > t.interval {
		return 0
	}
	wait := t.interval - elapsed
	if wait <= 0 {
		// exactly at the boundary
		wait = time.Nanosecond
	}
	return wait
}
