package workflow

import (
	"context"

	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/domain/event"
)

// SubmitRequest carries a new letter from its submitter
type SubmitRequest struct {
	SubmitterID string
	Title       string
	Body        string
}

// Engine drives letters through the approval chain. Every call either
// commits a single transition together with its history record or leaves
// the letter untouched.
type Engine interface {
	// Submit resolves the approver chain and creates a pending letter
	Submit(ctx context.Context, req SubmitRequest) (*entity.Letter, error)

	// Approve completes the current step, advancing or finishing the chain
	Approve(ctx context.Context, letterID, actorID, comment string, opts ...DecisionOption) (*entity.Letter, error)

	// Reject ends the chain with a reason
	Reject(ctx context.Context, letterID, actorID, reason string, opts ...DecisionOption) (*entity.Letter, error)

	// Sign applies the final signature to an approved letter. The image is
	// base64, optionally as a data URL, and is only decoded once the letter
	// is known to be signable. Empty falls back to the actor's stored signature.
	Sign(ctx context.Context, letterID, actorID, signatureImage string) (*entity.Letter, error)
}

// Notifier receives committed events. Notify reports whether the event was accepted.
type Notifier interface {
	Notify(evt *event.Event) bool
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DecisionOption adjusts a single approve or reject call
type DecisionOption func(*Decision)

// Decision holds the per-call settings of an approve or reject
type Decision struct {
	// ExpectedVersion, when non-zero, must equal the stored letter version
	ExpectedVersion int64
}

// IfVersion makes the decision conditional on the letter still being at
// version v. An actor who already decided on the letter must pass it to act
// again, so a retried or duplicated request cannot advance a second step.
func IfVersion(v int64) DecisionOption {
	return func(d *Decision) {
		d.ExpectedVersion = v
	}
}

// NewDecision applies opts to a zero Decision
func NewDecision(opts ...DecisionOption) Decision {
	var d Decision
	for _, opt := range opts {
		opt(&d)
	}
	return d
}
