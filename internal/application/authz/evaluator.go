// Package authz decides whether an actor may act on a letter's current step.
package authz

import (
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// Evaluator answers per-step authorization questions. It holds no state
// besides its configuration and is safe for concurrent use.
type Evaluator struct {
	legacyFallback bool
}

// Option configures the evaluator
type Option func(*Evaluator)

// WithLegacyApproverFallback also accepts an actor equal to the cached
// current_approver_id column, for rows migrated without resolved steps.
func WithLegacyApproverFallback(enabled bool) Option {
	return func(e *Evaluator) {
		e.legacyFallback = enabled
	}
}

// NewEvaluator creates an evaluator
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasAssignee reports whether someone is bound to act on the current step.
// With the legacy fallback a cached approver id counts as a binding.
func (e *Evaluator) HasAssignee(letter *entity.Letter) bool {
	if letter == nil {
		return false
	}
	if step := letter.CurrentStep(); step != nil && step.IsResolved() {
		return true
	}
	return e.legacyFallback && letter.CurrentApproverID != ""
}

// IsAuthorized reports whether actor may approve or reject the letter at its
// current step: an admin, then the step's bound approver, then, only with the
// legacy fallback on, the cached current approver. Status preconditions are
// not checked here.
func (e *Evaluator) IsAuthorized(letter *entity.Letter, actor *entity.Actor) bool {
	if letter == nil || actor == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}

	if step := letter.CurrentStep(); step != nil && step.IsResolved() && step.ApproverID == actor.ID {
		return true
	}

	return e.legacyFallback && letter.CurrentApproverID != "" && letter.CurrentApproverID == actor.ID
}

// CanSign reports whether actor may apply the final signature: the approver
// of the last step, or an admin.
func (e *Evaluator) CanSign(letter *entity.Letter, actor *entity.Actor) bool {
	if letter == nil || actor == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}

	if step := letter.LastStep(); step != nil && step.IsResolved() {
		return step.ApproverID == actor.ID
	}

	return e.legacyFallback && letter.CurrentApproverID != "" && letter.CurrentApproverID == actor.ID
}

// CanRemind reports whether actor may nudge the current approver
func (e *Evaluator) CanRemind(letter *entity.Letter, actor *entity.Actor) bool {
	if letter == nil || actor == nil {
		return false
	}
	return actor.IsAdmin() || letter.SubmitterID == actor.ID
}

// CanView reports whether actor may read the letter and its history:
// the submitter, any bound approver, or an admin.
func (e *Evaluator) CanView(letter *entity.Letter, actor *entity.Actor) bool {
	if letter == nil || actor == nil {
		return false
	}
	if actor.IsAdmin() || letter.SubmitterID == actor.ID {
		return true
	}
	for _, id := range letter.ApproverIDs() {
		if id == actor.ID {
			return true
		}
	}
	return false
}
