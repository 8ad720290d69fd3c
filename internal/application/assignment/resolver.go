// Package assignment binds approvers to workflow steps at submission time.
package assignment

import (
	"context"
	"fmt"

	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// Source says where a rule looks for its approver
type Source string

const (
	// SourceMentor uses the submitter's own mentor
	SourceMentor Source = "mentor"
	// SourceDepartment looks for a designation holder in the submitter's department
	SourceDepartment Source = "department"
	// SourceGlobal looks for a designation holder anywhere
	SourceGlobal Source = "global"
)

// Rule resolves one step kind
type Rule struct {
	Kind        entity.StepKind `mapstructure:"kind"`
	Source      Source          `mapstructure:"source"`
	Designation string          `mapstructure:"designation"`
}

// DefaultRules is mentor, then department head, then dean
func DefaultRules() []Rule {
	return []Rule{
		{Kind: entity.StepKindMentor, Source: SourceMentor},
		{Kind: entity.StepKindHOD, Source: SourceDepartment, Designation: "hod"},
		{Kind: entity.StepKindDean, Source: SourceGlobal, Designation: "dean"},
	}
}

// ValidateRules rejects rule lists the resolver cannot evaluate
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("at least one assignment rule is required")
	}
	seen := make(map[entity.StepKind]bool, len(rules))
	for i, r := range rules {
		if r.Kind == "" {
			return fmt.Errorf("rule %d: kind is required", i)
		}
		if seen[r.Kind] {
			return fmt.Errorf("rule %d: duplicate kind %q", i, r.Kind)
		}
		seen[r.Kind] = true

		switch r.Source {
		case SourceMentor:
		case SourceDepartment, SourceGlobal:
			if r.Designation == "" {
				return fmt.Errorf("rule %d (%s): designation is required for source %q", i, r.Kind, r.Source)
			}
		default:
			return fmt.Errorf("rule %d (%s): unknown source %q", i, r.Kind, r.Source)
		}
	}
	return nil
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Resolver computes the ordered step sequence for a new letter
type Resolver struct {
	actors port.ActorRepository
	rules  []Rule
	logger Logger
}

// NewResolver creates a resolver evaluating rules in order
func NewResolver(actors port.ActorRepository, rules []Rule, logger Logger) *Resolver {
	return &Resolver{
		actors: actors,
		rules:  append([]Rule(nil), rules...),
		logger: logger,
	}
}

// Resolve returns one step per rule that yields an approver. Kinds without
// an approver are left out; an empty result is an AssignmentError.
func (r *Resolver) Resolve(ctx context.Context, submitter *entity.Actor) ([]entity.WorkflowStep, error) {
	const op = "assignment.Resolve"

	if submitter == nil {
		return nil, apperr.Validation(op, "submitter is required")
	}

	steps := make([]entity.WorkflowStep, 0, len(r.rules))
	for _, rule := range r.rules {
		approver, err := r.lookup(ctx, rule, submitter)
		if err != nil {
			return nil, fmt.Errorf("resolve %s approver: %w", rule.Kind, err)
		}
		if approver == nil || approver.ID == submitter.ID {
			if r.logger != nil {
				r.logger.Info("Step kind omitted, no approver",
					"submitter_id", submitter.ID,
					"step_kind", rule.Kind,
				)
			}
			continue
		}

		steps = append(steps, entity.WorkflowStep{
			Position:   len(steps),
			Kind:       rule.Kind,
			ApproverID: approver.ID,
		})
	}

	if len(steps) == 0 {
		return nil, apperr.Assignment(op, "no approver could be resolved for submitter %s", submitter.ID)
	}
	return steps, nil
}

func (r *Resolver) lookup(ctx context.Context, rule Rule, submitter *entity.Actor) (*entity.Actor, error) {
	switch rule.Source {
	case SourceMentor:
		if submitter.MentorID == "" {
			return nil, nil
		}
		return r.actors.GetByID(ctx, submitter.MentorID)
	case SourceDepartment:
		if submitter.Department == "" {
			return nil, nil
		}
		return r.actors.FindByDesignation(ctx, submitter.Department, rule.Designation)
	case SourceGlobal:
		return r.actors.FindByDesignation(ctx, "", rule.Designation)
	}
	return nil, fmt.Errorf("unknown source %q", rule.Source)
}
