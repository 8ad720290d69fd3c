package workflow

import (
	"fmt"
	"sort"
)

// Guard inspects the subject of a transition. Guards must not mutate it.
type Guard[T any] func(subject T) bool

type edge[T any] struct {
	to    State
	guard Guard[T]
}

// Definition is an immutable transition table over subjects of type T.
// Build one at startup and share it; it is safe for concurrent use.
type Definition[T any] struct {
	edges map[State]map[Trigger][]edge[T]
}

// Builder assembles a Definition
type Builder[T any] struct {
	edges map[State]map[Trigger][]edge[T]
	errs  []error
}

// NewBuilder creates an empty builder
func NewBuilder[T any]() *Builder[T] {
	return &Builder[T]{edges: make(map[State]map[Trigger][]edge[T])}
}

// Permit allows trigger to move from one state to another unconditionally
func (b *Builder[T]) Permit(from State, trigger Trigger, to State) *Builder[T] {
	return b.PermitIf(from, trigger, to, nil)
}

// PermitIf allows the move when guard passes. Edges for the same trigger
// are tried in registration order and the first passing one wins.
func (b *Builder[T]) PermitIf(from State, trigger Trigger, to State, guard Guard[T]) *Builder[T] {
	switch {
	case !from.IsValid():
		b.errs = append(b.errs, fmt.Errorf("invalid source state %q", from))
		return b
	case !to.IsValid():
		b.errs = append(b.errs, fmt.Errorf("invalid target state %q", to))
		return b
	case !trigger.IsValid():
		b.errs = append(b.errs, fmt.Errorf("invalid trigger %q", trigger))
		return b
	case from.IsTerminal():
		b.errs = append(b.errs, fmt.Errorf("terminal state %s cannot have outgoing transitions", from))
		return b
	}

	if b.edges[from] == nil {
		b.edges[from] = make(map[Trigger][]edge[T])
	}
	b.edges[from][trigger] = append(b.edges[from][trigger], edge[T]{to: to, guard: guard})
	return b
}

// Build validates the table and freezes it. Later builder calls do not
// affect the returned Definition.
func (b *Builder[T]) Build() (*Definition[T], error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	edges := make(map[State]map[Trigger][]edge[T], len(b.edges))
	for from, byTrigger := range b.edges {
		copied := make(map[Trigger][]edge[T], len(byTrigger))
		for trigger, list := range byTrigger {
			copied[trigger] = append([]edge[T](nil), list...)
		}
		edges[from] = copied
	}
	return &Definition[T]{edges: edges}, nil
}

// MustBuild is Build for package-level definitions
func (b *Builder[T]) MustBuild() *Definition[T] {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// Transition records one accepted Fire
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// Changed reports whether the state moved
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Fire resolves trigger against subject in state from. It never mutates
// anything; callers apply the returned Transition.
func (d *Definition[T]) Fire(subject T, from State, trigger Trigger) (Transition, error) {
	list := d.edges[from][trigger]
	if len(list) == 0 {
		return Transition{}, &TransitionError{From: from, Trigger: trigger, Err: ErrInvalidTransition}
	}

	for _, e := range list {
		if e.guard == nil || e.guard(subject) {
			return Transition{From: from, To: e.to, Trigger: trigger}, nil
		}
	}
	return Transition{}, &TransitionError{From: from, Trigger: trigger, Err: ErrGuardFailed}
}

// Permitted lists the triggers configured for state, sorted. Guards are not
// evaluated.
func (d *Definition[T]) Permitted(state State) []Trigger {
	triggers := make([]Trigger, 0, len(d.edges[state]))
	for t := range d.edges[state] {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
