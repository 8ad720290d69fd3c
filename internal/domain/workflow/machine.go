package workflow

// Machine binds a Definition to one subject and tracks its current state
type Machine[T any] struct {
	def     *Definition[T]
	subject T
	state   State
}

// NewMachine positions a machine for subject at state
func NewMachine[T any](def *Definition[T], subject T, state State) *Machine[T] {
	return &Machine[T]{def: def, subject: subject, state: state}
}

// State returns the current state
func (m *Machine[T]) State() State {
	return m.state
}

// CanFire reports whether trigger is configured for the current state.
// Guards are not evaluated.
func (m *Machine[T]) CanFire(trigger Trigger) bool {
	return len(m.def.edges[m.state][trigger]) > 0
}

// Fire applies trigger. On error the state is unchanged.
func (m *Machine[T]) Fire(trigger Trigger) (Transition, error) {
	t, err := m.def.Fire(m.subject, m.state, trigger)
	if err != nil {
		return Transition{}, err
	}
	m.state = t.To
	return t, nil
}

// PermittedTriggers lists the triggers configured for the current state
func (m *Machine[T]) PermittedTriggers() []Trigger {
	return m.def.Permitted(m.state)
}
