package entity

import "time"

// Letter is a document moving through the approval chain
type Letter struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	SubmitterID string `json:"submitter_id"`

	// Steps is fixed at submission; CurrentStepIndex is nil once no step is active
	Steps            []WorkflowStep `json:"steps"`
	CurrentStepIndex *int           `json:"current_step_index"`
	Status           Status         `json:"status"`

	// CurrentApproverID is a cached copy of CurrentApprover(), written on every transition
	CurrentApproverID string `json:"current_approver_id,omitempty"`

	RejectionReason string            `json:"rejection_reason,omitempty"`
	Signatures      []SignatureRecord `json:"signatures,omitempty"`
	LastReminderAt  *time.Time        `json:"last_reminder_at,omitempty"`

	// Version increases by one on every committed transition; reminders leave it alone
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowStep is one stage of the approval chain
type WorkflowStep struct {
	Position    int        `json:"position"`
	Kind        StepKind   `json:"kind"`
	ApproverID  string     `json:"approver_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsResolved reports whether an approver is bound to the step
func (s WorkflowStep) IsResolved() bool {
	return s.ApproverID != ""
}

// IsCompleted reports whether the step has been approved
func (s WorkflowStep) IsCompleted() bool {
	return s.CompletedAt != nil
}

// SignatureRecord is appended on each approval and on the final signature
type SignatureRecord struct {
	ApproverID   string    `json:"approver_id"`
	ApproverName string    `json:"approver_name"`
	Designation  string    `json:"designation,omitempty"`
	StepKind     StepKind  `json:"step_kind,omitempty"`
	Image        []byte    `json:"-"`
	IsFinal      bool      `json:"is_final"`
	SignedAt     time.Time `json:"signed_at"`
}

// CurrentStep returns the active step, or nil when none is active
func (l *Letter) CurrentStep() *WorkflowStep {
	if l.CurrentStepIndex == nil {
		return nil
	}
	idx := *l.CurrentStepIndex
	if idx < 0 || idx >= len(l.Steps) {
		return nil
	}
	return &l.Steps[idx]
}

// LastStep returns the final step of the chain, or nil for an empty chain
func (l *Letter) LastStep() *WorkflowStep {
	if len(l.Steps) == 0 {
		return nil
	}
	return &l.Steps[len(l.Steps)-1]
}

// IsLastStep reports whether the active step is the final one
func (l *Letter) IsLastStep() bool {
	return l.CurrentStepIndex != nil && *l.CurrentStepIndex == len(l.Steps)-1
}

// CurrentApprover derives the approver expected to act next from the step
// sequence. Approved and signed letters report the final step's approver.
func (l *Letter) CurrentApprover() string {
	switch l.Status {
	case StatusPending:
		if step := l.CurrentStep(); step != nil {
			return step.ApproverID
		}
	case StatusApproved, StatusSigned:
		if step := l.LastStep(); step != nil {
			return step.ApproverID
		}
	}
	return ""
}

// ApproverIDs returns every bound approver in chain order
func (l *Letter) ApproverIDs() []string {
	ids := make([]string, 0, len(l.Steps))
	for _, s := range l.Steps {
		if s.ApproverID != "" {
			ids = append(ids, s.ApproverID)
		}
	}
	return ids
}

// HasDecided reports whether actorID has already approved a step of the letter
func (l *Letter) HasDecided(actorID string) bool {
	for _, s := range l.Signatures {
		if !s.IsFinal && s.ApproverID == actorID {
			return true
		}
	}
	return false
}

// FinalSignature returns the signature record written by Sign, if any
func (l *Letter) FinalSignature() *SignatureRecord {
	for i := len(l.Signatures) - 1; i >= 0; i-- {
		if l.Signatures[i].IsFinal {
			return &l.Signatures[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching the original
func (l *Letter) Clone() *Letter {
	if l == nil {
		return nil
	}
	c := *l
	c.Steps = make([]WorkflowStep, len(l.Steps))
	for i, s := range l.Steps {
		c.Steps[i] = s
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			c.Steps[i].CompletedAt = &t
		}
	}
	if l.CurrentStepIndex != nil {
		idx := *l.CurrentStepIndex
		c.CurrentStepIndex = &idx
	}
	if l.LastReminderAt != nil {
		t := *l.LastReminderAt
		c.LastReminderAt = &t
	}
	c.Signatures = make([]SignatureRecord, len(l.Signatures))
	for i, s := range l.Signatures {
		c.Signatures[i] = s
		if s.Image != nil {
			c.Signatures[i].Image = append([]byte(nil), s.Image...)
		}
	}
	return &c
}

// IntPtr is a small helper for step indexes
func IntPtr(i int) *int {
	return &i
}
