package workflow

// Trigger is an actor action that may move a letter
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerSign    Trigger = "SIGN"
)

// IsValid reports whether t is a known action
func (t Trigger) IsValid() bool {
	return t == TriggerApprove || t == TriggerReject || t == TriggerSign
}

func (t Trigger) String() string {
	return string(t)
}
