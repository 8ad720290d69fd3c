package event

// Type identifies the type of domain event
type Type string

const (
	TypeLetterSubmitted Type = "letter.submitted"
	TypeLetterAdvanced  Type = "letter.advanced"
	TypeLetterApproved  Type = "letter.approved"
	TypeLetterRejected  Type = "letter.rejected"
	TypeLetterSigned    Type = "letter.signed"
	TypeLetterReminder  Type = "letter.reminder"
)

// AllTypes lists every letter event type in lifecycle order
var AllTypes = []Type{
	TypeLetterSubmitted,
	TypeLetterAdvanced,
	TypeLetterApproved,
	TypeLetterRejected,
	TypeLetterSigned,
	TypeLetterReminder,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ChangesState reports whether the event follows a committed status or step change.
// Reminders leave the letter untouched.
func (t Type) ChangesState() bool {
	return t.IsValid() && t != TypeLetterReminder
}
