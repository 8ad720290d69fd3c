package entity

// Status is the lifecycle status of a letter
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusSigned   Status = "SIGNED"
)

// IsTerminal reports whether no further transition can leave the status
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusSigned
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSigned:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// StepKind tags a workflow step. Kinds are organization-defined; the
// constants below are the defaults.
type StepKind string

const (
	StepKindMentor StepKind = "mentor"
	StepKindHOD    StepKind = "hod"
	StepKindDean   StepKind = "dean"
)

// Role of an actor as reported by the identity provider
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

// History action constants
const (
	ActionSubmit  = "SUBMIT"
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
	ActionSign    = "SIGN"
)

// ArtifactKind selects the rendering of a letter artifact
type ArtifactKind string

const (
	ArtifactClean  ArtifactKind = "clean"
	ArtifactSigned ArtifactKind = "signed"
)

// IsValid reports whether k is a known artifact kind
func (k ArtifactKind) IsValid() bool {
	return k == ArtifactClean || k == ArtifactSigned
}
