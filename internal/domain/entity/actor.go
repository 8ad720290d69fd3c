package entity

import "time"

// Actor is an identity supplied by the upstream identity provider.
// Organizational attributes are only read by assignment and authorization.
type Actor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Department     string    `json:"department,omitempty"`
	Designation    string    `json:"designation,omitempty"`
	MentorID       string    `json:"mentor_id,omitempty"`
	SignatureImage []byte    `json:"-"`
	LarkOpenID     string    `json:"lark_open_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsAdmin reports whether the actor carries the admin override
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}
