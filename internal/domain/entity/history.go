package entity

import "time"

// ApprovalHistory is the append-only audit entry written for every transition
type ApprovalHistory struct {
	ID              int64     `json:"id"`
	LetterID        string    `json:"letter_id"`
	ActorID         string    `json:"actor_id"`
	Action          string    `json:"action"`
	Status          Status    `json:"status"`
	StepKind        StepKind  `json:"step_kind,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	IsFinalApproval bool      `json:"is_final_approval"`
	Timestamp       time.Time `json:"timestamp"`
}

// ArtifactRecord remembers an issued artifact so it can be verified later
type ArtifactRecord struct {
	DocumentID         string       `json:"document_id"`
	LetterID           string       `json:"letter_id"`
	Kind               ArtifactKind `json:"kind"`
	VerificationMarker string       `json:"verification_marker"`
	FilePath           string       `json:"file_path,omitempty"`
	GeneratedBy        string       `json:"generated_by"`
	GeneratedAt        time.Time    `json:"generated_at"`
}
