package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a letter change notification. Version is the letter version after
// the change, so consumers can drop duplicates and out-of-order deliveries.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	LetterID      string                 `json:"letter_id"`
	Status        string                 `json:"status"`
	StepKind      string                 `json:"step_kind,omitempty"`
	ActorID       string                 `json:"actor_id"`
	Version       int64                  `json:"version"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// NewEvent creates a new letter event with a generated ID
func NewEvent(eventType Type, letterID, status, actorID string, version int64, at time.Time) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		LetterID:      letterID,
		Status:        status,
		ActorID:       actorID,
		Version:       version,
		Payload:       map[string]interface{}{},
		Timestamp:     at,
		CorrelationID: id,
	}
}

// WithStepKind returns a copy tagged with the step the event concerns
func (e *Event) WithStepKind(kind string) *Event {
	c := e.clone()
	c.StepKind = kind
	return c
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	c := e.clone()
	c.Payload[key] = value
	return c
}

// WithCorrelation returns a copy linked to an existing correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	c := e.clone()
	c.CorrelationID = correlationID
	return c
}

func (e *Event) clone() *Event {
	c := *e
	c.Payload = make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadStrings retrieves a string slice from the payload. JSON-decoded
// events carry []interface{}, which is converted.
func (e *Event) GetPayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Payload keys
const (
	PayloadSubmitterID = "submitter_id"
	PayloadApproverIDs = "approver_ids"
	PayloadRecipientID = "recipient_id"
	PayloadMessage     = "message"
	PayloadTitle       = "title"
)
