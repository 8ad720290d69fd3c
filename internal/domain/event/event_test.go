package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_IsValid(t *testing.T) {
	for _, typ := range AllTypes {
		assert.True(t, typ.IsValid(), typ.String())
	}
	assert.False(t, Type("instance.created").IsValid())
	assert.False(t, TypeLetterReminder.ChangesState())
	assert.True(t, TypeLetterSigned.ChangesState())
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	evt := NewEvent(TypeLetterAdvanced, "L1", "PENDING", "M", 2, at)

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, evt.ID, evt.CorrelationID)
	assert.Equal(t, int64(2), evt.Version)
	assert.Equal(t, at, evt.Timestamp)
	assert.NotNil(t, evt.Payload)

	other := NewEvent(TypeLetterAdvanced, "L1", "PENDING", "M", 2, at)
	assert.NotEqual(t, evt.ID, other.ID)
}

func TestEvent_WithPayloadIsImmutable(t *testing.T) {
	evt := NewEvent(TypeLetterSubmitted, "L1", "PENDING", "S", 1, time.Now())
	next := evt.WithPayload(PayloadSubmitterID, "S").WithStepKind("mentor")

	assert.Empty(t, evt.GetPayloadString(PayloadSubmitterID))
	assert.Empty(t, evt.StepKind)
	assert.Equal(t, "S", next.GetPayloadString(PayloadSubmitterID))
	assert.Equal(t, "mentor", next.StepKind)
	assert.Equal(t, evt.ID, next.ID)
}

func TestEvent_GetPayloadStringsAfterJSON(t *testing.T) {
	evt := NewEvent(TypeLetterSubmitted, "L1", "PENDING", "S", 1, time.Now()).
		WithPayload(PayloadApproverIDs, []string{"M", "H"})
	assert.Equal(t, []string{"M", "H"}, evt.GetPayloadStrings(PayloadApproverIDs))

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []string{"M", "H"}, decoded.GetPayloadStrings(PayloadApproverIDs))
	assert.Nil(t, decoded.GetPayloadStrings("missing"))
}
