package workflow

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/letter-approval/internal/application/authz"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/domain/event"
	domainwf "github.com/garyjia/letter-approval/internal/domain/workflow"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	letters  *fakeLetterRepo
	history  *fakeHistoryRepo
	actors   *fakeActorRepo
	notifier *recordingNotifier
	engine   Engine
}

func newHarness(opts ...EngineOption) *harness {
	h := &harness{
		letters: newFakeLetterRepo(),
		history: &fakeHistoryRepo{},
		actors: &fakeActorRepo{actors: map[string]*entity.Actor{
			"S": {ID: "S", Name: "Student", Role: entity.RoleStudent},
			"M": {ID: "M", Name: "Mentor", Role: entity.RoleFaculty, SignatureImage: testPNG()},
			"H": {ID: "H", Name: "Head", Role: entity.RoleFaculty, Designation: "hod"},
			"D": {ID: "D", Name: "Dean", Role: entity.RoleFaculty, Designation: "dean", SignatureImage: testPNG()},
			"A": {ID: "A", Name: "Admin", Role: entity.RoleAdmin},
		}},
		notifier: &recordingNotifier{},
	}

	resolver := &stubResolver{steps: []entity.WorkflowStep{
		{Position: 0, Kind: entity.StepKindMentor, ApproverID: "M"},
		{Position: 1, Kind: entity.StepKindHOD, ApproverID: "H"},
		{Position: 2, Kind: entity.StepKindDean, ApproverID: "D"},
	}}

	base := []EngineOption{
		WithNotifier(h.notifier),
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() string { return "L1" }),
	}
	h.engine = NewEngine(h.letters, h.history, h.actors, fakeTxManager{}, resolver, authz.NewEvaluator(), append(base, opts...)...)
	return h
}

func (h *harness) submit(t *testing.T) *entity.Letter {
	t.Helper()
	l, err := h.engine.Submit(context.Background(), SubmitRequest{SubmitterID: "S", Title: "Leave request", Body: "Please grant leave."})
	require.NoError(t, err)
	return l
}

func TestBuildLetterStateMachine(t *testing.T) {
	l := &entity.Letter{
		Status:           entity.StatusPending,
		Steps:            make([]entity.WorkflowStep, 2),
		CurrentStepIndex: entity.IntPtr(0),
	}

	m := BuildLetterStateMachine(l)
	tr, err := m.Fire(domainwf.TriggerApprove)
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Equal(t, domainwf.StatePending, m.State())

	l.CurrentStepIndex = entity.IntPtr(1)
	m = BuildLetterStateMachine(l)
	tr, err = m.Fire(domainwf.TriggerApprove)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, tr.To)

	_, err = m.Fire(domainwf.TriggerSign)
	require.NoError(t, err)
	assert.True(t, m.State().IsTerminal())

	l.Status = entity.StatusRejected
	m = BuildLetterStateMachine(l)
	assert.Empty(t, m.PermittedTriggers())
}

func TestSubmit(t *testing.T) {
	h := newHarness()
	l := h.submit(t)

	assert.Equal(t, entity.StatusPending, l.Status)
	assert.Equal(t, 0, *l.CurrentStepIndex)
	assert.Equal(t, "M", l.CurrentApproverID)
	assert.Equal(t, int64(1), l.Version)

	hist, _ := h.history.GetByLetterID(context.Background(), "L1")
	require.Len(t, hist, 1)
	assert.Equal(t, entity.ActionSubmit, hist[0].Action)

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeLetterSubmitted, events[0].Type)
	assert.Equal(t, []string{"M", "H", "D"}, events[0].GetPayloadStrings(event.PayloadApproverIDs))
}

func TestSubmit_Errors(t *testing.T) {
	h := newHarness()

	_, err := h.engine.Submit(context.Background(), SubmitRequest{SubmitterID: "S", Title: " ", Body: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.engine.Submit(context.Background(), SubmitRequest{SubmitterID: "ghost", Title: "t", Body: "b"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	h2 := newHarness()
	h2.engine = NewEngine(h2.letters, h2.history, h2.actors, fakeTxManager{},
		&stubResolver{err: apperr.Assignment("test", "none")}, authz.NewEvaluator())
	_, err = h2.engine.Submit(context.Background(), SubmitRequest{SubmitterID: "S", Title: "t", Body: "b"})
	assert.ErrorIs(t, err, apperr.ErrAssignment)
	assert.Empty(t, h2.history.records)
}

// Scenario A: mentor approves, hod rejects, dean can no longer act
func TestScenarioA_ApproveThenReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	l, err := h.engine.Approve(ctx, "L1", "M", "")
	require.NoError(t, err)
	assert.Equal(t, 1, *l.CurrentStepIndex)
	assert.Equal(t, entity.StatusPending, l.Status)
	assert.Equal(t, "H", l.CurrentApprover())
	assert.Equal(t, "H", l.CurrentApproverID)
	require.Len(t, l.Signatures, 1)
	assert.NotEmpty(t, l.Signatures[0].Image)

	hist, _ := h.history.GetByLetterID(ctx, "L1")
	require.Len(t, hist, 2)
	assert.Equal(t, entity.StepKindMentor, hist[1].StepKind)
	assert.False(t, hist[1].IsFinalApproval)

	l, err = h.engine.Reject(ctx, "L1", "H", "Incomplete justification, please add dates")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, l.Status)
	assert.Nil(t, l.CurrentStepIndex)
	assert.Equal(t, "Incomplete justification, please add dates", l.RejectionReason)

	_, err = h.engine.Approve(ctx, "L1", "D", "")
	assert.ErrorIs(t, err, apperr.ErrState)

	hist, _ = h.history.GetByLetterID(ctx, "L1")
	assert.Len(t, hist, 3)
}

// Scenario B: full chain then final signature
func TestScenarioB_FullChainAndSign(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	for _, who := range []string{"M", "H", "D"} {
		_, err := h.engine.Approve(ctx, "L1", who, "ok")
		require.NoError(t, err, who)
	}

	l, err := h.letters.GetByID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, l.Status)
	assert.Nil(t, l.CurrentStepIndex)
	assert.Equal(t, "D", l.CurrentApprover())

	hist, _ := h.history.GetByLetterID(ctx, "L1")
	assert.True(t, hist[len(hist)-1].IsFinalApproval)

	l, err = h.engine.Sign(ctx, "L1", "D", "data:image/png;base64,"+testPNGBase64())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSigned, l.Status)
	final := l.FinalSignature()
	require.NotNil(t, final)
	assert.Equal(t, "D", final.ApproverID)
	assert.Equal(t, testPNG(), final.Image)

	_, err = h.engine.Sign(ctx, "L1", "D", testPNGBase64())
	assert.ErrorIs(t, err, apperr.ErrState)

	var types []event.Type
	var versions []int64
	for _, e := range h.notifier.all() {
		types = append(types, e.Type)
		versions = append(versions, e.Version)
	}
	assert.Equal(t, []event.Type{
		event.TypeLetterSubmitted,
		event.TypeLetterAdvanced,
		event.TypeLetterAdvanced,
		event.TypeLetterApproved,
		event.TypeLetterSigned,
	}, types)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, versions)
}

func TestApprove_ErrorPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		h := newHarness()
		_, err := h.engine.Approve(ctx, "nope", "M", "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("state before authorization", func(t *testing.T) {
		h := newHarness()
		h.submit(t)
		_, err := h.engine.Reject(ctx, "L1", "M", "not suitable at all")
		require.NoError(t, err)

		_, err = h.engine.Approve(ctx, "L1", "S", "")
		assert.ErrorIs(t, err, apperr.ErrState)
	})

	t.Run("assignment before authorization", func(t *testing.T) {
		h := newHarness()
		l := h.submit(t)
		l.Steps[0].ApproverID = ""
		h.letters.put(l)

		_, err := h.engine.Approve(ctx, "L1", "S", "")
		assert.ErrorIs(t, err, apperr.ErrAssignment)
	})

	t.Run("wrong actor", func(t *testing.T) {
		h := newHarness()
		h.submit(t)

		for _, who := range []string{"H", "D", "S", "ghost"} {
			_, err := h.engine.Approve(ctx, "L1", who, "")
			assert.ErrorIs(t, err, apperr.ErrAuthorization, who)
		}

		l, _ := h.letters.GetByID(ctx, "L1")
		assert.Equal(t, int64(1), l.Version)
	})
}

func TestApprove_AdminBypassesStepButNotState(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	l, err := h.engine.Approve(ctx, "L1", "A", "on behalf")
	require.NoError(t, err)
	assert.Equal(t, 1, *l.CurrentStepIndex)

	// acting again needs the version the admin saw
	_, err = h.engine.Reject(ctx, "L1", "A", "administrative rejection")
	assert.ErrorIs(t, err, apperr.ErrState)

	_, err = h.engine.Reject(ctx, "L1", "A", "administrative rejection", IfVersion(l.Version))
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, "L1", "A", "")
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestApprove_RepeatedDecisionIsStateError(t *testing.T) {
	ctx := context.Background()

	t.Run("bound approver", func(t *testing.T) {
		h := newHarness()
		h.submit(t)
		_, err := h.engine.Approve(ctx, "L1", "M", "")
		require.NoError(t, err)

		_, err = h.engine.Approve(ctx, "L1", "M", "")
		assert.ErrorIs(t, err, apperr.ErrState)
		_, err = h.engine.Reject(ctx, "L1", "M", "changed my mind after all")
		assert.ErrorIs(t, err, apperr.ErrState)

		l, _ := h.letters.GetByID(ctx, "L1")
		hist, _ := h.history.GetByLetterID(ctx, "L1")
		assert.Equal(t, int64(2), l.Version)
		assert.Equal(t, 1, *l.CurrentStepIndex)
		assert.Len(t, hist, 2)
	})

	t.Run("admin", func(t *testing.T) {
		h := newHarness()
		h.submit(t)
		l, err := h.engine.Approve(ctx, "L1", "A", "")
		require.NoError(t, err)

		_, err = h.engine.Approve(ctx, "L1", "A", "")
		assert.ErrorIs(t, err, apperr.ErrState)

		// a stale version is refused too
		_, err = h.engine.Approve(ctx, "L1", "A", "", IfVersion(l.Version-1))
		assert.ErrorIs(t, err, apperr.ErrState)

		l, err = h.engine.Approve(ctx, "L1", "A", "", IfVersion(l.Version))
		require.NoError(t, err)
		assert.Equal(t, 2, *l.CurrentStepIndex)
	})

	t.Run("actor bound to the next step too", func(t *testing.T) {
		h := newHarness()
		l := h.submit(t)
		l.Steps[1].ApproverID = "M"
		h.letters.put(l)

		_, err := h.engine.Approve(ctx, "L1", "M", "")
		require.NoError(t, err)
		l, err = h.engine.Approve(ctx, "L1", "M", "")
		require.NoError(t, err)
		assert.Equal(t, 2, *l.CurrentStepIndex)
	})
}

func TestDecisionsOnEndedLetters(t *testing.T) {
	ctx := context.Background()

	approveAll := func(t *testing.T, h *harness) {
		for _, who := range []string{"M", "H", "D"} {
			_, err := h.engine.Approve(ctx, "L1", who, "")
			require.NoError(t, err)
		}
	}

	tests := []struct {
		name  string
		drive func(t *testing.T, h *harness)
	}{
		{"approved", approveAll},
		{"signed", func(t *testing.T, h *harness) {
			approveAll(t, h)
			_, err := h.engine.Sign(ctx, "L1", "D", "")
			require.NoError(t, err)
		}},
		{"rejected", func(t *testing.T, h *harness) {
			_, err := h.engine.Reject(ctx, "L1", "M", "missing supporting documents")
			require.NoError(t, err)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.submit(t)
			tt.drive(t, h)

			before, _ := h.letters.GetByID(ctx, "L1")
			histBefore, _ := h.history.GetByLetterID(ctx, "L1")

			for _, who := range []string{"D", "A", "H"} {
				_, err := h.engine.Approve(ctx, "L1", who, "")
				assert.ErrorIs(t, err, apperr.ErrState, "approve by %s", who)
				_, err = h.engine.Approve(ctx, "L1", who, "", IfVersion(before.Version))
				assert.ErrorIs(t, err, apperr.ErrState, "conditional approve by %s", who)
				_, err = h.engine.Reject(ctx, "L1", who, "too late to reject this")
				assert.ErrorIs(t, err, apperr.ErrState, "reject by %s", who)
			}

			after, _ := h.letters.GetByID(ctx, "L1")
			histAfter, _ := h.history.GetByLetterID(ctx, "L1")
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, before.Status, after.Status)
			assert.Len(t, histAfter, len(histBefore))
		})
	}
}

func TestApprove_LegacyFallback(t *testing.T) {
	ctx := context.Background()

	setup := func(h *harness) {
		l := h.submit(t)
		l.Steps[0].ApproverID = ""
		l.CurrentApproverID = "M"
		h.letters.put(l)
	}

	h := newHarness()
	setup(h)
	_, err := h.engine.Approve(ctx, "L1", "M", "")
	assert.ErrorIs(t, err, apperr.ErrAssignment)

	h = newHarness()
	h.engine = NewEngine(h.letters, h.history, h.actors, fakeTxManager{},
		&stubResolver{steps: []entity.WorkflowStep{{Kind: entity.StepKindMentor, ApproverID: "M"}, {Position: 1, Kind: entity.StepKindDean, ApproverID: "D"}}},
		authz.NewEvaluator(authz.WithLegacyApproverFallback(true)),
		WithIDGenerator(func() string { return "L1" }))
	setup(h)
	l, err := h.engine.Approve(ctx, "L1", "M", "")
	require.NoError(t, err)
	assert.Equal(t, "D", l.CurrentApproverID)

	// a stale cache cannot hand the next step back to the previous approver
	l.CurrentApproverID = "M"
	h.letters.put(l)
	_, err = h.engine.Approve(ctx, "L1", "M", "")
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestReject_ReasonLength(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	_, err := h.engine.Reject(ctx, "L1", "M", "   too short   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// validation is checked before existence
	_, err = h.engine.Reject(ctx, "missing", "M", "short")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// nine multi-byte characters
	_, err = h.engine.Reject(ctx, "L1", "M", "ééééééééé")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	l, err := h.engine.Reject(ctx, "L1", "M", "éééééééééé")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, l.Status)
}

func TestReject_CustomMinLength(t *testing.T) {
	h := newHarness(WithMinReasonLength(3))
	h.submit(t)

	_, err := h.engine.Reject(context.Background(), "L1", "M", "bad")
	require.NoError(t, err)
}

func TestSign_Rules(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	_, err := h.engine.Sign(ctx, "L1", "D", "")
	assert.ErrorIs(t, err, apperr.ErrState, "pending letters cannot be signed")

	// the letter state is reported before a bad image
	junk := base64.StdEncoding.EncodeToString([]byte("junk"))
	_, err = h.engine.Sign(ctx, "L1", "D", junk)
	assert.ErrorIs(t, err, apperr.ErrState)
	_, err = h.engine.Sign(ctx, "L1", "D", "not base64!")
	assert.ErrorIs(t, err, apperr.ErrState)

	for _, who := range []string{"M", "H", "D"} {
		_, err := h.engine.Approve(ctx, "L1", who, "")
		require.NoError(t, err)
	}

	_, err = h.engine.Sign(ctx, "L1", "M", junk)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = h.engine.Sign(ctx, "L1", "D", junk)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.engine.Sign(ctx, "L1", "D", "not base64!")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	l, _ := h.letters.GetByID(ctx, "L1")
	assert.Equal(t, entity.StatusApproved, l.Status)

	l, err = h.engine.Sign(ctx, "L1", "D", "")
	require.NoError(t, err)
	assert.Equal(t, testPNG(), l.FinalSignature().Image, "stored signature is used when none is supplied")
}

func TestSign_AdminMaySign(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)
	for _, who := range []string{"M", "H", "D"} {
		_, err := h.engine.Approve(ctx, "L1", who, "")
		require.NoError(t, err)
	}

	l, err := h.engine.Sign(ctx, "L1", "A", "")
	require.NoError(t, err)
	assert.Equal(t, "A", l.FinalSignature().ApproverID)
	assert.Empty(t, l.FinalSignature().Image)
}

func TestConcurrentApprove_ExactlyOneWins(t *testing.T) {
	for _, who := range []string{"M", "A"} {
		t.Run(who, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness()
			h.submit(t)

			// a second engine over the same store stands in for another process
			other := NewEngine(h.letters, h.history, h.actors, fakeTxManager{}, &stubResolver{}, authz.NewEvaluator())
			engines := []Engine{h.engine, other}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				failures  []error
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := engines[i%2].Approve(ctx, "L1", who, "")
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
						return
					}
					failures = append(failures, err)
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			require.Len(t, failures, 19)
			for _, err := range failures {
				assert.ErrorIs(t, err, apperr.ErrState)
			}

			l, _ := h.letters.GetByID(ctx, "L1")
			assert.Equal(t, int64(2), l.Version)
			assert.Equal(t, 1, *l.CurrentStepIndex)
			assert.Equal(t, "H", l.CurrentApprover())

			hist, _ := h.history.GetByLetterID(ctx, "L1")
			assert.Len(t, hist, 2)
		})
	}
}

func TestConcurrentApproveAndReject_OneTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.engine.Reject(ctx, "L1", "M", "rejecting concurrently")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.engine.Approve(ctx, "L1", "M", "")
	}()
	wg.Wait()

	l, _ := h.letters.GetByID(ctx, "L1")
	if errs[0] == nil {
		assert.Equal(t, entity.StatusRejected, l.Status)
		assert.ErrorIs(t, errs[1], apperr.ErrState)
	} else {
		assert.ErrorIs(t, errs[0], apperr.ErrState)
		assert.NoError(t, errs[1])
		assert.Equal(t, 1, *l.CurrentStepIndex)
		assert.Equal(t, entity.StatusPending, l.Status)
	}
}

func TestInvariants_HistoryAndIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.submit(t)

	prevIdx := 0
	transitions := 0
	for _, who := range []string{"M", "H"} {
		l, err := h.engine.Approve(ctx, "L1", who, "")
		require.NoError(t, err)
		transitions++
		require.NotNil(t, l.CurrentStepIndex)
		assert.Greater(t, *l.CurrentStepIndex, prevIdx)
		assert.Less(t, *l.CurrentStepIndex, len(l.Steps))
		assert.Equal(t, l.Steps[*l.CurrentStepIndex].ApproverID, l.CurrentApprover())
		prevIdx = *l.CurrentStepIndex
	}

	// failed calls leave no trace
	_, _ = h.engine.Approve(ctx, "L1", "M", "")
	_, _ = h.engine.Reject(ctx, "L1", "D", "x")

	hist, _ := h.history.GetByLetterID(ctx, "L1")
	assert.Len(t, hist, transitions+1)
}

func TestNotifierOptional(t *testing.T) {
	h := newHarness()
	h.engine = NewEngine(h.letters, h.history, h.actors, fakeTxManager{},
		&stubResolver{steps: []entity.WorkflowStep{{Kind: entity.StepKindMentor, ApproverID: "M"}}},
		authz.NewEvaluator())

	l, err := h.engine.Submit(context.Background(), SubmitRequest{SubmitterID: "S", Title: "t", Body: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)
}
