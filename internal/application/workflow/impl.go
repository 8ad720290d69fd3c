package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/garyjia/letter-approval/internal/application/authz"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/domain/event"
	domainwf "github.com/garyjia/letter-approval/internal/domain/workflow"
)

// DefaultMinReasonLength is the shortest accepted rejection reason, in characters
const DefaultMinReasonLength = 10

// Resolver computes a step sequence for a submitter
type Resolver interface {
	Resolve(ctx context.Context, submitter *entity.Actor) ([]entity.WorkflowStep, error)
}

type engineImpl struct {
	letterRepo  port.LetterRepository
	historyRepo port.HistoryRepository
	actorRepo   port.ActorRepository
	txManager   port.TransactionManager
	resolver    Resolver
	evaluator   *authz.Evaluator
	locker      *Locker

	notifier        Notifier
	logger          Logger
	now             func() time.Time
	newID           func() string
	minReasonLength int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithNotifier sets where committed events are sent
func WithNotifier(n Notifier) EngineOption {
	return func(e *engineImpl) {
		e.notifier = n
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithIDGenerator replaces the letter id source
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = newID
	}
}

// WithMinReasonLength sets the minimum rejection reason length
func WithMinReasonLength(n int) EngineOption {
	return func(e *engineImpl) {
		e.minReasonLength = n
	}
}

// WithLocker shares a keyed lock with other components mutating letters
func WithLocker(l *Locker) EngineOption {
	return func(e *engineImpl) {
		e.locker = l
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	letterRepo port.LetterRepository,
	historyRepo port.HistoryRepository,
	actorRepo port.ActorRepository,
	txManager port.TransactionManager,
	resolver Resolver,
	evaluator *authz.Evaluator,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		letterRepo:      letterRepo,
		historyRepo:     historyRepo,
		actorRepo:       actorRepo,
		txManager:       txManager,
		resolver:        resolver,
		evaluator:       evaluator,
		locker:          NewLocker(),
		now:             time.Now,
		newID:           uuid.NewString,
		minReasonLength: DefaultMinReasonLength,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Submit(ctx context.Context, req SubmitRequest) (*entity.Letter, error) {
	const op = "workflow.Submit"

	title := strings.TrimSpace(req.Title)
	body := strings.TrimSpace(req.Body)
	if title == "" {
		return nil, apperr.Validation(op, "title is required")
	}
	if body == "" {
		return nil, apperr.Validation(op, "body is required")
	}

	submitter, err := e.actorRepo.GetByID(ctx, req.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submitter: %w", err)
	}
	if submitter == nil {
		return nil, apperr.NotFound(op, "actor %s not found", req.SubmitterID)
	}

	steps, err := e.resolver.Resolve(ctx, submitter)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	letter := &entity.Letter{
		ID:               e.newID(),
		Title:            title,
		Body:             body,
		SubmitterID:      submitter.ID,
		Steps:            steps,
		CurrentStepIndex: entity.IntPtr(0),
		Status:           entity.StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	letter.CurrentApproverID = letter.CurrentApprover()

	unlock := e.locker.Lock(letter.ID)
	defer unlock()

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.letterRepo.Create(txCtx, letter); err != nil {
			return fmt.Errorf("failed to create letter: %w", err)
		}
		return e.historyRepo.Create(txCtx, &entity.ApprovalHistory{
			LetterID:  letter.ID,
			ActorID:   submitter.ID,
			Action:    entity.ActionSubmit,
			Status:    letter.Status,
			StepKind:  steps[0].Kind,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(letter, event.TypeLetterSubmitted, submitter.ID, steps[0].Kind)

	if e.logger != nil {
		e.logger.Info("Letter submitted",
			"letter_id", letter.ID,
			"submitter_id", submitter.ID,
			"steps", len(steps),
		)
	}
	return letter, nil
}

func (e *engineImpl) Approve(ctx context.Context, letterID, actorID, comment string, opts ...DecisionOption) (*entity.Letter, error) {
	const op = "workflow.Approve"
	d := NewDecision(opts...)

	unlock := e.locker.Lock(letterID)
	defer unlock()

	letter, actor, err := e.load(ctx, op, letterID, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.checkStepAction(op, letter, actor, d); err != nil {
		return nil, err
	}

	machine := BuildLetterStateMachine(letter)
	if _, err := machine.Fire(domainwf.TriggerApprove); err != nil {
		return nil, apperr.Wrap(apperr.KindState, op, err)
	}

	now := e.now().UTC()
	next := letter.Clone()
	step := next.CurrentStep()
	stepKind := step.Kind
	step.CompletedAt = &now

	next.Signatures = append(next.Signatures, entity.SignatureRecord{
		ApproverID:   actor.ID,
		ApproverName: actor.Name,
		Designation:  actor.Designation,
		StepKind:     stepKind,
		Image:        append([]byte(nil), actor.SignatureImage...),
		SignedAt:     now,
	})

	evtType := event.TypeLetterAdvanced
	final := machine.State() == domainwf.StateApproved
	if final {
		next.Status = entity.StatusApproved
		next.CurrentStepIndex = nil
		evtType = event.TypeLetterApproved
	} else {
		next.CurrentStepIndex = entity.IntPtr(*letter.CurrentStepIndex + 1)
	}

	history := &entity.ApprovalHistory{
		LetterID:        letter.ID,
		ActorID:         actor.ID,
		Action:          entity.ActionApprove,
		Status:          next.Status,
		StepKind:        stepKind,
		Comment:         strings.TrimSpace(comment),
		IsFinalApproval: final,
		Timestamp:       now,
	}

	if err := e.commit(ctx, op, letter, next, history); err != nil {
		return nil, err
	}

	e.publish(next, evtType, actor.ID, stepKind)
	return next, nil
}

func (e *engineImpl) Reject(ctx context.Context, letterID, actorID, reason string, opts ...DecisionOption) (*entity.Letter, error) {
	const op = "workflow.Reject"
	d := NewDecision(opts...)

	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < e.minReasonLength {
		return nil, apperr.Validation(op, "rejection reason must be at least %d characters", e.minReasonLength)
	}

	unlock := e.locker.Lock(letterID)
	defer unlock()

	letter, actor, err := e.load(ctx, op, letterID, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.checkStepAction(op, letter, actor, d); err != nil {
		return nil, err
	}

	machine := BuildLetterStateMachine(letter)
	if _, err := machine.Fire(domainwf.TriggerReject); err != nil {
		return nil, apperr.Wrap(apperr.KindState, op, err)
	}

	now := e.now().UTC()
	next := letter.Clone()
	var stepKind entity.StepKind
	if step := letter.CurrentStep(); step != nil {
		stepKind = step.Kind
	}
	next.Status = entity.StatusRejected
	next.CurrentStepIndex = nil
	next.RejectionReason = reason

	history := &entity.ApprovalHistory{
		LetterID:  letter.ID,
		ActorID:   actor.ID,
		Action:    entity.ActionReject,
		Status:    next.Status,
		StepKind:  stepKind,
		Comment:   reason,
		Timestamp: now,
	}

	if err := e.commit(ctx, op, letter, next, history); err != nil {
		return nil, err
	}

	e.publish(next, event.TypeLetterRejected, actor.ID, stepKind)
	return next, nil
}

func (e *engineImpl) Sign(ctx context.Context, letterID, actorID, signatureImage string) (*entity.Letter, error) {
	const op = "workflow.Sign"

	unlock := e.locker.Lock(letterID)
	defer unlock()

	letter, actor, err := e.load(ctx, op, letterID, actorID)
	if err != nil {
		return nil, err
	}
	if letter.Status != entity.StatusApproved {
		return nil, apperr.State(op, "letter %s is %s, only approved letters can be signed", letter.ID, letter.Status)
	}
	if !e.evaluator.CanSign(letter, actor) {
		return nil, apperr.Authorization(op, "actor %s may not sign letter %s", actorID, letter.ID)
	}

	machine := BuildLetterStateMachine(letter)
	if _, err := machine.Fire(domainwf.TriggerSign); err != nil {
		return nil, apperr.Wrap(apperr.KindState, op, err)
	}

	image, err := DecodeSignatureImage(signatureImage)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if len(image) == 0 {
		image = actor.SignatureImage
	}

	now := e.now().UTC()
	next := letter.Clone()
	var stepKind entity.StepKind
	if last := letter.LastStep(); last != nil {
		stepKind = last.Kind
	}
	next.Status = entity.StatusSigned
	next.CurrentStepIndex = nil
	next.Signatures = append(next.Signatures, entity.SignatureRecord{
		ApproverID:   actor.ID,
		ApproverName: actor.Name,
		Designation:  actor.Designation,
		StepKind:     stepKind,
		Image:        append([]byte(nil), image...),
		IsFinal:      true,
		SignedAt:     now,
	})

	history := &entity.ApprovalHistory{
		LetterID:  letter.ID,
		ActorID:   actor.ID,
		Action:    entity.ActionSign,
		Status:    next.Status,
		StepKind:  stepKind,
		Timestamp: now,
	}

	if err := e.commit(ctx, op, letter, next, history); err != nil {
		return nil, err
	}

	e.publish(next, event.TypeLetterSigned, actor.ID, stepKind)
	return next, nil
}

// load fetches the letter and the acting actor. An unknown actor is returned
// as nil and fails the authorization check later.
func (e *engineImpl) load(ctx context.Context, op, letterID, actorID string) (*entity.Letter, *entity.Actor, error) {
	letter, err := e.letterRepo.GetByID(ctx, letterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return nil, nil, apperr.NotFound(op, "letter %s not found", letterID)
	}

	actor, err := e.actorRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load actor: %w", err)
	}
	return letter, actor, nil
}

// checkStepAction applies the shared approve/reject preconditions in order:
// state, assignment, authorization. A repeated decision by the same actor is
// a state error: the step it was meant for has already moved on.
func (e *engineImpl) checkStepAction(op string, letter *entity.Letter, actor *entity.Actor, d Decision) error {
	if letter.Status != entity.StatusPending {
		return apperr.State(op, "letter %s is %s", letter.ID, letter.Status)
	}
	if d.ExpectedVersion != 0 && d.ExpectedVersion != letter.Version {
		return apperr.State(op, "letter %s is at version %d, expected %d", letter.ID, letter.Version, d.ExpectedVersion)
	}
	step := letter.CurrentStep()
	if step == nil {
		return apperr.State(op, "letter %s has no active step", letter.ID)
	}
	if actor != nil && d.ExpectedVersion == 0 && step.ApproverID != actor.ID && letter.HasDecided(actor.ID) {
		return apperr.State(op, "actor %s already decided on letter %s", actor.ID, letter.ID)
	}
	if !e.evaluator.HasAssignee(letter) {
		return apperr.Assignment(op, "step %s of letter %s has no approver", step.Kind, letter.ID)
	}
	if !e.evaluator.IsAuthorized(letter, actor) {
		actorID := ""
		if actor != nil {
			actorID = actor.ID
		}
		return apperr.Authorization(op, "actor %q is not the approver of the current step", actorID)
	}
	return nil
}

// commit writes next over prev with a version check and appends history in
// one transaction.
func (e *engineImpl) commit(ctx context.Context, op string, prev, next *entity.Letter, history *entity.ApprovalHistory) error {
	next.Version = prev.Version + 1
	next.UpdatedAt = history.Timestamp
	next.CurrentApproverID = next.CurrentApprover()

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := e.letterRepo.Update(txCtx, next, prev.Version)
		if err != nil {
			return fmt.Errorf("failed to update letter: %w", err)
		}
		if !ok {
			return apperr.State(op, "letter %s was modified concurrently", prev.ID)
		}
		if err := e.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}
		return nil
	})
	if err != nil {
		if e.logger != nil && apperr.KindOf(err) == "" {
			e.logger.Error("Transition failed",
				"letter_id", prev.ID,
				"action", history.Action,
				"error", err,
			)
		}
		return err
	}

	if e.logger != nil {
		e.logger.Info("Letter transitioned",
			"letter_id", next.ID,
			"action", history.Action,
			"actor_id", history.ActorID,
			"status", next.Status,
			"version", next.Version,
		)
	}
	return nil
}

func (e *engineImpl) publish(letter *entity.Letter, typ event.Type, actorID string, stepKind entity.StepKind) {
	if e.notifier == nil {
		return
	}

	evt := event.NewEvent(typ, letter.ID, letter.Status.String(), actorID, letter.Version, letter.UpdatedAt).
		WithStepKind(string(stepKind)).
		WithPayload(event.PayloadSubmitterID, letter.SubmitterID).
		WithPayload(event.PayloadApproverIDs, letter.ApproverIDs()).
		WithPayload(event.PayloadRecipientID, recipientOf(letter)).
		WithPayload(event.PayloadTitle, letter.Title)

	if !e.notifier.Notify(evt) && e.logger != nil {
		e.logger.Error("Event dropped",
			"letter_id", letter.ID,
			"event_type", typ,
			"version", letter.Version,
		)
	}
}

// recipientOf is who should act next: the current approver while the letter
// moves, the submitter once it has ended.
func recipientOf(letter *entity.Letter) string {
	if letter.Status.IsTerminal() {
		return letter.SubmitterID
	}
	return letter.CurrentApprover()
}
