package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/application/authz"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/application/reminder"
	"github.com/garyjia/letter-approval/internal/application/workflow"
	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Reminder sends throttled reminders
type Reminder interface {
	TryRemind(ctx context.Context, letterID, actorID, message string) (*reminder.Result, error)
}

// Verification is the outcome of checking an artifact marker
type Verification struct {
	DocumentID  string              `json:"document_id"`
	LetterID    string              `json:"letter_id"`
	Kind        entity.ArtifactKind `json:"kind"`
	Valid       bool                `json:"valid"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// LetterService is the entry point used by the transport layer. Write
// operations are delegated to the workflow engine and the reminder
// throttler; reads are filtered by what the caller may see.
type LetterService interface {
	Submit(ctx context.Context, req workflow.SubmitRequest) (*entity.Letter, error)
	Get(ctx context.Context, letterID, actorID string) (*entity.Letter, error)
	Approve(ctx context.Context, letterID, actorID, comment string, opts ...workflow.DecisionOption) (*entity.Letter, error)
	Reject(ctx context.Context, letterID, actorID, reason string, opts ...workflow.DecisionOption) (*entity.Letter, error)

	// Sign accepts a base64 image, optionally as a data URL. Empty uses
	// the actor's stored signature.
	Sign(ctx context.Context, letterID, actorID, signatureImage string) (*entity.Letter, error)
	Remind(ctx context.Context, letterID, actorID, message string) (*reminder.Result, error)

	ListMine(ctx context.Context, actorID string) ([]*entity.Letter, error)
	ListAssigned(ctx context.Context, actorID string) ([]*entity.Letter, error)
	HistoryByLetter(ctx context.Context, letterID, actorID string) ([]*entity.ApprovalHistory, error)
	HistoryByActor(ctx context.Context, targetID, actorID string) ([]*entity.ApprovalHistory, error)

	GenerateArtifact(ctx context.Context, letterID, actorID string, kind entity.ArtifactKind) (*artifact.Artifact, error)
	VerifyArtifact(ctx context.Context, documentID, marker string) (*Verification, error)

	// UpsertActor adds or replaces a directory entry; admins only
	UpsertActor(ctx context.Context, callerID string, actor *entity.Actor) (*entity.Actor, error)
}

// Deps groups the collaborators of the letter service
type Deps struct {
	Engine    workflow.Engine
	Reminder  Reminder
	Letters   port.LetterRepository
	History   port.HistoryRepository
	Actors    port.ActorRepository
	Artifacts port.ArtifactRepository
	Storage   port.FileStorage
	Generator *artifact.Generator
	Evaluator *authz.Evaluator
	Logger    Logger
	Now       func() time.Time
}

type letterServiceImpl struct {
	Deps
}

// NewLetterService creates a new LetterService
func NewLetterService(deps Deps) LetterService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Evaluator == nil {
		deps.Evaluator = authz.NewEvaluator()
	}
	return &letterServiceImpl{Deps: deps}
}

func (s *letterServiceImpl) Submit(ctx context.Context, req workflow.SubmitRequest) (*entity.Letter, error) {
	return s.Engine.Submit(ctx, req)
}

func (s *letterServiceImpl) Approve(ctx context.Context, letterID, actorID, comment string, opts ...workflow.DecisionOption) (*entity.Letter, error) {
	return s.Engine.Approve(ctx, letterID, actorID, comment, opts...)
}

func (s *letterServiceImpl) Reject(ctx context.Context, letterID, actorID, reason string, opts ...workflow.DecisionOption) (*entity.Letter, error) {
	return s.Engine.Reject(ctx, letterID, actorID, reason, opts...)
}

// Sign hands the encoded image to the engine, which decodes it only after
// the letter's state and the caller's right to sign have been checked.
func (s *letterServiceImpl) Sign(ctx context.Context, letterID, actorID, signatureImage string) (*entity.Letter, error) {
	return s.Engine.Sign(ctx, letterID, actorID, signatureImage)
}

func (s *letterServiceImpl) Remind(ctx context.Context, letterID, actorID, message string) (*reminder.Result, error) {
	return s.Reminder.TryRemind(ctx, letterID, actorID, message)
}

// Get returns a letter the actor is involved in
func (s *letterServiceImpl) Get(ctx context.Context, letterID, actorID string) (*entity.Letter, error) {
	letter, _, err := s.visible(ctx, "service.Get", letterID, actorID)
	return letter, err
}

func (s *letterServiceImpl) ListMine(ctx context.Context, actorID string) ([]*entity.Letter, error) {
	letters, err := s.Letters.ListBySubmitter(ctx, actorID)
	if err != nil {
		s.Logger.Error("Failed to list letters", "error", err, "actor_id", actorID)
		return nil, fmt.Errorf("failed to list letters: %w", err)
	}
	return letters, nil
}

// ListAssigned returns the letters waiting on the actor
func (s *letterServiceImpl) ListAssigned(ctx context.Context, actorID string) ([]*entity.Letter, error) {
	letters, err := s.Letters.ListAssigned(ctx, actorID)
	if err != nil {
		s.Logger.Error("Failed to list assigned letters", "error", err, "actor_id", actorID)
		return nil, fmt.Errorf("failed to list assigned letters: %w", err)
	}
	return letters, nil
}

func (s *letterServiceImpl) HistoryByLetter(ctx context.Context, letterID, actorID string) ([]*entity.ApprovalHistory, error) {
	if _, _, err := s.visible(ctx, "service.HistoryByLetter", letterID, actorID); err != nil {
		return nil, err
	}
	history, err := s.History.GetByLetterID(ctx, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

// HistoryByActor lists the transitions an actor performed. Actors may read
// their own trail; admins may read anyone's.
func (s *letterServiceImpl) HistoryByActor(ctx context.Context, targetID, actorID string) ([]*entity.ApprovalHistory, error) {
	const op = "service.HistoryByActor"

	if targetID != actorID {
		caller, err := s.Actors.GetByID(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("failed to load actor: %w", err)
		}
		if !caller.IsAdmin() {
			return nil, apperr.Authorization(op, "actor %s may not read the history of %s", actorID, targetID)
		}
	}

	history, err := s.History.GetByActorID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}

// GenerateArtifact renders the letter, stores the file and records its
// marker for later verification.
func (s *letterServiceImpl) GenerateArtifact(ctx context.Context, letterID, actorID string, kind entity.ArtifactKind) (*artifact.Artifact, error) {
	const op = "service.GenerateArtifact"

	if !kind.IsValid() {
		return nil, apperr.Validation(op, "unknown artifact kind %q", kind)
	}

	letter, _, err := s.visible(ctx, op, letterID, actorID)
	if err != nil {
		return nil, err
	}

	in, err := s.artifactInput(ctx, letter)
	if err != nil {
		return nil, err
	}

	art, err := s.Generator.Generate(in, kind)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("artifacts/%s/%s", letter.ID, art.FileName())
	if s.Storage != nil {
		if err := s.Storage.Save(ctx, path, art.Content); err != nil {
			s.Logger.Error("Failed to store artifact", "error", err, "document_id", art.DocumentID)
			return nil, fmt.Errorf("failed to store artifact: %w", err)
		}
	} else {
		path = ""
	}

	record := &entity.ArtifactRecord{
		DocumentID:         art.DocumentID,
		LetterID:           letter.ID,
		Kind:               kind,
		VerificationMarker: art.VerificationMarker,
		FilePath:           path,
		GeneratedBy:        actorID,
		GeneratedAt:        art.GeneratedAt,
	}
	if err := s.Artifacts.Create(ctx, record); err != nil {
		s.Logger.Error("Failed to record artifact", "error", err, "document_id", art.DocumentID)
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}

	s.Logger.Info("Artifact issued",
		"letter_id", letter.ID,
		"document_id", art.DocumentID,
		"kind", string(kind),
		"actor_id", actorID,
	)
	return art, nil
}

// VerifyArtifact checks a presented marker against both the issued record
// and a fresh computation from the letter's signature records.
func (s *letterServiceImpl) VerifyArtifact(ctx context.Context, documentID, marker string) (*Verification, error) {
	const op = "service.VerifyArtifact"

	if strings.TrimSpace(marker) == "" {
		return nil, apperr.Validation(op, "marker is required")
	}

	record, err := s.Artifacts.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	if record == nil {
		return nil, apperr.NotFound(op, "document %s not found", documentID)
	}

	v := &Verification{
		DocumentID:  record.DocumentID,
		LetterID:    record.LetterID,
		Kind:        record.Kind,
		GeneratedAt: record.GeneratedAt,
	}

	letter, err := s.Letters.GetByID(ctx, record.LetterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return v, nil
	}

	signer, err := artifact.SignerFor(letter, record.Kind)
	if err != nil {
		return v, nil
	}
	expected := s.Generator.Marker().Compute(record.DocumentID, signer.ApproverName, signer.SignedAt)

	v.Valid = equalMarker(marker, record.VerificationMarker) && equalMarker(marker, expected)
	return v, nil
}

// UpsertActor adds or replaces a directory entry
func (s *letterServiceImpl) UpsertActor(ctx context.Context, callerID string, actor *entity.Actor) (*entity.Actor, error) {
	const op = "service.UpsertActor"

	if actor == nil {
		return nil, apperr.Validation(op, "actor is required")
	}
	if err := utils.ValidateIdentifier(actor.ID); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	actor.Name = utils.SanitizeString(actor.Name)
	if actor.Name == "" {
		return nil, apperr.Validation(op, "actor name is required")
	}
	if actor.MentorID != "" {
		if err := utils.ValidateIdentifier(actor.MentorID); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, fmt.Errorf("mentor_id: %w", err))
		}
	}
	if err := utils.ValidateLarkOpenID(actor.LarkOpenID); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if !actor.Role.IsValid() {
		return nil, apperr.Validation(op, "unknown role %q", actor.Role)
	}
	if len(actor.SignatureImage) > 0 {
		if err := workflow.ValidateSignatureImage(actor.SignatureImage); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, err)
		}
	}

	caller, err := s.Actors.GetByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load caller: %w", err)
	}
	if !caller.IsAdmin() {
		return nil, apperr.Authorization(op, "only admins may edit the directory")
	}

	now := s.Now().UTC()
	existing, err := s.Actors.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	actor.CreatedAt = now
	if existing != nil {
		actor.CreatedAt = existing.CreatedAt
	}
	actor.UpdatedAt = now

	if err := s.Actors.Upsert(ctx, actor); err != nil {
		s.Logger.Error("Failed to upsert actor", "error", err, "actor_id", actor.ID)
		return nil, fmt.Errorf("failed to upsert actor: %w", err)
	}

	s.Logger.Info("Actor upserted", "actor_id", actor.ID, "role", string(actor.Role), "by", callerID)
	return actor, nil
}

// visible loads the letter and the actor and checks the actor may see it
func (s *letterServiceImpl) visible(ctx context.Context, op, letterID, actorID string) (*entity.Letter, *entity.Actor, error) {
	letter, err := s.Letters.GetByID(ctx, letterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load letter: %w", err)
	}
	if letter == nil {
		return nil, nil, apperr.NotFound(op, "letter %s not found", letterID)
	}

	actor, err := s.Actors.GetByID(ctx, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load actor: %w", err)
	}
	if !s.Evaluator.CanView(letter, actor) {
		return nil, nil, apperr.Authorization(op, "actor %s is not involved in letter %s", actorID, letterID)
	}
	return letter, actor, nil
}

// artifactInput loads the submitter and every approver in parallel
func (s *letterServiceImpl) artifactInput(ctx context.Context, letter *entity.Letter) (*artifact.Input, error) {
	ids := map[string]bool{letter.SubmitterID: true}
	for _, id := range letter.ApproverIDs() {
		ids[id] = true
	}
	for _, sig := range letter.Signatures {
		ids[sig.ApproverID] = true
	}

	var mu sync.Mutex
	actors := make(map[string]*entity.Actor, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for id := range ids {
		if id == "" {
			continue
		}
		id := id
		g.Go(func() error {
			a, err := s.Actors.GetByID(gctx, id)
			if err != nil {
				return fmt.Errorf("load actor %s: %w", id, err)
			}
			if a != nil {
				mu.Lock()
				actors[id] = a
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load artifact actors: %w", err)
	}

	return &artifact.Input{
		Letter:    letter,
		Submitter: actors[letter.SubmitterID],
		Actors:    actors,
	}, nil
}

func equalMarker(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
