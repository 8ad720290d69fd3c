package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/infrastructure/persistence/sqlite"
)

// LetterRepository implements port.LetterRepository.
// Steps and signature records live in child tables keyed by position and
// sequence number.
type LetterRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewLetterRepository creates a new letter repository
func NewLetterRepository(db *sqlite.DB, logger *zap.Logger) port.LetterRepository {
	return &LetterRepository{
		db:     db,
		logger: logger,
	}
}

const letterColumns = `id, title, body, submitter_id, status, current_step, current_approver_id,
	rejection_reason, last_reminder_at, version, created_at, updated_at`

// Create inserts the letter with its steps and any signature records
func (r *LetterRepository) Create(ctx context.Context, letter *entity.Letter) error {
	if letter.Version == 0 {
		letter.Version = 1
	}

	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		_, err := exec.ExecContext(txCtx, `
			INSERT INTO letters (`+letterColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			letter.ID,
			letter.Title,
			letter.Body,
			letter.SubmitterID,
			string(letter.Status),
			nullableIndex(letter.CurrentStepIndex),
			letter.CurrentApproverID,
			letter.RejectionReason,
			nullableUnix(letter.LastReminderAt),
			letter.Version,
			letter.CreatedAt.UTC(),
			letter.UpdatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create letter", zap.String("letter_id", letter.ID), zap.Error(err))
			return fmt.Errorf("failed to create letter: %w", err)
		}

		for _, step := range letter.Steps {
			_, err := exec.ExecContext(txCtx, `
				INSERT INTO letter_steps (letter_id, position, kind, approver_id, completed_at)
				VALUES (?, ?, ?, ?, ?)`,
				letter.ID, step.Position, string(step.Kind), step.ApproverID, nullableTime(step.CompletedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to create step %d: %w", step.Position, err)
			}
		}

		return r.insertSignatures(txCtx, exec, letter)
	})
}

// GetByID retrieves a letter with its steps and signatures
func (r *LetterRepository) GetByID(ctx context.Context, id string) (*entity.Letter, error) {
	exec := r.db.Executor(ctx)

	row := exec.QueryRowContext(ctx, `SELECT `+letterColumns+` FROM letters WHERE id = ?`, id)
	letter, err := scanLetter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get letter", zap.String("letter_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get letter: %w", err)
	}

	if err := r.loadChildren(ctx, exec, letter); err != nil {
		return nil, err
	}
	return letter, nil
}

// Update writes a transition when the stored version still matches.
// Signature records are append-only, so existing sequence numbers are skipped.
func (r *LetterRepository) Update(ctx context.Context, letter *entity.Letter, expectedVersion int64) (bool, error) {
	updated := false

	err := r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		result, err := exec.ExecContext(txCtx, `
			UPDATE letters
			SET status = ?, current_step = ?, current_approver_id = ?, rejection_reason = ?,
				version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(letter.Status),
			nullableIndex(letter.CurrentStepIndex),
			letter.CurrentApproverID,
			letter.RejectionReason,
			letter.Version,
			letter.UpdatedAt.UTC(),
			letter.ID,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update letter: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}

		for _, step := range letter.Steps {
			_, err := exec.ExecContext(txCtx, `
				UPDATE letter_steps SET approver_id = ?, completed_at = ?
				WHERE letter_id = ? AND position = ?`,
				step.ApproverID, nullableTime(step.CompletedAt), letter.ID, step.Position,
			)
			if err != nil {
				return fmt.Errorf("failed to update step %d: %w", step.Position, err)
			}
		}

		if err := r.insertSignatures(txCtx, exec, letter); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to update letter", zap.String("letter_id", letter.ID), zap.Error(err))
		return false, err
	}

	if !updated {
		r.logger.Debug("Letter version moved, update skipped",
			zap.String("letter_id", letter.ID),
			zap.Int64("expected_version", expectedVersion))
	}
	return updated, nil
}

// TouchReminder records a reminder unless one was recorded at or after notBefore
func (r *LetterRepository) TouchReminder(ctx context.Context, id string, at, notBefore time.Time) (bool, error) {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE letters SET last_reminder_at = ?
		WHERE id = ? AND status = ? AND (last_reminder_at IS NULL OR last_reminder_at < ?)`,
		at.UnixNano(), id, string(entity.StatusPending), notBefore.UnixNano(),
	)
	if err != nil {
		r.logger.Error("Failed to record reminder", zap.String("letter_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record reminder: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListAssigned returns letters waiting on the actor: pending ones whose
// current step is bound to the actor and approved ones whose last step is.
// The step rows decide; the cached current_approver_id column is not read.
func (r *LetterRepository) ListAssigned(ctx context.Context, actorID string) ([]*entity.Letter, error) {
	return r.list(ctx, `
		SELECT `+letterColumns+` FROM letters l
		WHERE EXISTS (
			SELECT 1 FROM letter_steps s
			WHERE s.letter_id = l.id AND s.approver_id = ?
			  AND (
				(l.status = ? AND s.position = l.current_step)
				OR (l.status = ? AND s.position = (
					SELECT MAX(ls.position) FROM letter_steps ls WHERE ls.letter_id = l.id))
			  )
		)
		ORDER BY created_at ASC, id ASC`,
		actorID, string(entity.StatusPending), string(entity.StatusApproved),
	)
}

// ListBySubmitter returns the actor's own letters, newest first
func (r *LetterRepository) ListBySubmitter(ctx context.Context, submitterID string) ([]*entity.Letter, error) {
	return r.list(ctx, `
		SELECT `+letterColumns+` FROM letters
		WHERE submitter_id = ?
		ORDER BY created_at DESC, id ASC`,
		submitterID,
	)
}

func (r *LetterRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Letter, error) {
	exec := r.db.Executor(ctx)

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list letters", zap.Error(err))
		return nil, fmt.Errorf("failed to list letters: %w", err)
	}

	var letters []*entity.Letter
	for rows.Next() {
		letter, err := scanLetter(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan letter: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, letter := range letters {
		if err := r.loadChildren(ctx, exec, letter); err != nil {
			return nil, err
		}
	}
	return letters, nil
}

func (r *LetterRepository) insertSignatures(ctx context.Context, exec sqlite.Executor, letter *entity.Letter) error {
	for seq, sig := range letter.Signatures {
		_, err := exec.ExecContext(ctx, `
			INSERT OR IGNORE INTO signature_records (
				letter_id, seq, approver_id, approver_name, designation, step_kind, image, is_final, signed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			letter.ID, seq, sig.ApproverID, sig.ApproverName, sig.Designation,
			string(sig.StepKind), sig.Image, sig.IsFinal, sig.SignedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert signature %d: %w", seq, err)
		}
	}
	return nil
}

func (r *LetterRepository) loadChildren(ctx context.Context, exec sqlite.Executor, letter *entity.Letter) error {
	if err := loadSteps(ctx, exec, letter); err != nil {
		return err
	}
	return loadSignatures(ctx, exec, letter)
}

func loadSteps(ctx context.Context, exec sqlite.Executor, letter *entity.Letter) error {
	steps, err := exec.QueryContext(ctx, `
		SELECT position, kind, approver_id, completed_at
		FROM letter_steps WHERE letter_id = ? ORDER BY position ASC`, letter.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	defer steps.Close()

	letter.Steps = nil
	for steps.Next() {
		var step entity.WorkflowStep
		var kind string
		var completed sql.NullTime
		if err := steps.Scan(&step.Position, &kind, &step.ApproverID, &completed); err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}
		step.Kind = entity.StepKind(kind)
		if completed.Valid {
			t := completed.Time.UTC()
			step.CompletedAt = &t
		}
		letter.Steps = append(letter.Steps, step)
	}
	return steps.Err()
}

func loadSignatures(ctx context.Context, exec sqlite.Executor, letter *entity.Letter) error {
	sigs, err := exec.QueryContext(ctx, `
		SELECT approver_id, approver_name, designation, step_kind, image, is_final, signed_at
		FROM signature_records WHERE letter_id = ? ORDER BY seq ASC`, letter.ID)
	if err != nil {
		return fmt.Errorf("failed to load signatures: %w", err)
	}
	defer sigs.Close()

	letter.Signatures = nil
	for sigs.Next() {
		var sig entity.SignatureRecord
		var kind string
		if err := sigs.Scan(&sig.ApproverID, &sig.ApproverName, &sig.Designation, &kind,
			&sig.Image, &sig.IsFinal, &sig.SignedAt); err != nil {
			return fmt.Errorf("failed to scan signature: %w", err)
		}
		sig.StepKind = entity.StepKind(kind)
		sig.SignedAt = sig.SignedAt.UTC()
		letter.Signatures = append(letter.Signatures, sig)
	}
	return sigs.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLetter(row scanner) (*entity.Letter, error) {
	var letter entity.Letter
	var status string
	var currentStep sql.NullInt64
	var lastReminder sql.NullInt64

	err := row.Scan(
		&letter.ID,
		&letter.Title,
		&letter.Body,
		&letter.SubmitterID,
		&status,
		&currentStep,
		&letter.CurrentApproverID,
		&letter.RejectionReason,
		&lastReminder,
		&letter.Version,
		&letter.CreatedAt,
		&letter.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	letter.Status = entity.Status(status)
	if currentStep.Valid {
		letter.CurrentStepIndex = entity.IntPtr(int(currentStep.Int64))
	}
	if lastReminder.Valid {
		t := time.Unix(0, lastReminder.Int64).UTC()
		letter.LastReminderAt = &t
	}
	letter.CreatedAt = letter.CreatedAt.UTC()
	letter.UpdatedAt = letter.UpdatedAt.UTC()
	return &letter, nil
}

func nullableIndex(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// Verify interface compliance
var _ port.LetterRepository = (*LetterRepository)(nil)
