package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/entity"
	"github.com/garyjia/letter-approval/internal/infrastructure/persistence/sqlite"
)

const (
	historyInsertColumns = `letter_id, actor_id, action, status, step_kind, comment, is_final_approval, timestamp`
	historyColumns       = `id, ` + historyInsertColumns
)

// historyFilter names the only columns history may be looked up by
type historyFilter string

const (
	byLetter historyFilter = "letter_id"
	byActor  historyFilter = "actor_id"
)

// HistoryRepository stores the append-only audit trail. Rows are never
// updated or deleted; id order is write order.
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create appends h and fills in its id
func (r *HistoryRepository) Create(ctx context.Context, h *entity.ApprovalHistory) error {
	res, err := r.db.Executor(ctx).ExecContext(ctx,
		`INSERT INTO approval_history (`+historyInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.LetterID, h.ActorID, h.Action, string(h.Status), string(h.StepKind),
		h.Comment, h.IsFinalApproval, h.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append history",
			zap.String("letter_id", h.LetterID),
			zap.String("action", h.Action),
			zap.Error(err))
		return fmt.Errorf("append history: %w", err)
	}

	if h.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("history id: %w", err)
	}
	return nil
}

// GetByLetterID returns a letter's trail oldest first
func (r *HistoryRepository) GetByLetterID(ctx context.Context, letterID string) ([]*entity.ApprovalHistory, error) {
	return r.list(ctx, byLetter, letterID)
}

// GetByActorID returns every transition the actor performed, oldest first
func (r *HistoryRepository) GetByActorID(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error) {
	return r.list(ctx, byActor, actorID)
}

func (r *HistoryRepository) list(ctx context.Context, f historyFilter, value string) ([]*entity.ApprovalHistory, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT `+historyColumns+` FROM approval_history WHERE `+string(f)+` = ? ORDER BY id`, value)
	if err != nil {
		r.logger.Error("Failed to load history", zap.String(string(f), value), zap.Error(err))
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHistory(rows *sql.Rows) (*entity.ApprovalHistory, error) {
	var (
		h            entity.ApprovalHistory
		status, kind string
	)
	if err := rows.Scan(&h.ID, &h.LetterID, &h.ActorID, &h.Action, &status, &kind,
		&h.Comment, &h.IsFinalApproval, &h.Timestamp); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	h.Status = entity.Status(status)
	h.StepKind = entity.StepKind(kind)
	h.Timestamp = h.Timestamp.UTC()
	return &h, nil
}
