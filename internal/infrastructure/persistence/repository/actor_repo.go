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

// ActorRepository implements port.ActorRepository
type ActorRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewActorRepository creates a new actor repository
func NewActorRepository(db *sqlite.DB, logger *zap.Logger) port.ActorRepository {
	return &ActorRepository{
		db:     db,
		logger: logger,
	}
}

const actorColumns = `id, name, role, department, designation, mentor_id, signature_image,
	lark_open_id, created_at, updated_at`

// GetByID retrieves an actor, nil if unknown
func (r *ActorRepository) GetByID(ctx context.Context, id string) (*entity.Actor, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE id = ?`, id)

	actor, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get actor", zap.String("actor_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return actor, nil
}

// Upsert inserts or replaces the directory entry; created_at is kept on update
func (r *ActorRepository) Upsert(ctx context.Context, actor *entity.Actor) error {
	query := `
		INSERT INTO actors (` + actorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			department = excluded.department,
			designation = excluded.designation,
			mentor_id = excluded.mentor_id,
			signature_image = excluded.signature_image,
			lark_open_id = excluded.lark_open_id,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		actor.ID,
		actor.Name,
		string(actor.Role),
		actor.Department,
		actor.Designation,
		actor.MentorID,
		actor.SignatureImage,
		actor.LarkOpenID,
		actor.CreatedAt.UTC(),
		actor.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert actor", zap.String("actor_id", actor.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert actor: %w", err)
	}
	return nil
}

// FindByDesignation returns the first faculty member holding designation,
// within department unless department is empty
func (r *ActorRepository) FindByDesignation(ctx context.Context, department, designation string) (*entity.Actor, error) {
	query := `
		SELECT ` + actorColumns + ` FROM actors
		WHERE role = ? AND designation = ? AND (? = '' OR department = ?)
		ORDER BY id ASC
		LIMIT 1
	`

	row := r.db.Executor(ctx).QueryRowContext(ctx, query,
		string(entity.RoleFaculty), designation, department, department)

	actor, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find actor by designation",
			zap.String("department", department),
			zap.String("designation", designation),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find actor: %w", err)
	}
	return actor, nil
}

func scanActor(row scanner) (*entity.Actor, error) {
	var actor entity.Actor
	var role string
	err := row.Scan(
		&actor.ID,
		&actor.Name,
		&role,
		&actor.Department,
		&actor.Designation,
		&actor.MentorID,
		&actor.SignatureImage,
		&actor.LarkOpenID,
		&actor.CreatedAt,
		&actor.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	actor.Role = entity.Role(role)
	return &actor, nil
}

// Verify interface compliance
var _ port.ActorRepository = (*ActorRepository)(nil)
