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

// ArtifactRepository implements port.ArtifactRepository
type ArtifactRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *sqlite.DB, logger *zap.Logger) port.ArtifactRepository {
	return &ArtifactRepository{
		db:     db,
		logger: logger,
	}
}

// Create records an issued artifact
func (r *ArtifactRepository) Create(ctx context.Context, record *entity.ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (
			document_id, letter_id, kind, verification_marker, file_path, generated_by, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		record.DocumentID,
		record.LetterID,
		string(record.Kind),
		record.VerificationMarker,
		record.FilePath,
		record.GeneratedBy,
		record.GeneratedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to record artifact", zap.String("document_id", record.DocumentID), zap.Error(err))
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	return nil
}

// GetByDocumentID retrieves an artifact record, nil if unknown
func (r *ArtifactRepository) GetByDocumentID(ctx context.Context, documentID string) (*entity.ArtifactRecord, error) {
	query := `
		SELECT document_id, letter_id, kind, verification_marker, file_path, generated_by, generated_at
		FROM artifacts WHERE document_id = ?
	`

	var record entity.ArtifactRecord
	var kind string
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, documentID).Scan(
		&record.DocumentID,
		&record.LetterID,
		&kind,
		&record.VerificationMarker,
		&record.FilePath,
		&record.GeneratedBy,
		&record.GeneratedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get artifact", zap.String("document_id", documentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	record.Kind = entity.ArtifactKind(kind)
	record.GeneratedAt = record.GeneratedAt.UTC()
	return &record, nil
}

// Verify interface compliance
var _ port.ArtifactRepository = (*ArtifactRepository)(nil)
