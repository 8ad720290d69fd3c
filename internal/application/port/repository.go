package port

import (
	"context"
	"time"

	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// LetterRepository defines persistence operations for Letter.
// Lookups return nil, nil when the letter does not exist.
type LetterRepository interface {
	// Create inserts the letter with its step sequence; Version is set to 1
	Create(ctx context.Context, letter *entity.Letter) error

	GetByID(ctx context.Context, id string) (*entity.Letter, error)

	// Update persists a transition only if the stored version still equals
	// expectedVersion. It reports false when another writer got there first.
	Update(ctx context.Context, letter *entity.Letter, expectedVersion int64) (bool, error)

	// TouchReminder sets last_reminder_at to at if the letter is pending and
	// no reminder was recorded at or after notBefore. It reports whether the row changed.
	TouchReminder(ctx context.Context, id string, at, notBefore time.Time) (bool, error)

	// ListAssigned returns pending letters whose current step is bound to the
	// actor and approved letters whose final approver is the actor.
	ListAssigned(ctx context.Context, actorID string) ([]*entity.Letter, error)

	ListBySubmitter(ctx context.Context, submitterID string) ([]*entity.Letter, error)
}

// HistoryRepository defines persistence operations for ApprovalHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	GetByLetterID(ctx context.Context, letterID string) ([]*entity.ApprovalHistory, error)
	GetByActorID(ctx context.Context, actorID string) ([]*entity.ApprovalHistory, error)
}

// ActorRepository is the local copy of the organization directory
type ActorRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Actor, error)
	Upsert(ctx context.Context, actor *entity.Actor) error

	// FindByDesignation returns the first faculty actor holding designation,
	// restricted to department unless department is empty.
	FindByDesignation(ctx context.Context, department, designation string) (*entity.Actor, error)
}

// ArtifactRepository records issued artifacts for later verification
type ArtifactRepository interface {
	Create(ctx context.Context, record *entity.ArtifactRecord) error
	GetByDocumentID(ctx context.Context, documentID string) (*entity.ArtifactRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
