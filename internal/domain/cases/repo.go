package cases

import (
	"context"

	"github.com/google/uuid"
)

// CaseRepository persists the mutable case head row.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// Update writes the case guarded by LockVersion and bumps it. It
	// returns ErrConflict when a concurrent writer got there first.
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error)
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status     Status
	Priority   Priority
	AssignedTo *uuid.UUID
	PatientID  *uuid.UUID
}

// VersionRepository persists immutable case version markers.
type VersionRepository interface {
	Create(ctx context.Context, v *CaseVersion) error
	GetByID(ctx context.Context, id uuid.UUID) (*CaseVersion, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseVersion, error)
	// NextNumber returns the next version number for a case, starting at 1.
	NextNumber(ctx context.Context, caseID uuid.UUID) (int, error)
}

// AssignmentRepository persists the append-only assignment history.
type AssignmentRepository interface {
	Create(ctx context.Context, a *CaseAssignment) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseAssignment, error)
	// Latest returns the most recent assignment row, or nil when the case
	// has never been assigned.
	Latest(ctx context.Context, caseID uuid.UUID) (*CaseAssignment, error)
	// ExistsForUser reports whether the user appears as the assignee of
	// any historical assignment row for the case.
	ExistsForUser(ctx context.Context, caseID, userID uuid.UUID) (bool, error)
}

// AuditRepository persists the append-only field-change trail.
type AuditRepository interface {
	Create(ctx context.Context, entries []*CaseAudit) error
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*CaseAudit, int, error)
}

// DocumentRepository persists document metadata; blob bytes live in the
// blobstore.
type DocumentRepository interface {
	Create(ctx context.Context, d *CaseDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*CaseDocument, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseDocument, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
