package cases

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AssignmentHistory wraps the append-only assignment log. Rows are never
// updated or deleted; correcting a mistake means appending a new hand-off.
type AssignmentHistory struct {
	assignments AssignmentRepository
	versions    VersionRepository
}

func NewAssignmentHistory(assignments AssignmentRepository, versions VersionRepository) *AssignmentHistory {
	return &AssignmentHistory{assignments: assignments, versions: versions}
}

// Record appends one hand-off. The referenced version must belong to the
// case the assignment is for.
func (h *AssignmentHistory) Record(ctx context.Context, a *CaseAssignment) error {
	if a.CaseID == uuid.Nil || a.AssignedToUserID == uuid.Nil || a.AssignedByUserID == uuid.Nil {
		return fmt.Errorf("%w: assignment requires case, assigner and assignee", ErrValidation)
	}
	v, err := h.versions.GetByID(ctx, a.CaseVersionID)
	if err != nil {
		return fmt.Errorf("%w: unknown case version", ErrValidation)
	}
	if v.CaseID != a.CaseID {
		return fmt.Errorf("%w: version belongs to a different case", ErrValidation)
	}
	return h.assignments.Create(ctx, a)
}

// ListByCase returns the full hand-off trail, oldest first.
func (h *AssignmentHistory) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseAssignment, error) {
	return h.assignments.ListByCase(ctx, caseID)
}

// CurrentAssignee returns the assignee of the newest hand-off, or nil when
// the case has never been assigned.
func (h *AssignmentHistory) CurrentAssignee(ctx context.Context, caseID uuid.UUID) (*uuid.UUID, error) {
	latest, err := h.assignments.Latest(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	id := latest.AssignedToUserID
	return &id, nil
}

// WasEverAssigned reports whether the user has ever held the case: as an
// assignee in the history, as the creator, or as the current holder. Access
// is monotone; no operation can revoke it.
func (h *AssignmentHistory) WasEverAssigned(ctx context.Context, c *Case, userID uuid.UUID) (bool, error) {
	if c.CreatedBy == userID {
		return true, nil
	}
	if c.CurrentUserID != nil && *c.CurrentUserID == userID {
		return true, nil
	}
	return h.assignments.ExistsForUser(ctx, c.ID, userID)
}
