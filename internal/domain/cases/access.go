package cases

import (
	"context"

	"github.com/caseflow/caseflow/internal/domain/identity"
)

// AccessGuard answers yes/no access questions for a case. It never returns
// errors: a lookup failure reads as "no access", so callers cannot leak
// existence through error shapes.
type AccessGuard struct {
	history *AssignmentHistory
}

func NewAccessGuard(history *AssignmentHistory) *AccessGuard {
	return &AccessGuard{history: history}
}

// CanAccess reports whether the actor may read the case. Access requires the
// same hospital plus involvement: current holder, creator, or any past
// assignee. Admin and super see every case in their hospital.
func (g *AccessGuard) CanAccess(ctx context.Context, actor identity.Actor, c *Case) bool {
	if c == nil || actor.HospitalID != c.HospitalID {
		return false
	}
	if actor.Role == identity.RoleAdmin || actor.Role == identity.RoleSuper {
		return true
	}
	ever, err := g.history.WasEverAssigned(ctx, c, actor.ID)
	if err != nil {
		return false
	}
	return ever
}

// CanAssign reports whether the actor may hand the case to a user with
// targetRole. Assignment requires read access, a non-terminal case, and a
// forward (or same-stage) hand-off.
func (g *AccessGuard) CanAssign(ctx context.Context, actor identity.Actor, c *Case, targetRole identity.Role) bool {
	if !g.CanAccess(ctx, actor, c) {
		return false
	}
	if c.GlobalStatus.Terminal() {
		return false
	}
	return actor.Role.CanHandOffTo(targetRole)
}

// CanClose reports whether the actor may cancel or complete the case. Only
// the current holder, admin or super may close, and only while non-terminal.
func (g *AccessGuard) CanClose(ctx context.Context, actor identity.Actor, c *Case) bool {
	if !g.CanAccess(ctx, actor, c) {
		return false
	}
	if c.GlobalStatus.Terminal() {
		return false
	}
	if actor.Role == identity.RoleAdmin || actor.Role == identity.RoleSuper {
		return true
	}
	return c.CurrentUserID != nil && *c.CurrentUserID == actor.ID
}
