package cases

import (
	"github.com/caseflow/caseflow/internal/domain/identity"
)

// Status is the shared vocabulary for both the global case status and the
// role-scoped statuses. Scientists skip draft: their earliest status is
// assigned. The zero value means "role not involved yet".
type Status string

const (
	StatusDraft      Status = "draft"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// statusRank orders the forward progression so the policy can refuse to move
// a status backwards. Terminal states share the top rank.
var statusRank = map[Status]int{
	"":               0,
	StatusDraft:      1,
	StatusAssigned:   2,
	StatusInProgress: 3,
	StatusCompleted:  4,
	StatusCancelled:  4,
}

// roleStatuses is the per-role vocabulary: technician and doctor have a
// draft state, scientist does not.
var roleStatuses = map[identity.Role]map[Status]bool{
	identity.RoleTechnician: {StatusDraft: true, StatusAssigned: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true},
	identity.RoleScientist:  {StatusAssigned: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true},
	identity.RoleDoctor:     {StatusDraft: true, StatusAssigned: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true},
}

// ValidForRole reports whether s belongs to the role's vocabulary.
func (s Status) ValidForRole(role identity.Role) bool {
	return roleStatuses[role][s]
}

// AssignmentOutcome is the status delta computed for one hand-off.
type AssignmentOutcome struct {
	Global       Status
	TargetStatus Status
	// ActorStatus is the new status for the assigner's own role; only
	// meaningful when ActorStatusChanged is true (hand-off to a doctor
	// completes the assigner's stage).
	ActorStatus        Status
	ActorStatusChanged bool
}

// StatusPolicy is the pure transition table for case statuses. It performs
// no I/O; the workflow engine feeds it the current case and persists what it
// returns. It is also the only component allowed to compute status values,
// so global and role-scoped statuses cannot drift apart.
type StatusPolicy struct{}

func NewStatusPolicy() *StatusPolicy {
	return &StatusPolicy{}
}

// OnAssignment computes the statuses resulting from handing the case to a
// user with targetRole. On a terminal case it is the identity function.
//
// Hand-off to a doctor closes the assigner's stage (their role status goes
// to completed) and moves the global status to in_progress. Any other
// hand-off sets the target's status to assigned: for a lateral reassignment
// this deliberately resets in_progress back to assigned, because the new
// holder has not opened the case yet. Global status moves draft→assigned on
// the first hand-off and otherwise stays put, so repeating the same
// hand-off leaves every status field unchanged; only a first view or a
// doctor hand-off reaches in_progress.
func (p *StatusPolicy) OnAssignment(actorRole, targetRole identity.Role, c *Case) AssignmentOutcome {
	out := AssignmentOutcome{
		Global:       c.GlobalStatus,
		TargetStatus: c.StatusForRole(targetRole),
	}

	if c.GlobalStatus.Terminal() {
		return out
	}

	if targetRole == identity.RoleDoctor {
		out.TargetStatus = StatusAssigned
		out.Global = advance(c.GlobalStatus, StatusInProgress)
		if actorRole.InPipeline() && actorRole != identity.RoleDoctor {
			out.ActorStatus = StatusCompleted
			out.ActorStatusChanged = true
		}
		return out
	}

	out.TargetStatus = StatusAssigned
	if c.GlobalStatus == StatusDraft || c.GlobalStatus == "" {
		out.Global = StatusAssigned
	}
	return out
}

// OnFirstView models "opening a case marks it as being worked": an assigned
// status advances to in_progress, anything else is returned unchanged.
func (p *StatusPolicy) OnFirstView(status Status) Status {
	if status == StatusAssigned {
		return StatusInProgress
	}
	return status
}

// advance moves current forward to next but never backwards, and never off a
// terminal state.
func advance(current, next Status) Status {
	if current.Terminal() {
		return current
	}
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}
