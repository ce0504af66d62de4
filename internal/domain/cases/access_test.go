package cases

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/domain/identity"
)

func newGuard() (*AccessGuard, *AssignmentHistory, *memVersionRepo) {
	versions := newMemVersionRepo()
	history := NewAssignmentHistory(newMemAssignmentRepo(), versions)
	return NewAccessGuard(history), history, versions
}

func TestCanAccess(t *testing.T) {
	guard, history, versions := newGuard()
	ctx := context.Background()

	creator := actor(identity.RoleTechnician)
	holder := actor(identity.RoleScientist)
	stranger := actor(identity.RoleDoctor)
	admin := actor(identity.RoleAdmin)
	foreignAdmin := identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin, HospitalID: "st_judes"}

	c := &Case{ID: uuid.New(), HospitalID: hospital, CreatedBy: creator.ID}
	c.CurrentUserID = &holder.ID

	if !guard.CanAccess(ctx, creator, c) {
		t.Error("creator should have access")
	}
	if !guard.CanAccess(ctx, holder, c) {
		t.Error("current holder should have access")
	}
	if guard.CanAccess(ctx, stranger, c) {
		t.Error("uninvolved user should not have access")
	}
	if !guard.CanAccess(ctx, admin, c) {
		t.Error("admin should see every case in the hospital")
	}
	if guard.CanAccess(ctx, foreignAdmin, c) {
		t.Error("admin of another hospital must not have access")
	}
	if guard.CanAccess(ctx, creator, nil) {
		t.Error("nil case must not grant access")
	}

	// A past assignment grants access forever.
	v := &CaseVersion{CaseID: c.ID, VersionNumber: 1, CreatedBy: creator.ID}
	if err := versions.Create(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := history.Record(ctx, &CaseAssignment{
		CaseID:           c.ID,
		CaseVersionID:    v.ID,
		AssignedByUserID: creator.ID,
		AssignedToUserID: stranger.ID,
	}); err != nil {
		t.Fatal(err)
	}
	other := uuid.New()
	c.CurrentUserID = &other
	if !guard.CanAccess(ctx, stranger, c) {
		t.Error("past assignee should keep access after reassignment")
	}
}

func TestCanAssign(t *testing.T) {
	guard, _, _ := newGuard()
	ctx := context.Background()

	tech := actor(identity.RoleTechnician)
	c := &Case{ID: uuid.New(), HospitalID: hospital, CreatedBy: tech.ID, GlobalStatus: StatusDraft}
	c.CurrentUserID = &tech.ID

	if !guard.CanAssign(ctx, tech, c, identity.RoleScientist) {
		t.Error("technician should hand off forward")
	}
	if !guard.CanAssign(ctx, tech, c, identity.RoleTechnician) {
		t.Error("same-stage hand-off should be allowed")
	}
	if guard.CanAssign(ctx, tech, c, identity.RoleAdmin) {
		t.Error("cannot hand off to a non-pipeline role")
	}

	c.GlobalStatus = StatusCompleted
	if guard.CanAssign(ctx, tech, c, identity.RoleScientist) {
		t.Error("terminal case must not be assignable")
	}
}

func TestCanClose(t *testing.T) {
	guard, _, _ := newGuard()
	ctx := context.Background()

	tech := actor(identity.RoleTechnician)
	admin := actor(identity.RoleAdmin)
	c := &Case{ID: uuid.New(), HospitalID: hospital, CreatedBy: tech.ID, GlobalStatus: StatusDraft}
	holder := uuid.New()
	c.CurrentUserID = &holder

	if guard.CanClose(ctx, tech, c) {
		t.Error("past holder must not close")
	}
	if !guard.CanClose(ctx, admin, c) {
		t.Error("admin should close any open case")
	}
	c.CurrentUserID = &tech.ID
	if !guard.CanClose(ctx, tech, c) {
		t.Error("current holder should close")
	}
	c.GlobalStatus = StatusCancelled
	if guard.CanClose(ctx, tech, c) {
		t.Error("terminal case must not be closable")
	}
}
