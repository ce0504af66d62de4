package cases

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/identity"
	"github.com/caseflow/caseflow/internal/platform/activity"
	"github.com/caseflow/caseflow/internal/platform/blobstore"
)

type testEnv struct {
	cases       *memCaseRepo
	versions    *memVersionRepo
	assignments *memAssignmentRepo
	audits      *memAuditRepo
	documents   *memDocumentRepo
	resolver    *memUserResolver
	recorder    *activity.MemoryRecorder
	engine      *WorkflowEngine
}

type envSnapshot struct {
	cases       map[uuid.UUID]*Case
	versions    map[uuid.UUID]*CaseVersion
	assignments []*CaseAssignment
	audits      []*CaseAudit
}

func (env *testEnv) snapshot() envSnapshot {
	s := envSnapshot{
		cases:    make(map[uuid.UUID]*Case),
		versions: make(map[uuid.UUID]*CaseVersion),
	}
	for id, c := range env.cases.cases {
		cp := *c
		s.cases[id] = &cp
	}
	for id, v := range env.versions.versions {
		cp := *v
		s.versions[id] = &cp
	}
	s.assignments = append(s.assignments, env.assignments.rows...)
	s.audits = append(s.audits, env.audits.rows...)
	return s
}

func (env *testEnv) restore(s envSnapshot) {
	env.cases.cases = s.cases
	env.versions.versions = s.versions
	env.assignments.rows = s.assignments
	env.audits.rows = s.audits
}

func newTestEnv(actors ...identity.Actor) *testEnv {
	env := &testEnv{
		cases:       newMemCaseRepo(),
		versions:    newMemVersionRepo(),
		assignments: newMemAssignmentRepo(),
		audits:      newMemAuditRepo(),
		documents:   newMemDocumentRepo(),
		resolver:    newMemUserResolver(actors...),
		recorder:    activity.NewMemoryRecorder(),
	}
	history := NewAssignmentHistory(env.assignments, env.versions)
	guard := NewAccessGuard(history)
	env.engine = NewWorkflowEngine(nil, env.cases, env.versions, env.audits,
		env.documents, history, guard, NewStatusPolicy(), env.resolver,
		blobstore.NewMemoryStore(), env.recorder, zerolog.Nop())
	// Rollback in tests means restoring the pre-transaction snapshot.
	env.engine.runTx = func(ctx context.Context, _ *pgxpool.Pool, fn func(ctx context.Context) error) error {
		snap := env.snapshot()
		if err := fn(ctx); err != nil {
			env.restore(snap)
			return err
		}
		return nil
	}
	return env
}

const hospital = "mercy_general"

func actor(role identity.Role) identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: role, HospitalID: hospital}
}

func TestCreateCase(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	env := newTestEnv(tech)

	c, err := env.engine.Create(context.Background(), tech, CreateInput{PatientID: uuid.New()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.GlobalStatus != StatusDraft {
		t.Errorf("global status = %s, want draft", c.GlobalStatus)
	}
	if c.TechnicianStatus != StatusDraft {
		t.Errorf("technician status = %s, want draft", c.TechnicianStatus)
	}
	if c.CurrentUserID == nil || *c.CurrentUserID != tech.ID {
		t.Error("creator should hold the case")
	}
	if c.CurrentVersionID == nil {
		t.Fatal("case should have an initial version")
	}
	v, err := env.versions.GetByID(context.Background(), *c.CurrentVersionID)
	if err != nil || v.VersionNumber != 1 {
		t.Errorf("initial version = %+v, %v; want number 1", v, err)
	}
	if got := env.recorder.ByType(activity.EventCaseCreated); len(got) != 1 {
		t.Errorf("created events = %d, want 1", len(got))
	}
}

func TestCreateCaseByScientistSkipsDraft(t *testing.T) {
	sci := actor(identity.RoleScientist)
	env := newTestEnv(sci)

	c, err := env.engine.Create(context.Background(), sci, CreateInput{PatientID: uuid.New()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ScientistStatus != StatusAssigned {
		t.Errorf("scientist status = %s, want assigned", c.ScientistStatus)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	env := newTestEnv(tech)

	_, err := env.engine.Create(context.Background(), tech, CreateInput{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing patient: err = %v, want ErrValidation", err)
	}
	_, err = env.engine.Create(context.Background(), tech, CreateInput{PatientID: uuid.New(), Priority: "asap"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("bad priority: err = %v, want ErrValidation", err)
	}
}

func TestAssignForwardThroughPipeline(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	doc := actor(identity.RoleDoctor)
	env := newTestEnv(tech, sci, doc)
	ctx := context.Background()

	c, err := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	c, err = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})
	if err != nil {
		t.Fatalf("assign to scientist: %v", err)
	}
	if c.ScientistStatus != StatusAssigned {
		t.Errorf("scientist status = %s, want assigned", c.ScientistStatus)
	}
	if c.GlobalStatus != StatusAssigned {
		t.Errorf("global status = %s, want assigned", c.GlobalStatus)
	}
	if c.CurrentUserID == nil || *c.CurrentUserID != sci.ID {
		t.Error("scientist should hold the case")
	}

	// Scientist opens the case, then hands it to the doctor.
	c, err = env.engine.MarkViewed(ctx, sci, c.ID)
	if err != nil {
		t.Fatalf("MarkViewed: %v", err)
	}
	if c.ScientistStatus != StatusInProgress {
		t.Errorf("after view scientist status = %s, want in_progress", c.ScientistStatus)
	}

	c, err = env.engine.Assign(ctx, sci, c.ID, AssignInput{AssigneeID: doc.ID})
	if err != nil {
		t.Fatalf("assign to doctor: %v", err)
	}
	if c.ScientistStatus != StatusCompleted {
		t.Errorf("scientist status = %s, want completed after doctor hand-off", c.ScientistStatus)
	}
	if c.DoctorStatus != StatusAssigned {
		t.Errorf("doctor status = %s, want assigned", c.DoctorStatus)
	}
	if c.GlobalStatus != StatusInProgress {
		t.Errorf("global status = %s, want in_progress", c.GlobalStatus)
	}

	history, err := env.engine.ListAssignments(ctx, tech, c.ID)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("assignment rows = %d, want 2", len(history))
	}
}

func TestAssignBackwardForbidden(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, sci, CreateInput{PatientID: uuid.New()})
	// Technician was assigned earlier so they can read the case.
	if _, err := env.engine.Assign(ctx, sci, c.ID, AssignInput{AssigneeID: tech.ID}); !errors.Is(err, ErrForbidden) {
		t.Errorf("scientist to technician: err = %v, want ErrForbidden", err)
	}
}

func TestAssignCrossHospitalLooksLikeMissing(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	other := identity.Actor{ID: uuid.New(), Role: identity.RoleScientist, HospitalID: "st_judes"}
	env := newTestEnv(tech, other)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})

	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: other.ID}); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-hospital assignee: err = %v, want ErrNotFound", err)
	}
	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: uuid.New()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown assignee: err = %v, want ErrNotFound", err)
	}

	// And the case itself is invisible from another hospital.
	if _, err := env.engine.Get(ctx, other, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-hospital read: err = %v, want ErrNotFound", err)
	}
}

func TestAccessSurvivesReassignment(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	sci2 := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci, sci2)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.engine.Assign(ctx, sci, c.ID, AssignInput{AssigneeID: sci2.ID}); err != nil {
		t.Fatalf("lateral reassign: %v", err)
	}

	// Everyone who ever held the case still sees it.
	for _, a := range []identity.Actor{tech, sci, sci2} {
		if _, err := env.engine.Get(ctx, a, c.ID); err != nil {
			t.Errorf("actor %s lost access after reassignment: %v", a.Role, err)
		}
	}
}

func TestLateralReassignmentResetsToAssigned(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	sci2 := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci, sci2)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	c, _ = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})
	c, _ = env.engine.MarkViewed(ctx, sci, c.ID)
	if c.ScientistStatus != StatusInProgress {
		t.Fatalf("scientist status = %s, want in_progress", c.ScientistStatus)
	}

	c, err := env.engine.Assign(ctx, sci, c.ID, AssignInput{AssigneeID: sci2.ID})
	if err != nil {
		t.Fatalf("lateral reassign: %v", err)
	}
	if c.ScientistStatus != StatusAssigned {
		t.Errorf("scientist status = %s, want assigned for the new holder", c.ScientistStatus)
	}
}

func TestRepeatAssignKeepsStatusesAppendsHistory(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	first, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	second, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}

	if first.GlobalStatus != second.GlobalStatus ||
		first.ScientistStatus != second.ScientistStatus ||
		first.TechnicianStatus != second.TechnicianStatus {
		t.Errorf("repeat assign moved statuses: %+v vs %+v", first, second)
	}
	if second.GlobalStatus != StatusAssigned {
		t.Errorf("global status = %s after repeat assign, want assigned", second.GlobalStatus)
	}
	rows, _ := env.assignments.ListByCase(ctx, c.ID)
	if len(rows) != 2 {
		t.Errorf("assignment rows = %d, want 2 (history always appends)", len(rows))
	}
}

// After any sequence of assigns, the case's holder pointer and the newest
// history row agree.
func TestHolderPointerMatchesHistory(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	doc := actor(identity.RoleDoctor)
	env := newTestEnv(tech, sci, doc)
	history := NewAssignmentHistory(env.assignments, env.versions)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	for _, to := range []identity.Actor{sci, doc} {
		var err error
		byActor := tech
		if to == doc {
			byActor = sci
		}
		c, err = env.engine.Assign(ctx, byActor, c.ID, AssignInput{AssigneeID: to.ID})
		if err != nil {
			t.Fatalf("assign to %s: %v", to.Role, err)
		}
		latest, err := history.CurrentAssignee(ctx, c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if latest == nil || c.CurrentUserID == nil || *latest != *c.CurrentUserID {
			t.Errorf("holder pointer %v disagrees with history %v", c.CurrentUserID, latest)
		}
	}
}

func TestMarkViewedIdempotent(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	c, _ = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})

	first, err := env.engine.MarkViewed(ctx, sci, c.ID)
	if err != nil {
		t.Fatalf("first view: %v", err)
	}
	second, err := env.engine.MarkViewed(ctx, sci, c.ID)
	if err != nil {
		t.Fatalf("second view: %v", err)
	}
	if first.ScientistStatus != second.ScientistStatus || first.GlobalStatus != second.GlobalStatus {
		t.Error("repeat view changed statuses")
	}
	// Only the first view produced audit rows.
	audits, _, _ := env.engine.ListAudits(ctx, sci, c.ID, 100, 0)
	views := 0
	for _, a := range audits {
		if a.FieldName == "scientist_status" && a.NewValue == string(StatusInProgress) {
			views++
		}
	}
	if views != 1 {
		t.Errorf("in_progress audit rows = %d, want 1", views)
	}
}

func TestTerminalCaseFrozen(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	c, err := env.engine.Cancel(ctx, tech, c.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if c.GlobalStatus != StatusCancelled {
		t.Fatalf("global status = %s, want cancelled", c.GlobalStatus)
	}

	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID}); !errors.Is(err, ErrForbidden) {
		t.Errorf("assign after cancel: err = %v, want ErrForbidden", err)
	}
	if _, err := env.engine.Complete(ctx, tech, c.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("complete after cancel: err = %v, want ErrForbidden", err)
	}
	if _, err := env.engine.NewVersion(ctx, tech, c.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("new version after cancel: err = %v, want ErrForbidden", err)
	}

	// Reads still work.
	got, err := env.engine.Get(ctx, tech, c.ID)
	if err != nil || got.GlobalStatus != StatusCancelled {
		t.Errorf("read after cancel: %+v, %v", got, err)
	}
	view, err := env.engine.MarkViewed(ctx, tech, c.ID)
	if err != nil || view.GlobalStatus != StatusCancelled {
		t.Errorf("view after cancel should be a no-op: %+v, %v", view, err)
	}
}

func TestOnlyHolderMayClose(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	c, _ = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})

	if _, err := env.engine.Cancel(ctx, tech, c.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("past holder cancel: err = %v, want ErrForbidden", err)
	}
	if _, err := env.engine.Complete(ctx, sci, c.ID); err != nil {
		t.Errorf("current holder complete: %v", err)
	}
}

func TestAssignRollsBackWhenAuditWriteFails(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	env.audits.failNext = true

	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID}); err == nil {
		t.Fatal("Assign should fail when the audit write fails")
	}

	// Nothing from the failed hand-off may be visible.
	got, err := env.engine.Get(ctx, tech, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ScientistStatus != "" || got.GlobalStatus != StatusDraft {
		t.Errorf("statuses leaked from rolled-back assign: %+v", got)
	}
	if got.CurrentUserID == nil || *got.CurrentUserID != tech.ID {
		t.Error("holder changed despite rollback")
	}
	rows, _ := env.assignments.ListByCase(ctx, c.ID)
	if len(rows) != 0 {
		t.Errorf("assignment rows = %d, want 0 after rollback", len(rows))
	}

	// The same hand-off succeeds on retry.
	if _, err := env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID}); err != nil {
		t.Errorf("retry after rollback: %v", err)
	}
}

func TestConcurrentUpdateConflict(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	env := newTestEnv(tech, sci)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})

	// Another writer bumps the row between read and write.
	stale, _ := env.cases.GetByID(ctx, c.ID)
	current, _ := env.cases.GetByID(ctx, c.ID)
	if err := env.cases.Update(ctx, current); err != nil {
		t.Fatalf("setup update: %v", err)
	}
	if err := env.cases.Update(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update: err = %v, want ErrConflict", err)
	}
}

func TestNewVersionAndDocuments(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	env := newTestEnv(tech)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})

	v, err := env.engine.NewVersion(ctx, tech, c.ID, nil)
	if err != nil {
		t.Fatalf("NewVersion: %v", err)
	}
	if v.VersionNumber != 2 {
		t.Errorf("version number = %d, want 2", v.VersionNumber)
	}

	doc, err := env.engine.AttachDocument(ctx, tech, c.ID, "scan.png", "image/png", []byte("pngbytes"))
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if doc.CaseVersionID != v.ID {
		t.Error("document should attach to the current version")
	}

	got, data, err := env.engine.GetDocument(ctx, tech, c.ID, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if string(data) != "pngbytes" || got.FileName != "scan.png" {
		t.Errorf("document round trip: %q %q", data, got.FileName)
	}

	if _, err := env.engine.AttachDocument(ctx, tech, c.ID, "notes.exe", "application/octet-stream", []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("bad content type: err = %v, want ErrValidation", err)
	}
}

func TestDeleteDocumentOnlyUploaderOrAdmin(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	admin := actor(identity.RoleAdmin)
	env := newTestEnv(tech, sci, admin)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New()})
	c, _ = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID})
	doc, err := env.engine.AttachDocument(ctx, tech, c.ID, "a.pdf", "application/pdf", []byte("pdf"))
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}

	if err := env.engine.DeleteDocument(ctx, sci, c.ID, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-uploader delete: err = %v, want ErrForbidden", err)
	}
	if err := env.engine.DeleteDocument(ctx, admin, c.ID, doc.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
}

// A case travels the full pipeline and every invariant holds at the end.
func TestFullLifecycle(t *testing.T) {
	tech := actor(identity.RoleTechnician)
	sci := actor(identity.RoleScientist)
	doc := actor(identity.RoleDoctor)
	env := newTestEnv(tech, sci, doc)
	ctx := context.Background()

	c, _ := env.engine.Create(ctx, tech, CreateInput{PatientID: uuid.New(), Priority: PriorityHigh})
	c, _ = env.engine.MarkViewed(ctx, tech, c.ID)
	c, _ = env.engine.Assign(ctx, tech, c.ID, AssignInput{AssigneeID: sci.ID, Notes: "bloodwork done"})
	c, _ = env.engine.MarkViewed(ctx, sci, c.ID)
	c, _ = env.engine.Assign(ctx, sci, c.ID, AssignInput{AssigneeID: doc.ID})
	c, _ = env.engine.MarkViewed(ctx, doc, c.ID)
	c, err := env.engine.Complete(ctx, doc, c.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if c.GlobalStatus != StatusCompleted {
		t.Errorf("global status = %s, want completed", c.GlobalStatus)
	}
	if c.ScientistStatus != StatusCompleted {
		t.Errorf("scientist status = %s, want completed", c.ScientistStatus)
	}
	if c.DoctorStatus != StatusCompleted {
		t.Errorf("doctor status = %s, want completed", c.DoctorStatus)
	}

	history, _ := env.engine.ListAssignments(ctx, tech, c.ID)
	if len(history) != 2 {
		t.Fatalf("assignment rows = %d, want 2", len(history))
	}
	if history[0].AssignedToUserID != sci.ID || history[1].AssignedToUserID != doc.ID {
		t.Error("assignment history out of order")
	}

	audits, total, _ := env.engine.ListAudits(ctx, tech, c.ID, 100, 0)
	if total == 0 || len(audits) == 0 {
		t.Error("expected audit rows for the lifecycle")
	}
	for _, a := range audits {
		if a.OldValue == a.NewValue {
			t.Errorf("audit row with no delta: %+v", a)
		}
	}
}
