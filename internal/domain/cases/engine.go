package cases

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/identity"
	"github.com/caseflow/caseflow/internal/platform/activity"
	"github.com/caseflow/caseflow/internal/platform/blobstore"
	"github.com/caseflow/caseflow/internal/platform/db"
)

// UserResolver maps a user id to the acting-user triple. Satisfied by
// identity.Service.
type UserResolver interface {
	ResolveUser(ctx context.Context, id uuid.UUID) (identity.Actor, error)
}

// WorkflowEngine owns every case mutation. All writes for one operation run
// in a single transaction; activity events are emitted only after commit.
type WorkflowEngine struct {
	pool      *pgxpool.Pool
	cases     CaseRepository
	versions  VersionRepository
	audits    AuditRepository
	documents DocumentRepository
	history   *AssignmentHistory
	guard     *AccessGuard
	policy    *StatusPolicy
	users     UserResolver
	blobs     blobstore.Store
	emitter   activity.Emitter
	logger    zerolog.Logger
	runTx     txRunner
}

func NewWorkflowEngine(
	pool *pgxpool.Pool,
	cases CaseRepository,
	versions VersionRepository,
	audits AuditRepository,
	documents DocumentRepository,
	history *AssignmentHistory,
	guard *AccessGuard,
	policy *StatusPolicy,
	users UserResolver,
	blobs blobstore.Store,
	emitter activity.Emitter,
	logger zerolog.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		pool:      pool,
		cases:     cases,
		versions:  versions,
		audits:    audits,
		documents: documents,
		history:   history,
		guard:     guard,
		policy:    policy,
		users:     users,
		blobs:     blobs,
		emitter:   emitter,
		logger:    logger,
		runTx:     db.WithTx,
	}
}

// txRunner is swapped out in tests; production always goes through db.WithTx.
type txRunner func(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error

// CreateInput is the payload for opening a new case.
type CreateInput struct {
	PatientID    uuid.UUID  `json:"patient_id"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	Priority     Priority   `json:"priority"`
	Notes        *string    `json:"notes,omitempty"`
}

// Create opens a case held by its creator, with an initial version. A
// pipeline creator starts in their role's earliest status (draft, or
// assigned for scientists); admin-created cases start in draft with no role
// engaged.
func (e *WorkflowEngine) Create(ctx context.Context, actor identity.Actor, in CreateInput) (*Case, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !validPriorities[in.Priority] {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}

	c := &Case{
		HospitalID:   actor.HospitalID,
		PatientID:    in.PatientID,
		DepartmentID: in.DepartmentID,
		Priority:     in.Priority,
		GlobalStatus: StatusDraft,
		CreatedBy:    actor.ID,
	}
	holder := actor.ID
	c.CurrentUserID = &holder
	if actor.Role.InPipeline() {
		initial := StatusDraft
		if !initial.ValidForRole(actor.Role) {
			initial = StatusAssigned
		}
		c.setStatusForRole(actor.Role, initial)
	}

	err := e.inTx(ctx, func(ctx context.Context) error {
		if err := e.cases.Create(ctx, c); err != nil {
			return err
		}
		v := &CaseVersion{CaseID: c.ID, VersionNumber: 1, CreatedBy: actor.ID, Notes: in.Notes}
		if err := e.versions.Create(ctx, v); err != nil {
			return err
		}
		c.CurrentVersionID = &v.ID
		return e.cases.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	e.emit(activity.EventCaseCreated, actor, c.ID, nil)
	return c, nil
}

// Get returns a case the actor may read. A case in another hospital and a
// case that does not exist produce the same error.
func (e *WorkflowEngine) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Case, error) {
	c, err := e.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.guard.CanAccess(ctx, actor, c) {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns cases visible to the actor. Admin and super browse the whole
// hospital; a pipeline user sees only cases they currently hold.
func (e *WorkflowEngine) List(ctx context.Context, actor identity.Actor, f ListFilter, limit, offset int) ([]*Case, int, error) {
	if actor.Role != identity.RoleAdmin && actor.Role != identity.RoleSuper {
		id := actor.ID
		f.AssignedTo = &id
	}
	return e.cases.List(ctx, f, limit, offset)
}

// AssignInput is the payload for handing a case to another user.
type AssignInput struct {
	AssigneeID uuid.UUID `json:"assignee_id"`
	Notes      string    `json:"notes,omitempty"`
}

// Assign hands the case to another user. The hand-off row is always
// appended, even when the statuses it implies are already in place, so the
// history stays a complete record of custody.
func (e *WorkflowEngine) Assign(ctx context.Context, actor identity.Actor, caseID uuid.UUID, in AssignInput) (*Case, error) {
	if in.AssigneeID == uuid.Nil {
		return nil, fmt.Errorf("%w: assignee_id is required", ErrValidation)
	}

	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}

	target, err := e.users.ResolveUser(ctx, in.AssigneeID)
	if err != nil || target.HospitalID != c.HospitalID {
		// An unknown assignee and one from another hospital look the same.
		return nil, ErrNotFound
	}
	if !target.Role.InPipeline() {
		return nil, fmt.Errorf("%w: assignee role %s cannot hold cases", ErrValidation, target.Role)
	}
	if !e.guard.CanAssign(ctx, actor, c, target.Role) {
		return nil, ErrForbidden
	}
	if c.CurrentVersionID == nil {
		return nil, fmt.Errorf("%w: case has no version", ErrValidation)
	}

	before := *c
	out := e.policy.OnAssignment(actor.Role, target.Role, c)
	c.GlobalStatus = out.Global
	c.setStatusForRole(target.Role, out.TargetStatus)
	if out.ActorStatusChanged {
		c.setStatusForRole(actor.Role, out.ActorStatus)
	}
	assignee := target.ID
	c.CurrentUserID = &assignee

	err = e.inTx(ctx, func(ctx context.Context) error {
		if err := e.cases.Update(ctx, c); err != nil {
			return err
		}
		a := &CaseAssignment{
			CaseID:           c.ID,
			CaseVersionID:    *c.CurrentVersionID,
			AssignedByUserID: actor.ID,
			AssignedToUserID: target.ID,
			Notes:            in.Notes,
		}
		if err := e.history.Record(ctx, a); err != nil {
			return err
		}
		return e.writeAudits(ctx, actor, &before, c)
	})
	if err != nil {
		return nil, err
	}

	e.emit(activity.EventCaseAssigned, actor, c.ID, map[string]string{
		"assignee_id": target.ID.String(),
	})
	return c, nil
}

// MarkViewed records that the actor opened the case: an assigned role status
// advances to in_progress. Repeat views are no-ops, statuses never move
// backwards, and terminal cases are untouched.
func (e *WorkflowEngine) MarkViewed(ctx context.Context, actor identity.Actor, caseID uuid.UUID) (*Case, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if c.GlobalStatus.Terminal() || !actor.Role.InPipeline() {
		return c, nil
	}

	before := *c
	c.setStatusForRole(actor.Role, e.policy.OnFirstView(c.StatusForRole(actor.Role)))
	if c.CurrentUserID != nil && *c.CurrentUserID == actor.ID {
		c.GlobalStatus = e.policy.OnFirstView(c.GlobalStatus)
	}
	if before.GlobalStatus == c.GlobalStatus && before.StatusForRole(actor.Role) == c.StatusForRole(actor.Role) {
		return c, nil
	}

	err = e.inTx(ctx, func(ctx context.Context) error {
		if err := e.cases.Update(ctx, c); err != nil {
			return err
		}
		return e.writeAudits(ctx, actor, &before, c)
	})
	if err != nil {
		return nil, err
	}

	e.emit(activity.EventCaseViewed, actor, c.ID, nil)
	return c, nil
}

// Cancel closes the case as cancelled. Only the current holder, admin or
// super may do this, and only while the case is open.
func (e *WorkflowEngine) Cancel(ctx context.Context, actor identity.Actor, caseID uuid.UUID) (*Case, error) {
	return e.close(ctx, actor, caseID, StatusCancelled, activity.EventCaseCancelled)
}

// Complete closes the case as completed under the same rules as Cancel.
func (e *WorkflowEngine) Complete(ctx context.Context, actor identity.Actor, caseID uuid.UUID) (*Case, error) {
	return e.close(ctx, actor, caseID, StatusCompleted, activity.EventCaseCompleted)
}

func (e *WorkflowEngine) close(ctx context.Context, actor identity.Actor, caseID uuid.UUID, terminal Status, eventType string) (*Case, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if !e.guard.CanClose(ctx, actor, c) {
		return nil, ErrForbidden
	}

	before := *c
	c.GlobalStatus = terminal
	if actor.Role.InPipeline() && !c.StatusForRole(actor.Role).Terminal() {
		c.setStatusForRole(actor.Role, terminal)
	}

	err = e.inTx(ctx, func(ctx context.Context) error {
		if err := e.cases.Update(ctx, c); err != nil {
			return err
		}
		return e.writeAudits(ctx, actor, &before, c)
	})
	if err != nil {
		return nil, err
	}

	e.emit(eventType, actor, c.ID, nil)
	return c, nil
}

// NewVersion snapshots the case into a fresh version and points the head at
// it. Versions cannot be added to a closed case.
func (e *WorkflowEngine) NewVersion(ctx context.Context, actor identity.Actor, caseID uuid.UUID, notes *string) (*CaseVersion, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if c.GlobalStatus.Terminal() {
		return nil, ErrForbidden
	}

	var v *CaseVersion
	err = e.inTx(ctx, func(ctx context.Context) error {
		next, err := e.versions.NextNumber(ctx, c.ID)
		if err != nil {
			return err
		}
		v = &CaseVersion{CaseID: c.ID, VersionNumber: next, CreatedBy: actor.ID, Notes: notes}
		if err := e.versions.Create(ctx, v); err != nil {
			return err
		}
		c.CurrentVersionID = &v.ID
		return e.cases.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVersions returns the version trail, oldest first.
func (e *WorkflowEngine) ListVersions(ctx context.Context, actor identity.Actor, caseID uuid.UUID) ([]*CaseVersion, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	return e.versions.ListByCase(ctx, c.ID)
}

// ListAssignments returns the full hand-off history, oldest first.
func (e *WorkflowEngine) ListAssignments(ctx context.Context, actor identity.Actor, caseID uuid.UUID) ([]*CaseAssignment, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	return e.history.ListByCase(ctx, c.ID)
}

// ListAudits returns the field-change trail, newest first.
func (e *WorkflowEngine) ListAudits(ctx context.Context, actor identity.Actor, caseID uuid.UUID, limit, offset int) ([]*CaseAudit, int, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, 0, err
	}
	return e.audits.ListByCase(ctx, c.ID, limit, offset)
}

// AttachDocument stores the payload in the blobstore and records its
// metadata against the case's current version.
func (e *WorkflowEngine) AttachDocument(ctx context.Context, actor identity.Actor, caseID uuid.UUID, fileName, contentType string, data []byte) (*CaseDocument, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrValidation)
	}
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if c.GlobalStatus.Terminal() {
		return nil, ErrForbidden
	}
	if c.CurrentVersionID == nil {
		return nil, fmt.Errorf("%w: case has no version", ErrValidation)
	}
	if err := blobstore.ValidateUpload(data, contentType); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	info, err := e.blobs.Put(ctx, data, contentType)
	if err != nil {
		return nil, err
	}

	d := &CaseDocument{
		CaseID:           c.ID,
		CaseVersionID:    *c.CurrentVersionID,
		FileName:         fileName,
		ContentType:      info.ContentType,
		Size:             info.Size,
		BlobPath:         info.Path,
		UploadedByUserID: actor.ID,
	}
	if err := e.documents.Create(ctx, d); err != nil {
		return nil, err
	}

	e.emit(activity.EventDocumentUploaded, actor, c.ID, map[string]string{
		"document_id": d.ID.String(),
		"file_name":   d.FileName,
	})
	return d, nil
}

// ListDocuments returns document metadata for the case, newest first.
func (e *WorkflowEngine) ListDocuments(ctx context.Context, actor identity.Actor, caseID uuid.UUID) ([]*CaseDocument, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	return e.documents.ListByCase(ctx, c.ID)
}

// GetDocument returns one document's metadata and bytes.
func (e *WorkflowEngine) GetDocument(ctx context.Context, actor identity.Actor, caseID, documentID uuid.UUID) (*CaseDocument, []byte, error) {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return nil, nil, err
	}
	d, err := e.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if d.CaseID != c.ID {
		return nil, nil, ErrNotFound
	}
	data, _, err := e.blobs.Get(ctx, d.BlobPath)
	if err != nil {
		return nil, nil, err
	}
	return d, data, nil
}

// DeleteDocument removes a document's metadata row. Only the uploader, admin
// or super may delete. The blob itself stays: paths are content-addressed
// and may be shared by other documents.
func (e *WorkflowEngine) DeleteDocument(ctx context.Context, actor identity.Actor, caseID, documentID uuid.UUID) error {
	c, err := e.Get(ctx, actor, caseID)
	if err != nil {
		return err
	}
	d, err := e.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if d.CaseID != c.ID {
		return ErrNotFound
	}
	if d.UploadedByUserID != actor.ID && actor.Role != identity.RoleAdmin && actor.Role != identity.RoleSuper {
		return ErrForbidden
	}
	return e.documents.Delete(ctx, d.ID)
}

// writeAudits records one row per field that actually changed.
func (e *WorkflowEngine) writeAudits(ctx context.Context, actor identity.Actor, before, after *Case) error {
	entries := auditDiff(before, after, actor.ID)
	if len(entries) == 0 {
		return nil
	}
	return e.audits.Create(ctx, entries)
}

// auditDiff compares the audited fields of two case snapshots.
func auditDiff(before, after *Case, changedBy uuid.UUID) []*CaseAudit {
	versionID := uuid.Nil
	if after.CurrentVersionID != nil {
		versionID = *after.CurrentVersionID
	}
	var entries []*CaseAudit
	add := func(field, oldV, newV string) {
		if oldV == newV {
			return
		}
		entries = append(entries, &CaseAudit{
			CaseID:          after.ID,
			CaseVersionID:   versionID,
			FieldName:       field,
			OldValue:        oldV,
			NewValue:        newV,
			ChangedByUserID: changedBy,
		})
	}
	add("global_status", string(before.GlobalStatus), string(after.GlobalStatus))
	add("technician_status", string(before.TechnicianStatus), string(after.TechnicianStatus))
	add("scientist_status", string(before.ScientistStatus), string(after.ScientistStatus))
	add("doctor_status", string(before.DoctorStatus), string(after.DoctorStatus))
	add("priority", string(before.Priority), string(after.Priority))
	add("current_user_id", uuidString(before.CurrentUserID), uuidString(after.CurrentUserID))
	return entries
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func (e *WorkflowEngine) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.runTx(ctx, e.pool, fn)
}

func (e *WorkflowEngine) emit(eventType string, actor identity.Actor, caseID uuid.UUID, extra map[string]string) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(activity.New(eventType, actor.ID, caseID, actor.HospitalID, extra))
}
