package cases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// --- cases ---

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

const caseCols = `id, hospital_id, patient_id, department_id, priority,
	global_status, technician_status, scientist_status, doctor_status,
	current_user_id, current_version_id, created_by, lock_version,
	created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.HospitalID, &c.PatientID, &c.DepartmentID, &c.Priority,
		&c.GlobalStatus, &c.TechnicianStatus, &c.ScientistStatus, &c.DoctorStatus,
		&c.CurrentUserID, &c.CurrentVersionID, &c.CreatedBy, &c.LockVersion,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	c.LockVersion = 1
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO cases (id, hospital_id, patient_id, department_id, priority,
			global_status, technician_status, scientist_status, doctor_status,
			current_user_id, current_version_id, created_by, lock_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.HospitalID, c.PatientID, c.DepartmentID, c.Priority,
		c.GlobalStatus, c.TechnicianStatus, c.ScientistStatus, c.DoctorStatus,
		c.CurrentUserID, c.CurrentVersionID, c.CreatedBy, c.LockVersion)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
}

func (r *caseRepoPG) Update(ctx context.Context, c *Case) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET priority=$2, global_status=$3, technician_status=$4,
			scientist_status=$5, doctor_status=$6, current_user_id=$7,
			current_version_id=$8, lock_version=lock_version+1, updated_at=NOW()
		WHERE id = $1 AND lock_version = $9`,
		c.ID, c.Priority, c.GlobalStatus, c.TechnicianStatus,
		c.ScientistStatus, c.DoctorStatus, c.CurrentUserID,
		c.CurrentVersionID, c.LockVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	c.LockVersion++
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(cond string, v interface{}) {
		n++
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, n)
	}
	if f.Status != "" {
		add("global_status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.AssignedTo != nil {
		add("current_user_id = $%d", *f.AssignedTo)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}

	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM cases `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT `+caseCols+` FROM cases %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// --- versions ---

type versionRepoPG struct{ pool *pgxpool.Pool }

func NewVersionRepoPG(pool *pgxpool.Pool) VersionRepository {
	return &versionRepoPG{pool: pool}
}

const versionCols = `id, case_id, version_number, created_by, notes, created_at`

func scanVersion(row pgx.Row) (*CaseVersion, error) {
	var v CaseVersion
	err := row.Scan(&v.ID, &v.CaseID, &v.VersionNumber, &v.CreatedBy, &v.Notes, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (r *versionRepoPG) Create(ctx context.Context, v *CaseVersion) error {
	v.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_versions (id, case_id, version_number, created_by, notes)
		VALUES ($1,$2,$3,$4,$5)`,
		v.ID, v.CaseID, v.VersionNumber, v.CreatedBy, v.Notes)
	return err
}

func (r *versionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CaseVersion, error) {
	return scanVersion(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+versionCols+` FROM case_versions WHERE id = $1`, id))
}

func (r *versionRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseVersion, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+versionCols+` FROM case_versions WHERE case_id = $1 ORDER BY version_number ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CaseVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *versionRepoPG) NextNumber(ctx context.Context, caseID uuid.UUID) (int, error) {
	var next int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM case_versions WHERE case_id = $1`, caseID).Scan(&next)
	return next, err
}

// --- assignments ---

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

const assignmentCols = `id, case_id, case_version_id, assigned_by_user_id,
	assigned_to_user_id, notes, created_at`

func scanAssignment(row pgx.Row) (*CaseAssignment, error) {
	var a CaseAssignment
	err := row.Scan(&a.ID, &a.CaseID, &a.CaseVersionID, &a.AssignedByUserID,
		&a.AssignedToUserID, &a.Notes, &a.CreatedAt)
	return &a, err
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *CaseAssignment) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_assignments (id, case_id, case_version_id,
			assigned_by_user_id, assigned_to_user_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.CaseID, a.CaseVersionID, a.AssignedByUserID, a.AssignedToUserID, a.Notes)
	return err
}

func (r *assignmentRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseAssignment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+assignmentCols+` FROM case_assignments WHERE case_id = $1 ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CaseAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *assignmentRepoPG) Latest(ctx context.Context, caseID uuid.UUID) (*CaseAssignment, error) {
	a, err := scanAssignment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM case_assignments WHERE case_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *assignmentRepoPG) ExistsForUser(ctx context.Context, caseID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_assignments WHERE case_id = $1 AND assigned_to_user_id = $2)`,
		caseID, userID).Scan(&exists)
	return exists, err
}

// --- audits ---

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

const auditCols = `id, case_id, case_version_id, field_name, old_value,
	new_value, changed_by_user_id, created_at`

func (r *auditRepoPG) Create(ctx context.Context, entries []*CaseAudit) error {
	q := conn(ctx, r.pool)
	for _, e := range entries {
		e.ID = uuid.New()
		_, err := q.Exec(ctx, `
			INSERT INTO case_audits (id, case_id, case_version_id, field_name,
				old_value, new_value, changed_by_user_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.CaseID, e.CaseVersionID, e.FieldName, e.OldValue, e.NewValue, e.ChangedByUserID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *auditRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*CaseAudit, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM case_audits WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+auditCols+` FROM case_audits WHERE case_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CaseAudit
	for rows.Next() {
		var a CaseAudit
		if err := rows.Scan(&a.ID, &a.CaseID, &a.CaseVersionID, &a.FieldName,
			&a.OldValue, &a.NewValue, &a.ChangedByUserID, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &a)
	}
	return items, total, rows.Err()
}

// --- documents ---

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepoPG{pool: pool}
}

const documentCols = `id, case_id, case_version_id, file_name, content_type,
	size, blob_path, uploaded_by_user_id, created_at`

func scanDocument(row pgx.Row) (*CaseDocument, error) {
	var d CaseDocument
	err := row.Scan(&d.ID, &d.CaseID, &d.CaseVersionID, &d.FileName, &d.ContentType,
		&d.Size, &d.BlobPath, &d.UploadedByUserID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *documentRepoPG) Create(ctx context.Context, d *CaseDocument) error {
	d.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_documents (id, case_id, case_version_id, file_name,
			content_type, size, blob_path, uploaded_by_user_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.CaseID, d.CaseVersionID, d.FileName, d.ContentType, d.Size,
		d.BlobPath, d.UploadedByUserID)
	return err
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CaseDocument, error) {
	return scanDocument(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+documentCols+` FROM case_documents WHERE id = $1`, id))
}

func (r *documentRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*CaseDocument, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+documentCols+` FROM case_documents WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CaseDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *documentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM case_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
