package cases

import (
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/domain/identity"
)

// Priority of a case.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// Case maps to the cases table. It carries a global status plus one status
// per handling role; the StatusPolicy is the only writer of either, via the
// workflow engine. LockVersion guards every status-mutating write.
type Case struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	HospitalID       string     `db:"hospital_id" json:"hospital_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	DepartmentID     *uuid.UUID `db:"department_id" json:"department_id,omitempty"`
	Priority         Priority   `db:"priority" json:"priority"`
	GlobalStatus     Status     `db:"global_status" json:"global_status"`
	TechnicianStatus Status     `db:"technician_status" json:"technician_status,omitempty"`
	ScientistStatus  Status     `db:"scientist_status" json:"scientist_status,omitempty"`
	DoctorStatus     Status     `db:"doctor_status" json:"doctor_status,omitempty"`
	CurrentUserID    *uuid.UUID `db:"current_user_id" json:"current_user_id,omitempty"`
	CurrentVersionID *uuid.UUID `db:"current_version_id" json:"current_version_id,omitempty"`
	CreatedBy        uuid.UUID  `db:"created_by" json:"created_by"`
	LockVersion      int        `db:"lock_version" json:"lock_version"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusForRole returns the role-scoped status for a pipeline role. The zero
// Status means the role has not been involved with the case yet.
func (c *Case) StatusForRole(role identity.Role) Status {
	switch role {
	case identity.RoleTechnician:
		return c.TechnicianStatus
	case identity.RoleScientist:
		return c.ScientistStatus
	case identity.RoleDoctor:
		return c.DoctorStatus
	}
	return ""
}

// setStatusForRole is called only with StatusPolicy results.
func (c *Case) setStatusForRole(role identity.Role, s Status) {
	switch role {
	case identity.RoleTechnician:
		c.TechnicianStatus = s
	case identity.RoleScientist:
		c.ScientistStatus = s
	case identity.RoleDoctor:
		c.DoctorStatus = s
	}
}

// CaseVersion is an immutable snapshot marker. A new version is created when
// case content materially changes, not on every status transition.
type CaseVersion struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CaseID        uuid.UUID `db:"case_id" json:"case_id"`
	VersionNumber int       `db:"version_number" json:"version_number"`
	CreatedBy     uuid.UUID `db:"created_by" json:"created_by"`
	Notes         *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CaseAssignment is one hand-off event. Rows are append-only: this table is
// the authoritative record of who has ever held a case.
type CaseAssignment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	CaseID           uuid.UUID `db:"case_id" json:"case_id"`
	CaseVersionID    uuid.UUID `db:"case_version_id" json:"case_version_id"`
	AssignedByUserID uuid.UUID `db:"assigned_by_user_id" json:"assigned_by_user_id"`
	AssignedToUserID uuid.UUID `db:"assigned_to_user_id" json:"assigned_to_user_id"`
	Notes            string    `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// CaseAudit is one observed field change. Diagnostic trail only; it plays no
// part in access control.
type CaseAudit struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CaseID          uuid.UUID `db:"case_id" json:"case_id"`
	CaseVersionID   uuid.UUID `db:"case_version_id" json:"case_version_id"`
	FieldName       string    `db:"field_name" json:"field_name"`
	OldValue        string    `db:"old_value" json:"old_value"`
	NewValue        string    `db:"new_value" json:"new_value"`
	ChangedByUserID uuid.UUID `db:"changed_by_user_id" json:"changed_by_user_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// CaseDocument is the metadata row for a blob attached to a case.
type CaseDocument struct {
	ID               uuid.UUID `db:"id" json:"id"`
	CaseID           uuid.UUID `db:"case_id" json:"case_id"`
	CaseVersionID    uuid.UUID `db:"case_version_id" json:"case_version_id"`
	FileName         string    `db:"file_name" json:"file_name"`
	ContentType      string    `db:"content_type" json:"content_type"`
	Size             int64     `db:"size" json:"size"`
	BlobPath         string    `db:"blob_path" json:"blob_path"`
	UploadedByUserID uuid.UUID `db:"uploaded_by_user_id" json:"uploaded_by_user_id"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
