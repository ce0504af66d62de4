package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of user roles. Technician, scientist and doctor
// form the case-handling pipeline in that order; admin and super sit outside
// it and operate across roles.
type Role string

const (
	RoleTechnician Role = "technician"
	RoleScientist  Role = "scientist"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleSuper      Role = "super"
)

// ParseRole converts a role string (e.g. from a JWT claim) to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTechnician, RoleScientist, RoleDoctor, RoleAdmin, RoleSuper:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// pipelineRank orders the handling pipeline: technician < scientist < doctor.
// Zero means the role is not part of the pipeline.
var pipelineRank = map[Role]int{
	RoleTechnician: 1,
	RoleScientist:  2,
	RoleDoctor:     3,
}

// InPipeline reports whether the role handles cases directly.
func (r Role) InPipeline() bool {
	return pipelineRank[r] > 0
}

// CanHandOffTo reports whether a user with role r may hand a case to a user
// with role target. Hand-offs flow forward through the pipeline; same-stage
// reassignment is allowed for load balancing, backward hand-offs are not.
// Admin and super may hand off to any pipeline role.
func (r Role) CanHandOffTo(target Role) bool {
	if !target.InPipeline() {
		return false
	}
	if r == RoleAdmin || r == RoleSuper {
		return true
	}
	if !r.InPipeline() {
		return false
	}
	return pipelineRank[r] <= pipelineRank[target]
}

// Actor is the acting-user triple resolved by the auth layer.
type Actor struct {
	ID         uuid.UUID `json:"id"`
	Role       Role      `json:"role"`
	HospitalID string    `json:"hospital_id"`
}

// User maps to the users table.
type User struct {
	ID         uuid.UUID `db:"id" json:"id"`
	HospitalID string    `db:"hospital_id" json:"hospital_id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	Role       Role      `db:"role" json:"role"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Actor returns the acting-user triple for this user.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role, HospitalID: u.HospitalID}
}
