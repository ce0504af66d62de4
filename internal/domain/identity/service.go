package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	if u.HospitalID == "" {
		return fmt.Errorf("hospital_id is required")
	}
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	if u.Role != "" && !u.Role.Valid() {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	return s.users.Update(ctx, u)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *Service) ListUsersByRole(ctx context.Context, role Role, limit, offset int) ([]*User, int, error) {
	if !role.Valid() {
		return nil, 0, fmt.Errorf("invalid role: %s", role)
	}
	return s.users.ListByRole(ctx, role, limit, offset)
}

// ResolveUser is the identity collaborator consumed by the case workflow
// engine: it maps a user id to the (id, role, hospital) triple.
func (s *Service) ResolveUser(ctx context.Context, id uuid.UUID) (Actor, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return Actor{}, err
	}
	if !u.Active {
		return Actor{}, fmt.Errorf("user %s is deactivated", id)
	}
	return u.Actor(), nil
}
