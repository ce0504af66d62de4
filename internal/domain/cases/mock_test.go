package cases

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/domain/identity"
)

// In-memory fakes shared by the package tests.

type memCaseRepo struct {
	mu    sync.Mutex
	cases map[uuid.UUID]*Case
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{cases: make(map[uuid.UUID]*Case)}
}

func (r *memCaseRepo) Create(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.New()
	c.LockVersion = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *memCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCaseRepo) Update(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cases[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.LockVersion != c.LockVersion {
		return ErrConflict
	}
	c.LockVersion++
	c.UpdatedAt = time.Now()
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *memCaseRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Case
	for _, c := range r.cases {
		if f.Status != "" && c.GlobalStatus != f.Status {
			continue
		}
		if f.AssignedTo != nil && (c.CurrentUserID == nil || *c.CurrentUserID != *f.AssignedTo) {
			continue
		}
		cp := *c
		items = append(items, &cp)
	}
	return items, len(items), nil
}

type memVersionRepo struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*CaseVersion
}

func newMemVersionRepo() *memVersionRepo {
	return &memVersionRepo{versions: make(map[uuid.UUID]*CaseVersion)}
}

func (r *memVersionRepo) Create(_ context.Context, v *CaseVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	cp := *v
	r.versions[v.ID] = &cp
	return nil
}

func (r *memVersionRepo) GetByID(_ context.Context, id uuid.UUID) (*CaseVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *memVersionRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*CaseVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*CaseVersion
	for _, v := range r.versions {
		if v.CaseID == caseID {
			cp := *v
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (r *memVersionRepo) NextNumber(_ context.Context, caseID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, v := range r.versions {
		if v.CaseID == caseID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max + 1, nil
}

type memAssignmentRepo struct {
	mu   sync.Mutex
	rows []*CaseAssignment
}

func newMemAssignmentRepo() *memAssignmentRepo {
	return &memAssignmentRepo{}
}

func (r *memAssignmentRepo) Create(_ context.Context, a *CaseAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memAssignmentRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*CaseAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*CaseAssignment
	for _, a := range r.rows {
		if a.CaseID == caseID {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (r *memAssignmentRepo) Latest(_ context.Context, caseID uuid.UUID) (*CaseAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].CaseID == caseID {
			cp := *r.rows[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAssignmentRepo) ExistsForUser(_ context.Context, caseID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.CaseID == caseID && a.AssignedToUserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type memAuditRepo struct {
	mu   sync.Mutex
	rows []*CaseAudit
	// failNext makes the next Create fail, for atomicity tests.
	failNext bool
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Create(_ context.Context, entries []*CaseAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return errors.New("audit write failed")
	}
	for _, e := range entries {
		e.ID = uuid.New()
		e.CreatedAt = time.Now()
		cp := *e
		r.rows = append(r.rows, &cp)
	}
	return nil
}

func (r *memAuditRepo) ListByCase(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*CaseAudit, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*CaseAudit
	for _, a := range r.rows {
		if a.CaseID == caseID {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

type memDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*CaseDocument
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{docs: make(map[uuid.UUID]*CaseDocument)}
}

func (r *memDocumentRepo) Create(_ context.Context, d *CaseDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *memDocumentRepo) GetByID(_ context.Context, id uuid.UUID) (*CaseDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDocumentRepo) ListByCase(_ context.Context, caseID uuid.UUID) ([]*CaseDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*CaseDocument
	for _, d := range r.docs {
		if d.CaseID == caseID {
			cp := *d
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (r *memDocumentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// memUserResolver maps ids to actors.
type memUserResolver struct {
	actors map[uuid.UUID]identity.Actor
}

func newMemUserResolver(actors ...identity.Actor) *memUserResolver {
	m := &memUserResolver{actors: make(map[uuid.UUID]identity.Actor)}
	for _, a := range actors {
		m.actors[a.ID] = a
	}
	return m
}

func (m *memUserResolver) ResolveUser(_ context.Context, id uuid.UUID) (identity.Actor, error) {
	a, ok := m.actors[id]
	if !ok {
		return identity.Actor{}, errors.New("user not found")
	}
	return a, nil
}
