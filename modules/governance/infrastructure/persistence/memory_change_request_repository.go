package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

type MemoryChangeRequestRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*changerequest.ChangeRequest
}

func NewMemoryChangeRequestRepository() *MemoryChangeRequestRepository {
	return &MemoryChangeRequestRepository{items: map[uuid.UUID]*changerequest.ChangeRequest{}}
}

func (r *MemoryChangeRequestRepository) Create(_ context.Context, cr *changerequest.ChangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[cr.PublicID]; exists {
		return errors.Errorf("change request %s already exists", cr.PublicID)
	}
	r.items[cr.PublicID] = cr.Clone()
	return nil
}

func (r *MemoryChangeRequestRepository) GetByPublicID(_ context.Context, publicID uuid.UUID) (*changerequest.ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.items[publicID]
	if !ok {
		return nil, &changerequest.NotFoundError{PublicID: publicID.String()}
	}
	return cr.Clone(), nil
}

func (r *MemoryChangeRequestRepository) SaveWithPrecondition(_ context.Context, cr *changerequest.ChangeRequest, expected changerequest.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[cr.PublicID]
	if !ok {
		return &changerequest.NotFoundError{PublicID: cr.PublicID.String()}
	}
	if current.Status != expected {
		return &changerequest.PreconditionFailedError{
			PublicID: cr.PublicID.String(),
			Expected: expected,
			Current:  current.Status,
		}
	}
	r.items[cr.PublicID] = cr.Clone()
	return nil
}

func (r *MemoryChangeRequestRepository) List(_ context.Context, params changerequest.FindParams) ([]*changerequest.ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*changerequest.ChangeRequest, 0, len(r.items))
	for _, cr := range r.items {
		if params.Status != "" && cr.Status != params.Status {
			continue
		}
		if params.EntityType != "" && cr.EntityType != params.EntityType {
			continue
		}
		if params.EntityID != "" && cr.EntityID != params.EntityID {
			continue
		}
		if c := params.Cursor; c != nil && !olderThan(cr, c) {
			continue
		}
		out = append(out, cr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return olderThan(out[j], &changerequest.Cursor{RequestedAt: out[i].RequestedAt, PublicID: out[i].PublicID})
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

// olderThan reports whether cr comes after the cursor position in newest-first order.
func olderThan(cr *changerequest.ChangeRequest, c *changerequest.Cursor) bool {
	if !cr.RequestedAt.Equal(c.RequestedAt) {
		return cr.RequestedAt.Before(c.RequestedAt)
	}
	return cr.PublicID.String() < c.PublicID.String()
}

func (r *MemoryChangeRequestRepository) ListOpenForEntity(_ context.Context, entityType catalog.EntityType, entityID string) ([]*changerequest.ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*changerequest.ChangeRequest
	for _, cr := range r.items {
		if cr.EntityType == entityType && cr.EntityID == entityID && cr.Status.Open() {
			out = append(out, cr.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}
