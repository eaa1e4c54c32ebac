package changerequest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

type Cursor struct {
	RequestedAt time.Time
	PublicID    uuid.UUID
}

func (c Cursor) String() string {
	return fmt.Sprintf("requested_at:%s:id:%s", c.RequestedAt.UTC().Format(time.RFC3339Nano), c.PublicID)
}

func ParseCursor(raw string) (*Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rest, ok := strings.CutPrefix(raw, "requested_at:")
	if !ok {
		return nil, fmt.Errorf("invalid cursor")
	}
	atStr, idStr, ok := strings.Cut(rest, ":id:")
	if !ok || strings.TrimSpace(atStr) == "" || strings.TrimSpace(idStr) == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, atStr)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return &Cursor{RequestedAt: at.UTC(), PublicID: id}, nil
}

type FindParams struct {
	Status     Status
	EntityType catalog.EntityType
	EntityID   string
	Limit      int
	Cursor     *Cursor
}

// Repository is the durable change request store. Records are ordered newest
// first by (RequestedAt, PublicID) when listed.
type Repository interface {
	Create(ctx context.Context, cr *ChangeRequest) error
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*ChangeRequest, error)
	// SaveWithPrecondition persists cr only if the stored status still equals
	// expected. Otherwise it returns *PreconditionFailedError and writes nothing.
	SaveWithPrecondition(ctx context.Context, cr *ChangeRequest, expected Status) error
	List(ctx context.Context, params FindParams) ([]*ChangeRequest, error)
	ListOpenForEntity(ctx context.Context, entityType catalog.EntityType, entityID string) ([]*ChangeRequest, error)
}

// EntityStore is the per-entity-type snapshot and apply capability.
// CommitFunc claims the change request transition that a patch belongs to.
type CommitFunc func(after map[string]any) error

type EntityStore interface {
	GetSnapshot(ctx context.Context, entityType catalog.EntityType, entityID string) (map[string]any, error)
	// ApplyPatch applies every op or none. A rejected op is reported as *ApplyFailure.
	// commit, when set, runs with the patched document before it is stored;
	// an error from commit leaves the entity untouched and is returned as is.
	ApplyPatch(ctx context.Context, entityType catalog.EntityType, entityID string, patch PatchDocument, commit CommitFunc) (map[string]any, error)
}
