package persistence

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/pkg/composables"
)

// PgEntityStore keeps entity documents in a jsonb column. ApplyPatch locks
// the row, so callers must run it inside a transaction to serialize writers.
type PgEntityStore struct {
	applier *PatchApplier
}

func NewPgEntityStore(applier *PatchApplier) *PgEntityStore {
	return &PgEntityStore{applier: applier}
}

func (s *PgEntityStore) GetSnapshot(ctx context.Context, entityType catalog.EntityType, entityID string) (map[string]any, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT document
		FROM governance_entities
		WHERE entity_type = $1 AND entity_id = $2
	`, string(entityType), entityID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &changerequest.EntityNotFoundError{EntityType: string(entityType), EntityID: entityID}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get entity snapshot")
	}
	return decodeDocument(raw)
}

func (s *PgEntityStore) ApplyPatch(ctx context.Context, entityType catalog.EntityType, entityID string, patch changerequest.PatchDocument, commit changerequest.CommitFunc) (map[string]any, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT document
		FROM governance_entities
		WHERE entity_type = $1 AND entity_id = $2
		FOR UPDATE
	`, string(entityType), entityID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &changerequest.EntityNotFoundError{EntityType: string(entityType), EntityID: entityID}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock entity")
	}

	next, err := s.applier.Apply(entityType, raw, patch)
	if err != nil {
		return nil, err
	}
	after, err := decodeDocument(next)
	if err != nil {
		return nil, err
	}
	if commit != nil {
		if err := commit(after); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE governance_entities
		SET document = $3, updated_at = now()
		WHERE entity_type = $1 AND entity_id = $2
	`, string(entityType), entityID, next); err != nil {
		return nil, errors.Wrap(err, "failed to update entity")
	}
	return after, nil
}

// Put upserts an entity document.
func (s *PgEntityStore) Put(ctx context.Context, entityType catalog.EntityType, entityID string, document map[string]any) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	raw, err := json.Marshal(document)
	if err != nil {
		return errors.Wrap(err, "failed to encode entity document")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO governance_entities (entity_type, entity_id, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_type, entity_id)
		DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`, string(entityType), entityID, raw); err != nil {
		return errors.Wrap(err, "failed to upsert entity")
	}
	return nil
}
