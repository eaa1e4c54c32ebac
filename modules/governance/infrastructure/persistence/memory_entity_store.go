package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

type entityKey struct {
	entityType catalog.EntityType
	entityID   string
}

// MemoryEntityStore keeps entity documents as JSON in process memory.
type MemoryEntityStore struct {
	mu      sync.Mutex
	docs    map[entityKey][]byte
	applier *PatchApplier
}

func NewMemoryEntityStore(applier *PatchApplier) *MemoryEntityStore {
	return &MemoryEntityStore{
		docs:    map[entityKey][]byte{},
		applier: applier,
	}
}

// Put seeds or overwrites an entity document.
func (s *MemoryEntityStore) Put(entityType catalog.EntityType, entityID string, document map[string]any) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return errors.Wrap(err, "encode entity document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[entityKey{entityType, entityID}] = raw
	return nil
}

func (s *MemoryEntityStore) GetSnapshot(_ context.Context, entityType catalog.EntityType, entityID string) (map[string]any, error) {
	s.mu.Lock()
	raw, ok := s.docs[entityKey{entityType, entityID}]
	s.mu.Unlock()
	if !ok {
		return nil, &changerequest.EntityNotFoundError{EntityType: string(entityType), EntityID: entityID}
	}
	return decodeDocument(raw)
}

// Raw returns the stored bytes, for byte-level comparisons.
func (s *MemoryEntityStore) Raw(entityType catalog.EntityType, entityID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.docs[entityKey{entityType, entityID}]...)
}

// ApplyPatch holds the store lock across commit, so the status claim and the
// document swap happen as one step.
func (s *MemoryEntityStore) ApplyPatch(_ context.Context, entityType catalog.EntityType, entityID string, patch changerequest.PatchDocument, commit changerequest.CommitFunc) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{entityType, entityID}
	raw, ok := s.docs[key]
	if !ok {
		return nil, &changerequest.EntityNotFoundError{EntityType: string(entityType), EntityID: entityID}
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
	s.docs[key] = next
	return after, nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode entity document")
	}
	return out, nil
}
