package persistence

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-faster/errors"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

// Constraint is an entity-side rule checked for every op at apply time,
// e.g. a foreign key that must still resolve.
type Constraint func(entityType catalog.EntityType, document map[string]any, op changerequest.PatchOp) error

// PatchApplier applies canonical patch documents to JSON entity documents.
// Every op runs against a working copy; the input document is never modified.
type PatchApplier struct {
	catalog     *catalog.Catalog
	constraints []Constraint
}

func NewPatchApplier(c *catalog.Catalog, constraints ...Constraint) *PatchApplier {
	return &PatchApplier{catalog: c, constraints: constraints}
}

type rfc6902Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Apply returns the patched document, or *changerequest.ApplyFailure naming
// the first rejected op.
func (a *PatchApplier) Apply(entityType catalog.EntityType, document []byte, patch changerequest.PatchDocument) ([]byte, error) {
	working := append([]byte(nil), document...)
	opts := jsonpatch.NewApplyOptions()
	opts.EnsurePathExistsOnAdd = true

	for _, op := range patch {
		current := map[string]any{}
		if err := json.Unmarshal(working, &current); err != nil {
			return nil, errors.Wrap(err, "decode entity document")
		}
		if err := a.check(entityType, current, op); err != nil {
			return nil, &changerequest.ApplyFailure{Path: op.Path, Cause: err}
		}

		kind := "replace"
		if _, exists := catalog.Lookup(current, op.Path); !exists {
			kind = "add"
		}
		raw, err := json.Marshal([]rfc6902Op{{Op: kind, Path: catalog.PathPointer(op.Path), Value: op.Value.Interface()}})
		if err != nil {
			return nil, errors.Wrap(err, "encode patch op")
		}
		p, err := jsonpatch.DecodePatch(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decode patch op")
		}
		next, err := p.ApplyWithOptions(working, opts)
		if err != nil {
			return nil, &changerequest.ApplyFailure{Path: op.Path, Cause: err}
		}
		working = next
	}
	return working, nil
}

func (a *PatchApplier) check(entityType catalog.EntityType, document map[string]any, op changerequest.PatchOp) error {
	if op.Op != changerequest.OpReplace {
		return errors.Errorf("unsupported op %q", op.Op)
	}
	if a.catalog != nil {
		spec, err := a.catalog.Resolve(entityType, op.Path)
		if err != nil {
			return err
		}
		if err := spec.Check(op.Value); err != nil {
			return err
		}
	}
	for _, c := range a.constraints {
		if err := c(entityType, document, op); err != nil {
			return err
		}
	}
	return nil
}
