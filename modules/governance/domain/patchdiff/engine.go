// Package patchdiff turns proposed raw changes into a canonical typed patch
// and a display diff, accumulating every field problem it finds.
package patchdiff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

type Resolver interface {
	Resolve(entityType catalog.EntityType, path string) (catalog.FieldSpec, error)
}

type Result struct {
	PatchDocument changerequest.PatchDocument `json:"patchDocument"`
	DisplayDiff   changerequest.DisplayDiff   `json:"displayDiff"`
}

type Engine struct {
	catalog Resolver
}

func New(c Resolver) *Engine {
	return &Engine{catalog: c}
}

// Evaluate resolves, parses and compares every change in input order. It never
// stops at the first problem; the returned field errors cover the whole input.
func (e *Engine) Evaluate(entityType catalog.EntityType, snapshot map[string]any, changes []changerequest.Change) (Result, []changerequest.FieldError) {
	var (
		res  Result
		errs []changerequest.FieldError
	)
	if len(changes) == 0 {
		return res, []changerequest.FieldError{changerequest.RequiredField("changes")}
	}

	seen := make(map[string]int, len(changes))
	for i, ch := range changes {
		field := fmt.Sprintf("changes[%d]", i)
		path := strings.TrimSpace(ch.Path)

		spec, err := e.catalog.Resolve(entityType, path)
		if err != nil {
			var ute *catalog.UnknownEntityTypeError
			if errors.As(err, &ute) {
				return Result{}, []changerequest.FieldError{{
					Field:   "entityType",
					Code:    changerequest.CodeUnknownEntityType,
					Message: err.Error(),
				}}
			}
			errs = append(errs, changerequest.FieldError{
				Field:   field,
				Path:    path,
				Code:    changerequest.CodeUnknownPath,
				Message: err.Error(),
			})
			continue
		}

		to, err := spec.Parse(ch.RawValue)
		if err != nil {
			errs = append(errs, changerequest.FieldError{
				Field:   field,
				Path:    path,
				Code:    changerequest.CodeParseError,
				Message: err.Error(),
			})
			continue
		}

		if first, dup := seen[path]; dup {
			errs = append(errs, changerequest.FieldError{
				Field:   field,
				Path:    path,
				Code:    changerequest.CodeDuplicatePath,
				Message: fmt.Sprintf("path %q already changed by changes[%d]", path, first),
			})
			continue
		}
		seen[path] = i

		var from catalog.Value
		if raw, ok := catalog.Lookup(snapshot, path); ok {
			from = catalog.FromAny(spec.Kind, raw)
		}
		if to.Equal(from) {
			continue
		}

		res.PatchDocument = append(res.PatchDocument, changerequest.PatchOp{
			Op:    changerequest.OpReplace,
			Path:  path,
			Value: to,
		})
		res.DisplayDiff = append(res.DisplayDiff, changerequest.DiffEntry{
			Path: path,
			From: from,
			To:   to,
		})
	}
	return res, errs
}

// Conclude turns an evaluation into the final outcome. Field errors win over
// an empty patch, so NoEffectiveChanges is only returned for clean input.
func Conclude(res Result, errs []changerequest.FieldError) (*Result, error) {
	if len(errs) > 0 {
		return nil, &changerequest.ValidationError{Fields: errs}
	}
	if len(res.PatchDocument) == 0 {
		return nil, changerequest.ErrNoEffectiveChanges
	}
	return &res, nil
}

func (e *Engine) Diff(entityType catalog.EntityType, snapshot map[string]any, changes []changerequest.Change) (*Result, error) {
	return Conclude(e.Evaluate(entityType, snapshot, changes))
}
