package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/domain/patchdiff"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type FieldDetail struct {
	Path    string         `json:"path"`
	Label   string         `json:"label"`
	Kind    catalog.Kind   `json:"kind"`
	From    catalog.Value  `json:"from"`
	To      catalog.Value  `json:"to"`
	Current *catalog.Value `json:"current,omitempty"`
}

type ChangeRequestDetails struct {
	ChangeRequest *changerequest.ChangeRequest `json:"changeRequest"`
	Fields        []FieldDetail                `json:"fields"`
	EntityExists  bool                         `json:"entityExists"`
}

// GetDetails returns the record with catalog labels and the entity's live
// value for every diff path.
func (s *ChangeRequestService) GetDetails(ctx context.Context, publicID uuid.UUID) (*ChangeRequestDetails, error) {
	cr, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, wrapError(err)
	}

	live, err := s.entities.GetSnapshot(ctx, cr.EntityType, cr.EntityID)
	var enf *changerequest.EntityNotFoundError
	switch {
	case errors.As(err, &enf):
		live = nil
	case err != nil:
		return nil, wrapError(err)
	}

	details := &ChangeRequestDetails{
		ChangeRequest: cr,
		Fields:        make([]FieldDetail, 0, len(cr.DisplayDiff)),
		EntityExists:  live != nil,
	}
	for _, entry := range cr.DisplayDiff {
		fd := FieldDetail{Path: entry.Path, Label: entry.Path, From: entry.From, To: entry.To, Kind: entry.To.Kind()}
		spec, specErr := s.catalog.Resolve(cr.EntityType, entry.Path)
		if specErr == nil {
			fd.Label = spec.Label
			fd.Kind = spec.Kind
		}
		if live != nil {
			var current catalog.Value
			if raw, ok := catalog.Lookup(live, entry.Path); ok {
				current = catalog.FromAny(fd.Kind, raw)
			}
			fd.Current = &current
		}
		details.Fields = append(details.Fields, fd)
	}
	return details, nil
}

type ListParams struct {
	Status     string
	EntityType string
	EntityID   string
	Limit      int
	Cursor     string
}

type ListResult struct {
	Items      []*changerequest.ChangeRequest `json:"items"`
	NextCursor string                         `json:"nextCursor,omitempty"`
}

// List pages through records newest first. NextCursor is empty on the last page.
func (s *ChangeRequestService) List(ctx context.Context, params ListParams) (*ListResult, error) {
	verr := &changerequest.ValidationError{}
	find := changerequest.FindParams{EntityID: strings.TrimSpace(params.EntityID)}

	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err := changerequest.ParseStatus(raw)
		if err != nil {
			verr.Add(changerequest.FieldError{Field: "status", Code: changerequest.CodeInvalid, Message: err.Error()})
		}
		find.Status = status
	}
	if raw := strings.TrimSpace(params.EntityType); raw != "" {
		et, err := s.catalog.ParseEntityType(raw)
		if err != nil {
			verr.Add(changerequest.FieldError{Field: "entityType", Code: changerequest.CodeUnknownEntityType, Message: err.Error()})
		}
		find.EntityType = et
	}
	cursor, err := changerequest.ParseCursor(params.Cursor)
	if err != nil {
		verr.Add(changerequest.FieldError{Field: "cursor", Code: changerequest.CodeInvalid, Message: "cursor is invalid"})
	}
	find.Cursor = cursor

	switch {
	case params.Limit < 0 || params.Limit > maxListLimit:
		verr.Add(changerequest.FieldError{Field: "limit", Code: changerequest.CodeInvalid, Message: "limit must be between 1 and 200"})
	case params.Limit == 0:
		find.Limit = defaultListLimit
	default:
		find.Limit = params.Limit
	}
	if err := verr.Err(); err != nil {
		return nil, wrapError(err)
	}

	limit := find.Limit
	find.Limit = limit + 1
	items, err := s.repo.List(ctx, find)
	if err != nil {
		return nil, wrapError(err)
	}

	res := &ListResult{Items: items}
	if len(items) > limit {
		res.Items = items[:limit]
		last := res.Items[limit-1]
		res.NextCursor = changerequest.Cursor{RequestedAt: last.RequestedAt, PublicID: last.PublicID}.String()
	}
	return res, nil
}

type PreflightParams struct {
	EntityType string                 `json:"entityType" validate:"notblank"`
	EntityID   string                 `json:"entityId" validate:"notblank"`
	Changes    []changerequest.Change `json:"changes"`
}

// Preflight runs the diff against the live entity without persisting anything.
func (s *ChangeRequestService) Preflight(ctx context.Context, params PreflightParams) (*patchdiff.Result, error) {
	errs := fieldErrors(params)
	entityType, err := s.catalog.ParseEntityType(params.EntityType)
	if err != nil || strings.TrimSpace(params.EntityID) == "" {
		if err != nil && strings.TrimSpace(params.EntityType) != "" {
			errs = append(errs, changerequest.FieldError{Field: "entityType", Code: changerequest.CodeUnknownEntityType, Message: err.Error()})
		}
		return nil, wrapError(&changerequest.ValidationError{Fields: errs})
	}

	snapshot, err := s.entities.GetSnapshot(ctx, entityType, strings.TrimSpace(params.EntityID))
	if err != nil {
		return nil, wrapError(err)
	}
	res, err := patchdiff.Conclude(s.engine.Evaluate(entityType, snapshot, params.Changes))
	if err != nil {
		return nil, wrapError(err)
	}
	return res, nil
}

// DescribeCatalog returns the field specs for one entity type.
func (s *ChangeRequestService) DescribeCatalog(entityType string) (catalog.EntitySpec, error) {
	et, err := s.catalog.ParseEntityType(entityType)
	if err != nil {
		return catalog.EntitySpec{}, wrapError(err)
	}
	spec, err := s.catalog.Entity(et)
	if err != nil {
		return catalog.EntitySpec{}, wrapError(err)
	}
	return spec, nil
}

func (s *ChangeRequestService) EntityTypes() []catalog.EntityType {
	return s.catalog.EntityTypes()
}
