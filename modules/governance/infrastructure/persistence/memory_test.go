package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/persistence"
)

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func replace(path string, v catalog.Value) changerequest.PatchOp {
	return changerequest.PatchOp{Op: changerequest.OpReplace, Path: path, Value: v}
}

func newCR(t *testing.T, entityID string, at time.Time, status changerequest.Status) *changerequest.ChangeRequest {
	t.Helper()
	cr, err := changerequest.Submit(changerequest.SubmitParams{
		ReferencePrefix:  "AGT",
		EntityType:       catalog.Agent,
		EntityID:         entityID,
		Changes:          []changerequest.Change{{Path: "status", RawValue: "SUSPENDED"}},
		PatchDocument:    changerequest.PatchDocument{replace("status", catalog.Enum("SUSPENDED"))},
		DisplayDiff:      changerequest.DisplayDiff{{Path: "status", From: catalog.Enum("ACTIVE"), To: catalog.Enum("SUSPENDED")}},
		RequestedBy:      "ops.user",
		RequesterComment: "policy violation",
		Now:              at,
	})
	require.NoError(t, err)
	cr.Status = status
	return cr
}

func TestPatchApplier_AppliesInOrder(t *testing.T) {
	applier := persistence.NewPatchApplier(defaultCatalog(t))
	doc := []byte(`{"name":"Kano North","status":"ACTIVE","commission":1.5}`)

	out, err := applier.Apply(catalog.Agent, doc, changerequest.PatchDocument{
		replace("status", catalog.Enum("SUSPENDED")),
		replace("commission", catalog.Number(2.5)),
		replace("wallet.dailyLimit", catalog.Number(1000)),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"Kano North","status":"SUSPENDED","commission":2.5,"wallet":{"dailyLimit":1000}}`, string(out))
	require.JSONEq(t, `{"name":"Kano North","status":"ACTIVE","commission":1.5}`, string(doc), "input untouched")
}

func TestPatchApplier_RejectsInvalidOps(t *testing.T) {
	applier := persistence.NewPatchApplier(defaultCatalog(t))
	doc := []byte(`{"status":"ACTIVE"}`)

	cases := map[string]changerequest.PatchOp{
		"enum no longer valid": replace("status", catalog.Enum("RETIRED")),
		"unknown path":         replace("salary", catalog.Number(1)),
		"wrong kind":           replace("canVend", catalog.Text("yes")),
		"unsupported op":       {Op: "remove", Path: "status"},
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := applier.Apply(catalog.Agent, doc, changerequest.PatchDocument{op})
			var af *changerequest.ApplyFailure
			require.ErrorAs(t, err, &af)
			require.Equal(t, op.Path, af.Path)
		})
	}
}

func TestMemoryEntityStore_ApplyIsAtomic(t *testing.T) {
	errRegion := errors.New("region is not served by any feeder")
	applier := persistence.NewPatchApplier(defaultCatalog(t),
		func(_ catalog.EntityType, _ map[string]any, op changerequest.PatchOp) error {
			if op.Path == "region" {
				return errRegion
			}
			return nil
		})
	store := persistence.NewMemoryEntityStore(applier)
	require.NoError(t, store.Put(catalog.Agent, "42", map[string]any{"name": "Kano North", "status": "ACTIVE", "commission": 1.5}))
	before := store.Raw(catalog.Agent, "42")

	_, err := store.ApplyPatch(context.Background(), catalog.Agent, "42", changerequest.PatchDocument{
		replace("status", catalog.Enum("SUSPENDED")),
		replace("region", catalog.Text("Atlantis")),
		replace("commission", catalog.Number(3)),
	}, nil)
	var af *changerequest.ApplyFailure
	require.ErrorAs(t, err, &af)
	require.Equal(t, "region", af.Path)
	require.ErrorIs(t, err, errRegion)
	require.Equal(t, before, store.Raw(catalog.Agent, "42"))

	_, err = store.GetSnapshot(context.Background(), catalog.Agent, "missing")
	var nf *changerequest.EntityNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryEntityStore_CommitGuardsTheSwap(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryEntityStore(persistence.NewPatchApplier(defaultCatalog(t)))
	require.NoError(t, store.Put(catalog.Agent, "42", map[string]any{"status": "TERMINATED"}))
	before := store.Raw(catalog.Agent, "42")

	errClaimed := errors.New("already applied")
	patch := changerequest.PatchDocument{replace("status", catalog.Enum("SUSPENDED"))}
	_, err := store.ApplyPatch(ctx, catalog.Agent, "42", patch, func(after map[string]any) error {
		require.Equal(t, "SUSPENDED", after["status"])
		return errClaimed
	})
	require.ErrorIs(t, err, errClaimed)
	require.Equal(t, before, store.Raw(catalog.Agent, "42"))

	after, err := store.ApplyPatch(ctx, catalog.Agent, "42", patch, func(map[string]any) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "SUSPENDED", after["status"])
	snapshot, err := store.GetSnapshot(ctx, catalog.Agent, "42")
	require.NoError(t, err)
	require.Equal(t, "SUSPENDED", snapshot["status"])
}

func TestMemoryChangeRequestRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryChangeRequestRepository()
	cr := newCR(t, "42", time.Now().UTC(), changerequest.StatusPending)
	require.NoError(t, repo.Create(ctx, cr))
	require.Error(t, repo.Create(ctx, cr))

	approved, err := cr.Approve("reviewer", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithPrecondition(ctx, approved, changerequest.StatusPending))

	declined, err := cr.Decline("reviewer", "late", time.Now())
	require.NoError(t, err)
	err = repo.SaveWithPrecondition(ctx, declined, changerequest.StatusPending)
	var pf *changerequest.PreconditionFailedError
	require.ErrorAs(t, err, &pf)
	require.Equal(t, changerequest.StatusApproved, pf.Current)

	stored, err := repo.GetByPublicID(ctx, cr.PublicID)
	require.NoError(t, err)
	require.Equal(t, changerequest.StatusApproved, stored.Status)

	_, err = repo.GetByPublicID(ctx, uuid.New())
	var nf *changerequest.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryChangeRequestRepository_ListPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryChangeRequestRepository()
	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		cr := newCR(t, "42", base.Add(time.Duration(i)*time.Minute), changerequest.StatusPending)
		require.NoError(t, repo.Create(ctx, cr))
		ids = append(ids, cr.PublicID)
	}
	other := newCR(t, "7", base, changerequest.StatusDeclined)
	require.NoError(t, repo.Create(ctx, other))

	page, err := repo.List(ctx, changerequest.FindParams{EntityID: "42", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ids[4], ids[3]}, publicIDs(page))

	cursor := &changerequest.Cursor{RequestedAt: page[1].RequestedAt, PublicID: page[1].PublicID}
	page, err = repo.List(ctx, changerequest.FindParams{EntityID: "42", Limit: 10, Cursor: cursor})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, publicIDs(page))

	declined, err := repo.List(ctx, changerequest.FindParams{Status: changerequest.StatusDeclined})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{other.PublicID}, publicIDs(declined))

	open, err := repo.ListOpenForEntity(ctx, catalog.Agent, "7")
	require.NoError(t, err)
	require.Empty(t, open)
}

func publicIDs(items []*changerequest.ChangeRequest) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(items))
	for _, cr := range items {
		out = append(out, cr.PublicID)
	}
	return out
}
