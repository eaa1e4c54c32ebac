package patchdiff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return New(c)
}

func agentSnapshot() map[string]any {
	return map[string]any{
		"name":       "Kano North",
		"status":     "ACTIVE",
		"commission": 1.5,
		"canVend":    true,
		"wallet":     map[string]any{"dailyLimit": 50000.0},
	}
}

func TestDiff_StatusChange(t *testing.T) {
	res, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "status", RawValue: "SUSPENDED"},
	})
	require.NoError(t, err)
	require.Len(t, res.PatchDocument, 1)
	require.Equal(t, changerequest.OpReplace, res.PatchDocument[0].Op)
	require.True(t, res.PatchDocument[0].Value.Equal(catalog.Enum("SUSPENDED")))

	entry, ok := res.DisplayDiff.Get("status")
	require.True(t, ok)
	require.True(t, entry.From.Equal(catalog.Enum("ACTIVE")))
	require.True(t, entry.To.Equal(catalog.Enum("SUSPENDED")))
}

func TestDiff_PatchAndDiffAreABijection(t *testing.T) {
	changes := []changerequest.Change{
		{Path: "region", RawValue: "North West"},
		{Path: "status", RawValue: "ACTIVE"},
		{Path: "commission", RawValue: "2.5"},
		{Path: "wallet.dailyLimit", RawValue: "75000"},
		{Path: "canVend", RawValue: "false"},
	}
	res, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), changes)
	require.NoError(t, err)

	want := []string{"region", "commission", "wallet.dailyLimit", "canVend"}
	require.Equal(t, want, res.PatchDocument.Paths())
	require.Equal(t, want, res.DisplayDiff.Paths())
	for i, op := range res.PatchDocument {
		require.True(t, op.Value.Equal(res.DisplayDiff[i].To))
	}

	region, _ := res.DisplayDiff.Get("region")
	require.False(t, region.From.IsSet(), "absent snapshot value is not set")
}

func TestDiff_NoEffectiveChanges(t *testing.T) {
	_, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "status", RawValue: "ACTIVE"},
	})
	require.ErrorIs(t, err, changerequest.ErrNoEffectiveChanges)

	_, err = newEngine(t).Diff(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "commission", RawValue: "1.50"},
		{Path: "canVend", RawValue: "true"},
	})
	require.ErrorIs(t, err, changerequest.ErrNoEffectiveChanges)
}

func TestDiff_ErrorsWinOverNoOps(t *testing.T) {
	_, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "status", RawValue: "ACTIVE"},
		{Path: "salary", RawValue: "10"},
	})
	var verr *changerequest.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	require.Equal(t, changerequest.CodeUnknownPath, verr.Fields[0].Code)
}

func TestDiff_AccumulatesEveryError(t *testing.T) {
	_, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "salary", RawValue: "10"},
		{Path: "status", RawValue: "RETIRED"},
		{Path: "canVend", RawValue: "notabool"},
		{Path: "commission", RawValue: "NaN"},
		{Path: "region", RawValue: "West"},
	})
	var verr *changerequest.ValidationError
	require.ErrorAs(t, err, &verr)

	got := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		got = append(got, f.Field+":"+f.Code)
	}
	require.Equal(t, []string{
		"changes[0]:UNKNOWN_PATH",
		"changes[1]:PARSE_ERROR",
		"changes[2]:PARSE_ERROR",
		"changes[3]:PARSE_ERROR",
	}, got)
}

func TestDiff_SamePathValidatedIndependently(t *testing.T) {
	engine := newEngine(t)
	changes := []changerequest.Change{
		{Path: "commission", RawValue: "2.5"},
		{Path: "commission", RawValue: "bogus"},
	}

	res, errs := engine.Evaluate(catalog.Agent, agentSnapshot(), changes)
	require.Len(t, errs, 1)
	require.Equal(t, "changes[1]", errs[0].Field)
	require.Equal(t, changerequest.CodeParseError, errs[0].Code)
	require.Equal(t, []string{"commission"}, res.PatchDocument.Paths(), "first occurrence still validated")

	_, err := engine.Diff(catalog.Agent, agentSnapshot(), changes)
	var verr *changerequest.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDiff_DuplicateValidPath(t *testing.T) {
	_, errs := newEngine(t).Evaluate(catalog.Agent, agentSnapshot(), []changerequest.Change{
		{Path: "commission", RawValue: "2.5"},
		{Path: "commission", RawValue: "3"},
	})
	require.Len(t, errs, 1)
	require.Equal(t, changerequest.CodeDuplicatePath, errs[0].Code)
	require.Equal(t, "changes[1]", errs[0].Field)
}

func TestDiff_UnknownEntityType(t *testing.T) {
	_, err := newEngine(t).Diff("Spaceship", nil, []changerequest.Change{{Path: "status", RawValue: "x"}})
	var verr *changerequest.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	require.Equal(t, changerequest.CodeUnknownEntityType, verr.Fields[0].Code)
}

func TestDiff_NoChanges(t *testing.T) {
	_, err := newEngine(t).Diff(catalog.Agent, agentSnapshot(), nil)
	var verr *changerequest.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "changes", verr.Fields[0].Field)
}

func TestDiff_TypeMismatchedSnapshotIsAChange(t *testing.T) {
	snapshot := agentSnapshot()
	snapshot["canVend"] = "yes"
	res, err := newEngine(t).Diff(catalog.Agent, snapshot, []changerequest.Change{
		{Path: "canVend", RawValue: "true"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"canVend"}, res.PatchDocument.Paths())
}

func TestDiff_StringSnapshotNeverMatchesTypedProposal(t *testing.T) {
	snapshot := agentSnapshot()
	snapshot["commission"] = "2.5"
	snapshot["canVend"] = "true"
	res, err := newEngine(t).Diff(catalog.Agent, snapshot, []changerequest.Change{
		{Path: "commission", RawValue: "2.5"},
		{Path: "canVend", RawValue: "true"},
	})
	require.NoError(t, err)
	require.Len(t, res.PatchDocument, 2)
	require.Equal(t, []string{"commission", "canVend"}, res.PatchDocument.Paths())
}
