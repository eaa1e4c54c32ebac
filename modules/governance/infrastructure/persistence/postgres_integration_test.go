package persistence_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/migrations"
	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/persistence"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/configuration"
)

func TestPgChangeRequestRepository_RoundTripAndCAS(t *testing.T) {
	ctx := context.Background()
	pool := newGovernanceTestDB(t, ctx)
	ctx = composables.WithPool(ctx, pool)
	repo := persistence.NewPgChangeRequestRepository()

	at := time.Date(2026, 10, 15, 9, 30, 0, 123000, time.UTC)
	cr := newCR(t, "42", at, changerequest.StatusPending)
	cr.PatchDocument = append(cr.PatchDocument, replace("commission", catalog.Number(2.5)))
	cr.DisplayDiff = append(cr.DisplayDiff, changerequest.DiffEntry{Path: "commission", From: catalog.Null(), To: catalog.Number(2.5)})
	require.NoError(t, repo.Create(ctx, cr))

	got, err := repo.GetByPublicID(ctx, cr.PublicID)
	require.NoError(t, err)
	require.Equal(t, cr.Reference, got.Reference)
	require.Equal(t, []string{"status", "commission"}, got.DisplayDiff.Paths())
	require.Equal(t, cr.PatchDocument.Paths(), got.PatchDocument.Paths())
	require.True(t, got.PatchDocument[1].Value.Equal(catalog.Number(2.5)))
	require.True(t, got.RequestedAt.Equal(at))

	err = composables.InTx(ctx, func(txCtx context.Context) error {
		approved, err := got.Approve("reviewer", "confirmed", at.Add(time.Minute))
		if err != nil {
			return err
		}
		return repo.SaveWithPrecondition(txCtx, approved, changerequest.StatusPending)
	})
	require.NoError(t, err)

	declined, err := got.Decline("reviewer", "too late", at.Add(2*time.Minute))
	require.NoError(t, err)
	err = repo.SaveWithPrecondition(ctx, declined, changerequest.StatusPending)
	var pf *changerequest.PreconditionFailedError
	require.ErrorAs(t, err, &pf)
	require.Equal(t, changerequest.StatusApproved, pf.Current)

	open, err := repo.ListOpenForEntity(ctx, catalog.Agent, "42")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "confirmed", open[0].ApprovalNotes)
}

func TestPgChangeRequestRepository_ListCursor(t *testing.T) {
	ctx := context.Background()
	pool := newGovernanceTestDB(t, ctx)
	ctx = composables.WithPool(ctx, pool)
	repo := persistence.NewPgChangeRequestRepository()

	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	var created []*changerequest.ChangeRequest
	for i := 0; i < 3; i++ {
		cr := newCR(t, "42", base.Add(time.Duration(i)*time.Second), changerequest.StatusPending)
		require.NoError(t, repo.Create(ctx, cr))
		created = append(created, cr)
	}

	first, err := repo.List(ctx, changerequest.FindParams{EntityType: catalog.Agent, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, created[2].PublicID, first[0].PublicID)

	rest, err := repo.List(ctx, changerequest.FindParams{
		Limit:  2,
		Cursor: &changerequest.Cursor{RequestedAt: first[1].RequestedAt, PublicID: first[1].PublicID},
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, created[0].PublicID, rest[0].PublicID)
}

func TestPgEntityStore_ApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	pool := newGovernanceTestDB(t, ctx)
	ctx = composables.WithPool(ctx, pool)
	store := persistence.NewPgEntityStore(persistence.NewPatchApplier(defaultCatalog(t)))

	require.NoError(t, store.Put(ctx, catalog.Agent, "42", map[string]any{"name": "Kano North", "status": "ACTIVE"}))

	err := composables.InTx(ctx, func(txCtx context.Context) error {
		_, err := store.ApplyPatch(txCtx, catalog.Agent, "42", changerequest.PatchDocument{
			replace("status", catalog.Enum("SUSPENDED")),
			replace("status", catalog.Enum("RETIRED")),
		}, nil)
		return err
	})
	var af *changerequest.ApplyFailure
	require.ErrorAs(t, err, &af)

	snapshot, err := store.GetSnapshot(ctx, catalog.Agent, "42")
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", snapshot["status"])

	err = composables.InTx(ctx, func(txCtx context.Context) error {
		_, err := store.ApplyPatch(txCtx, catalog.Agent, "42", changerequest.PatchDocument{
			replace("status", catalog.Enum("SUSPENDED")),
		}, nil)
		return err
	})
	require.NoError(t, err)
	snapshot, err = store.GetSnapshot(ctx, catalog.Agent, "42")
	require.NoError(t, err)
	require.Equal(t, "SUSPENDED", snapshot["status"])
}

func newGovernanceTestDB(tb testing.TB, ctx context.Context) *pgxpool.Pool {
	tb.Helper()
	isCI := strings.TrimSpace(os.Getenv("CI")) != "" || strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true")

	conf := configuration.Use()
	db := conf.Database
	adminDSN := "postgres://" + db.User + ":" + db.Password + "@" + db.Host + ":" + db.Port + "/postgres?sslmode=disable"
	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("postgres is not reachable; skipping integration test")
	}
	tb.Cleanup(func() { _ = adminConn.Close(ctx) })

	dbName := "gov_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(tb.Name()))

	_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("failed to create test database; skipping integration test")
	}

	pool, err := pgxpool.New(ctx, "postgres://"+db.User+":"+db.Password+"@"+db.Host+":"+db.Port+"/"+dbName+"?sslmode=disable")
	require.NoError(tb, err)
	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})

	_, err = migrations.Up(ctx, pool)
	require.NoError(tb, err)
	return pool
}
