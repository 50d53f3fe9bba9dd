package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// testRepositoryContract runs the behavior every InventoryRepository must
// share. Warehouse ids are unique per run so a shared database stays usable.
func testRepositoryContract(t *testing.T, repo port.InventoryRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	warehouse := "W-" + uuid.NewString()[:8]

	key := func(batch string) domain.LocationKey {
		return domain.LocationKey{WarehouseID: warehouse, VariantID: "V1", UnitID: "U1", Batch: batch, Status: domain.StatusAvailable}
	}
	at := func(days int) *time.Time {
		t := now.AddDate(0, 0, days)
		return &t
	}
	create := func(t *testing.T, rec domain.InventoryRecord) domain.InventoryRecord {
		t.Helper()
		var saved domain.InventoryRecord
		require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			var err error
			saved, err = tx.Create(ctx, rec)
			return err
		}))
		return saved
	}

	t.Run("create and read back", func(t *testing.T) {
		rec := create(t, domain.NewInventoryRecord(key("B-read"), 7, at(30), "tester", now))
		assert.Equal(t, 1, rec.Version)

		got, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 7, got.Quantity)
		assert.Equal(t, key("B-read"), got.Key())
		require.NotNil(t, got.ExpirationDate)
		assert.True(t, at(30).Equal(*got.ExpirationDate))
		assert.Equal(t, "tester", got.CreatedBy)

		missing, err := repo.FindByID(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("natural key is unique", func(t *testing.T) {
		create(t, domain.NewInventoryRecord(key("B-dup"), 1, nil, "", now))

		err := repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			_, err := tx.Create(ctx, domain.NewInventoryRecord(key("B-dup"), 2, nil, "", now))
			return err
		})
		assert.ErrorIs(t, err, domain.ErrDuplicateLot)
	})

	t.Run("update checks version", func(t *testing.T) {
		rec := create(t, domain.NewInventoryRecord(key("B-ver"), 10, nil, "", now))

		rec.Quantity = 4
		rec.UpdatedBy = "second"
		var updated domain.InventoryRecord
		require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			var err error
			updated, err = tx.Update(ctx, rec)
			return err
		}))
		assert.Equal(t, 2, updated.Version)

		err := repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			_, err := tx.Update(ctx, rec)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		got, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Quantity)
		assert.Equal(t, "second", got.UpdatedBy)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		rec := domain.NewInventoryRecord(key("B-rollback"), 3, nil, "", now)
		boom := errors.New("boom")

		err := repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			if _, err := tx.Create(ctx, rec); err != nil {
				return err
			}
			if err := tx.AppendMovement(ctx, domain.NewMovement(domain.MovementCheckIn, rec, 0, "", now)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		movements, err := repo.ListMovements(ctx, rec.ID, domain.PageRequest{}.Normalized())
		require.NoError(t, err)
		assert.Zero(t, movements.Total)
	})

	t.Run("pages in FEFO order", func(t *testing.T) {
		other := "V-" + uuid.NewString()[:8]
		mk := func(batch string, qty int, exp *time.Time, created time.Time) domain.InventoryRecord {
			k := key(batch)
			k.VariantID = other
			return create(t, domain.NewInventoryRecord(k, qty, exp, "", created))
		}
		late := mk("late", 5, at(20), now)
		undated := mk("undated", 1, nil, now)
		soonOld := mk("soon-old", 9, at(5), now.Add(-time.Hour))
		soonNew := mk("soon-new", 2, at(5), now)

		filter := domain.Filter{WarehouseID: warehouse, VariantID: other}
		page, err := repo.FindPage(ctx, filter, domain.PageRequest{Limit: 10}.Normalized())
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, []string{soonOld.ID, soonNew.ID, late.ID, undated.ID}, ids(page.Items))

		page, err = repo.FindPage(ctx, filter, domain.PageRequest{Limit: 2, Offset: 1, SortBy: domain.SortQuantity, Desc: true}.Normalized())
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, []string{late.ID, soonNew.ID}, ids(page.Items))

		expiring := domain.Filter{WarehouseID: warehouse, VariantID: other, Spec: domain.ExpiringWithin(10, now)}
		all, err := repo.FindAll(ctx, expiring)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{soonOld.ID, soonNew.ID, undated.ID}, ids(all))

		first, err := repo.FindOne(ctx, domain.Filter{WarehouseID: warehouse, VariantID: other, Spec: domain.Not(domain.LowStock(4))})
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, soonOld.ID, first.ID)
	})

	t.Run("movements newest first and delete checks version", func(t *testing.T) {
		rec := create(t, domain.NewInventoryRecord(key("B-mv"), 0, nil, "", now))

		for i, typ := range []domain.MovementType{domain.MovementCheckIn, domain.MovementCheckOut, domain.MovementDelete} {
			mv := domain.NewMovement(typ, rec, i, "auditor", now)
			mv.Reference = "ref"
			require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
				return tx.AppendMovement(ctx, mv)
			}))
		}

		err := repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			return tx.Delete(ctx, rec.ID, rec.Version+1)
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			return tx.Delete(ctx, rec.ID, rec.Version)
		}))
		gone, err := repo.FindByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		page, err := repo.ListMovements(ctx, rec.ID, domain.PageRequest{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Items, 2)
		assert.Equal(t, domain.MovementDelete, page.Items[0].Type)
		assert.Equal(t, domain.MovementCheckOut, page.Items[1].Type)
		assert.Equal(t, "auditor", page.Items[0].Actor)
		assert.Equal(t, "ref", page.Items[0].Reference)
	})
}

func ids(recs []domain.InventoryRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
