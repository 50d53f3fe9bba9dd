package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

func TestMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_FaultInjection(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	key := domain.LocationKey{WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Batch: "B1", Status: domain.StatusAvailable}
	injected := errors.New("disk full")

	repo.InjectFault(func(op string, rec domain.InventoryRecord) error {
		if op == "create" && rec.Quantity > 5 {
			return injected
		}
		return nil
	})

	err := repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		_, err := tx.Create(ctx, domain.NewInventoryRecord(key, 6, nil, "", time.Now()))
		return err
	})
	assert.ErrorIs(t, err, injected)
	assert.Zero(t, repo.Writes())

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		_, err := tx.Create(ctx, domain.NewInventoryRecord(key, 5, nil, "", time.Now()))
		return err
	}))
	assert.Equal(t, int64(1), repo.Writes())

	repo.InjectFault(nil)
}

func TestMemoryRepository_RejectsNegativeQuantity(t *testing.T) {
	repo := NewMemoryRepository()
	key := domain.LocationKey{WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Batch: "B1", Status: domain.StatusAvailable}

	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		_, err := tx.Create(ctx, domain.NewInventoryRecord(key, -1, nil, "", time.Now()))
		return err
	})

	assert.Error(t, err)
}

func TestMemoryRepository_ReadsAreCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	exp := time.Now().AddDate(0, 1, 0)
	key := domain.LocationKey{WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Batch: "B1", Status: domain.StatusAvailable}

	var rec domain.InventoryRecord
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		var err error
		rec, err = tx.Create(ctx, domain.NewInventoryRecord(key, 1, &exp, "", time.Now()))
		return err
	}))

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	*got.ExpirationDate = got.ExpirationDate.AddDate(1, 0, 0)

	again, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, exp.Equal(*again.ExpirationDate))
}

func TestMemoryRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryRepository().RunInTx(ctx, func(context.Context, port.InventoryTx) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locker.size())

	other, err := locker.Lock(ctx, "other")
	require.NoError(t, err)
	other()

	release()
	release()
	assert.Zero(t, locker.size(), "released keys are forgotten")

	again, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	again()
	assert.Zero(t, locker.size())
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "k")
			if err != nil {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, locker.size())
}

func TestMemorySequencerAndIdempotency(t *testing.T) {
	ctx := context.Background()
	seq := NewMemorySequencer()

	n, _ := seq.Next(ctx, "a")
	assert.Equal(t, int64(1), n)
	n, _ = seq.Next(ctx, "a")
	assert.Equal(t, int64(2), n)
	n, _ = seq.Next(ctx, "b")
	assert.Equal(t, int64(1), n)

	idem := NewMemoryIdempotency()
	ok, _ := idem.SetIdempotency(ctx, "r1")
	assert.True(t, ok)
	ok, _ = idem.SetIdempotency(ctx, "r1")
	assert.False(t, ok)
	require.NoError(t, idem.ReleaseIdempotency(ctx, "r1"))
	ok, _ = idem.SetIdempotency(ctx, "r1")
	assert.True(t, ok)
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()
	c.AddWarehouse(domain.Warehouse{ID: "W1", Name: "Main"})
	c.AddVariant(domain.Variant{ID: "V1", SKU: "S"})
	c.AddUnit(domain.Unit{ID: "U1", Name: "piece"})

	wh, err := c.FindWarehouse(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Main", wh.Name)

	missing, err := c.FindWarehouse(ctx, "W2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	v, _ := c.FindVariant(ctx, "V1")
	assert.Equal(t, "S", v.SKU)
	u, _ := c.FindUnit(ctx, "U9")
	assert.Nil(t, u)
}
