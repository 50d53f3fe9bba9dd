package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	sourceWarehouse = "STRESS-W1"
	targetWarehouse = "STRESS-W2"
	variantID       = "STRESS-V"
	unitID          = "STRESS-U"
	batch           = "STRESS-B"

	initialStock   = 100
	checkOuts      = 50
	checkOutQty    = 3
	transfers      = 20
	transferQty    = 2
	checkIns       = 20
	checkInQty     = 1
	lockTTLDefault = 10 * time.Second
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous test data
	for _, q := range []string{
		"DELETE FROM inventory_movements WHERE variant_id = ?",
		"DELETE FROM inventory_records WHERE variant_id = ?",
	} {
		if _, err := db.ExecContext(ctx, q, variantID); err != nil {
			log.Fatalf("failed to clear test data: %v", err)
		}
	}

	catalog := storage.NewMySQLCatalog(db)
	horizon := time.Now().UTC().AddDate(1, 0, 0)
	seed := []error{
		catalog.SaveWarehouse(ctx, domain.Warehouse{ID: sourceWarehouse, Code: sourceWarehouse, Name: "stress source", RegistrationExpirationDate: horizon}),
		catalog.SaveWarehouse(ctx, domain.Warehouse{ID: targetWarehouse, Code: targetWarehouse, Name: "stress target", RegistrationExpirationDate: horizon}),
		catalog.SaveVariant(ctx, domain.Variant{ID: variantID, SKU: variantID}),
		catalog.SaveUnit(ctx, domain.Unit{ID: unitID, Name: "piece"}),
	}
	if err := errors.Join(seed...); err != nil {
		log.Fatalf("failed to seed master data: %v", err)
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = lockTTLDefault
	}
	redisAdapter := storage.NewRedisAdapter(rdb, lockTTL)
	ledger := service.NewLedgerService(
		storage.NewMySQLRepository(db),
		catalog,
		redisAdapter,
		service.NewBatchGenerator(redisAdapter),
		service.WithLogger(zap.NewNop()),
		service.WithMaxAttempts(cfg.MaxRetries),
	)

	if _, err := ledger.CheckIn(ctx, service.CheckInCommand{
		Actor: "stress", WarehouseID: sourceWarehouse, VariantID: variantID, UnitID: unitID,
		Quantity: initialStock, Batch: batch,
	}); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	// Counters
	var (
		outOK, outFail           atomic.Int32
		transferOK, transferFail atomic.Int32
		inOK, inFail             atomic.Int32
		unexpected               atomic.Int32
	)
	countFailure := func(err error, fail *atomic.Int32) {
		fail.Add(1)
		if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrInventoryNotFound) {
			unexpected.Add(1)
			log.Printf("unexpected error: %v", err)
		}
	}

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < checkOuts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CheckOut(ctx, service.CheckOutCommand{
				Actor: "stress", WarehouseID: sourceWarehouse, VariantID: variantID, UnitID: unitID, Quantity: checkOutQty,
			})
			if err != nil {
				countFailure(err, &outFail)
				return
			}
			outOK.Add(1)
		}()
	}

	for i := 0; i < transfers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Transfer(ctx, service.TransferCommand{
				Actor: "stress", SourceWarehouseID: sourceWarehouse, TargetWarehouseID: targetWarehouse,
				VariantID: variantID, UnitID: unitID, Quantity: transferQty,
			})
			if err != nil {
				countFailure(err, &transferFail)
				return
			}
			transferOK.Add(1)
		}()
	}

	for i := 0; i < checkIns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CheckIn(ctx, service.CheckInCommand{
				Actor: "stress", WarehouseID: sourceWarehouse, VariantID: variantID, UnitID: unitID,
				Quantity: checkInQty, Batch: batch,
			})
			if err != nil {
				countFailure(err, &inFail)
				return
			}
			inOK.Add(1)
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	source, err := ledger.TotalQuantity(ctx, sourceWarehouse, variantID, unitID, "")
	if err != nil {
		log.Fatalf("failed to read source total: %v", err)
	}
	target, err := ledger.TotalQuantity(ctx, targetWarehouse, variantID, unitID, "")
	if err != nil {
		log.Fatalf("failed to read target total: %v", err)
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Check-outs:       %d ok / %d failed\n", outOK.Load(), outFail.Load())
	fmt.Printf("Transfers:        %d ok / %d failed\n", transferOK.Load(), transferFail.Load())
	fmt.Printf("Check-ins:        %d ok / %d failed\n", inOK.Load(), inFail.Load())
	fmt.Printf("Final Source:     %d\n", source)
	fmt.Printf("Final Target:     %d\n", target)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	expected := initialStock + int(inOK.Load())*checkInQty - int(outOK.Load())*checkOutQty
	if source+target == expected {
		fmt.Printf("PASS: quantity conserved (%d)\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d units across warehouses, got %d\n", expected, source+target)
	}

	if target == int(transferOK.Load())*transferQty {
		fmt.Println("PASS: target holds exactly the transferred units")
	} else {
		fmt.Printf("FAIL: expected target %d, got %d\n", int(transferOK.Load())*transferQty, target)
	}

	if source >= 0 && target >= 0 {
		fmt.Println("PASS: no negative stock")
	} else {
		fmt.Println("FAIL: negative stock")
	}

	if n := unexpected.Load(); n == 0 {
		fmt.Println("PASS: only stock-shortage rejections")
	} else {
		fmt.Printf("FAIL: %d unexpected errors\n", n)
	}
}
