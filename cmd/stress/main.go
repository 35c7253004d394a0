package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jdrojas/pharma-ledger/internal/adapter/storage"
	"github.com/jdrojas/pharma-ledger/internal/config"
	"github.com/jdrojas/pharma-ledger/internal/core/domain"
	"github.com/jdrojas/pharma-ledger/internal/core/service"
)

const (
	initialStock  = 20
	totalRequests = 50
	requestRate   = 200 // requests per second fed into the pool
)

// Contention drill: every request is a sale of quantity 1 against the same
// lot, so all transactions fight for one row lock. Exactly initialStock
// sales must succeed and the survivors must leave the lot at zero with one
// version bump per committed sale.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	ledger := storage.NewMySQLAdapter(db, cfg.LockWaitTimeout)
	inventory := service.NewInventoryService(ledger, noopCache{}, zap.NewNop())

	actor := domain.Actor{ID: "stress", Role: domain.RoleAdmin}

	product, err := inventory.CreateProduct(ctx, actor, "Paracetamol 500mg", "stress run", 3.50)
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	code := "STRESS-" + uuid.NewString()[:8]
	expiry := time.Now().AddDate(1, 0, 0)
	lot, err := inventory.CreateLot(ctx, actor, product.ID, initialStock, expiry, code, 3.50)
	if err != nil {
		log.Fatalf("failed to create lot: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32

	limiter := rate.NewLimiter(rate.Limit(requestRate), 10)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		if err := limiter.Wait(ctx); err != nil {
			log.Fatalf("limiter: %v", err)
		}
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			buyer := domain.Actor{ID: fmt.Sprintf("user-%d", userID)}
			_, err := inventory.CreateOrder(ctx, buyer, domain.OrderTypeSale, []domain.OrderLine{
				{LotID: lot.ID, Quantity: 1, UnitPrice: 3.50},
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d sales succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	final, err := ledger.GetLot(ctx, lot.ID)
	if err != nil {
		log.Fatalf("failed to read final lot: %v", err)
	}
	fmt.Printf("Final Quantity:   %d\n", final.Quantity)
	fmt.Printf("Final State:      %s\n", final.State)
	fmt.Printf("Final Version:    %d\n", final.Version)

	switch {
	case final.Quantity != 0:
		fmt.Printf("FAIL: Expected quantity 0, got %d\n", final.Quantity)
	case final.State != domain.LotStateReserved:
		fmt.Printf("FAIL: Expected state %s, got %s\n", domain.LotStateReserved, final.State)
	case final.Version != 1+initialStock:
		fmt.Printf("FAIL: Expected version %d, got %d\n", 1+initialStock, final.Version)
	default:
		fmt.Println("PASS: Lot depleted, reserved, and versioned once per sale")
	}
}

// noopCache keeps the stress run independent of Redis.
type noopCache struct{}

func (noopCache) Get(context.Context, string) (string, bool, error)      { return "", false, nil }
func (noopCache) Set(context.Context, string, string, time.Duration) error { return nil }
func (noopCache) Invalidate(context.Context, ...string) error            { return nil }
