package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jdrojas/pharma-ledger/internal/adapter/storage"
	"github.com/jdrojas/pharma-ledger/internal/core/domain"
	"github.com/jdrojas/pharma-ledger/internal/core/service"
)

type testEnv struct {
	redis     *redis.Client
	mysql     *sql.DB
	inventory *service.InventoryService
	monitor   *service.MonitorService
	ledger    *storage.MySQLAdapter
	cleanup   func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/pharma?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := storage.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("schema setup failed: %v", err)
	}

	ledger := storage.NewMySQLAdapter(db, 5*time.Second)
	cache := storage.NewRedisAdapter(rdb)
	logger := zap.NewNop()

	return &testEnv{
		redis:     rdb,
		mysql:     db,
		inventory: service.NewInventoryService(ledger, cache, logger),
		monitor:   service.NewMonitorService(storage.NewMySQLMonitor(db), logger),
		ledger:    ledger,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

func TestIntegration_FullOrderLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	admin := domain.Actor{ID: "it-admin", Role: domain.RoleAdmin}

	product, err := env.inventory.CreateProduct(ctx, admin, "Amoxicilina 250mg "+uuid.NewString()[:8], "suspension", 12.50)
	require.NoError(t, err)

	lot, err := env.inventory.CreateLot(ctx, admin, product.ID, 30,
		time.Now().AddDate(1, 0, 0), "IT-"+uuid.NewString()[:13], 12.50)
	require.NoError(t, err)

	// Purchase tops the lot up.
	purchase, err := env.inventory.CreateOrder(ctx, admin, domain.OrderTypePurchase, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 20, UnitPrice: 8.0},
	})
	require.NoError(t, err)
	_, err = env.inventory.FinalizeOrder(ctx, admin, purchase.ID)
	require.NoError(t, err)

	// Sale takes some of it.
	sale, err := env.inventory.CreateOrder(ctx, admin, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 15, UnitPrice: 12.50},
	})
	require.NoError(t, err)
	assert.InDelta(t, 187.50, sale.Total, 0.001)

	// Cancelling the sale puts it back.
	_, err = env.inventory.CancelOrder(ctx, admin, sale.ID)
	require.NoError(t, err)

	final, err := env.ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.Quantity+20, final.Quantity)
	assert.Equal(t, domain.LotStateAvailable, final.State)

	// Three committed mutations: purchase, sale, cancel.
	assert.Equal(t, lot.Version+3, final.Version)

	history, err := env.monitor.AuditHistory(ctx, lot.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "cancel:sale", history[0].Operation, "newest first")
}

func TestIntegration_ConcurrentSalesNoOversell(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	admin := domain.Actor{ID: "it-admin", Role: domain.RoleAdmin}
	initialStock := 10
	totalRequests := 20

	product, err := env.inventory.CreateProduct(ctx, admin, "Ibuprofeno 400mg "+uuid.NewString()[:8], "", 6.0)
	require.NoError(t, err)
	lot, err := env.inventory.CreateLot(ctx, admin, product.ID, initialStock,
		time.Now().AddDate(1, 0, 0), "IT-"+uuid.NewString()[:13], 6.0)
	require.NoError(t, err)

	var success, fail atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buyer := domain.Actor{ID: fmt.Sprintf("it-user-%d", n)}
			_, err := env.inventory.CreateOrder(ctx, buyer, domain.OrderTypeSale, []domain.OrderLine{
				{LotID: lot.ID, Quantity: 1, UnitPrice: 6.0},
			})
			if err == nil {
				success.Add(1)
			} else {
				fail.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), success.Load())
	assert.Equal(t, int32(totalRequests-initialStock), fail.Load())

	final, err := env.ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, final.Quantity)
	assert.Equal(t, domain.LotStateReserved, final.State)
	assert.Equal(t, 1+initialStock, final.Version, "exactly one version bump per committed sale")
}

func TestIntegration_InventoryReadThroughCache(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	admin := domain.Actor{ID: "it-admin", Role: domain.RoleAdmin}

	product, err := env.inventory.CreateProduct(ctx, admin, "Loratadina 10mg "+uuid.NewString()[:8], "", 4.0)
	require.NoError(t, err)
	lot, err := env.inventory.CreateLot(ctx, admin, product.ID, 8,
		time.Now().AddDate(1, 0, 0), "IT-"+uuid.NewString()[:13], 4.0)
	require.NoError(t, err)

	view, err := env.inventory.ProductInventory(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, view.TotalStock)

	cacheKey := fmt.Sprintf("product:%d:lots", product.ID)
	require.NoError(t, env.redis.Get(ctx, cacheKey).Err(), "read must fill the cache")

	// A committed sale invalidates the entry; the next read rebuilds it.
	_, err = env.inventory.CreateOrder(ctx, admin, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 3, UnitPrice: 4.0},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, env.redis.Get(ctx, cacheKey).Err(), redis.Nil, "sale must drop the cached view")

	view, err = env.inventory.ProductInventory(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, view.TotalStock)
}

func TestIntegration_LockWaitVisibleToMonitor(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	admin := domain.Actor{ID: "it-admin", Role: domain.RoleAdmin}

	product, err := env.inventory.CreateProduct(ctx, admin, "Omeprazol 20mg "+uuid.NewString()[:8], "", 7.0)
	require.NoError(t, err)
	lot, err := env.inventory.CreateLot(ctx, admin, product.ID, 10,
		time.Now().AddDate(1, 0, 0), "IT-"+uuid.NewString()[:13], 7.0)
	require.NoError(t, err)

	// Hold the row on one connection, then race a sale against it.
	tx, err := env.mysql.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `SELECT id FROM lotes WHERE id = ? FOR UPDATE`, lot.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := env.inventory.CreateOrder(ctx, admin, domain.OrderTypeSale, []domain.OrderLine{
			{LotID: lot.ID, Quantity: 1, UnitPrice: 7.0},
		})
		done <- err
	}()

	// Give the sale time to block on the held lock.
	time.Sleep(500 * time.Millisecond)

	waits, err := env.monitor.LockWaits(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, waits, "the blocked sale must show up as a wait edge")

	require.NoError(t, tx.Rollback())
	require.NoError(t, <-done, "the sale must proceed once the lock is released")
}
