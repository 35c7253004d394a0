package storage

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/pharma?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("schema setup failed: %v", err)
	}
	return db
}

func newTestAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })
	return NewMySQLAdapter(db, 5*time.Second), db
}

func createTestProduct(t *testing.T, a *MySQLAdapter) *domain.Product {
	t.Helper()
	product, err := a.CreateProduct(context.Background(), domain.Product{
		Name:      "test-" + uuid.NewString()[:8],
		BasePrice: 9.99,
	})
	require.NoError(t, err)
	return product
}

func createTestLot(t *testing.T, a *MySQLAdapter, productID int64, qty int) *domain.Lot {
	t.Helper()
	lot, err := a.CreateLot(context.Background(), domain.Lot{
		ProductID: productID,
		Code:      "T-" + uuid.NewString()[:13],
		Quantity:  qty,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
		Price:     9.99,
	})
	require.NoError(t, err)
	return lot
}

var testActor = domain.Actor{ID: "test-user", Role: domain.RoleAdmin}

func TestCreateLotDuplicateCode(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 5)

	_, err := adapter.CreateLot(ctx, domain.Lot{
		ProductID: product.ID,
		Code:      lot.Code,
		Quantity:  3,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
		Price:     1.0,
	})

	var constraint *domain.ConstraintError
	assert.ErrorAs(t, err, &constraint)
}

func TestCreateLotUnknownProduct(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.CreateLot(context.Background(), domain.Lot{
		ProductID: 999999999,
		Code:      "T-" + uuid.NewString()[:13],
		Quantity:  3,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
		Price:     1.0,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrderSaleDecrementsAndAudits(t *testing.T) {
	adapter, db := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 10)

	order, touched, err := adapter.CreateOrder(ctx, testActor, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 4, UnitPrice: 9.99},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.InDelta(t, 39.96, order.Total, 0.001)
	require.Len(t, touched, 1)
	assert.Equal(t, 6, touched[0].Quantity)

	after, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, after.Quantity)
	assert.Equal(t, lot.Version+1, after.Version)
	assert.Equal(t, domain.LotStateAvailable, after.State)

	var audits int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auditoria_lotes WHERE lote_id = ? AND operacion = 'order:sale'`,
		lot.ID).Scan(&audits))
	assert.Equal(t, 1, audits, "one audit row per touched lot")
}

func TestCreateOrderSaleInsufficientStock(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 3)

	_, _, err := adapter.CreateOrder(ctx, testActor, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 5, UnitPrice: 9.99},
	})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	// Rejection must leave the lot untouched.
	after, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Quantity)
	assert.Equal(t, lot.Version, after.Version)
}

func TestCreateOrderConcurrentSalesNoOversell(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 2)

	// Two racing sales of 2 against stock 2: exactly one may commit.
	var success, fail atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			actor := domain.Actor{ID: fmt.Sprintf("racer-%d", n)}
			_, _, err := adapter.CreateOrder(ctx, actor, domain.OrderTypeSale, []domain.OrderLine{
				{LotID: lot.ID, Quantity: 2, UnitPrice: 9.99},
			})
			if err == nil {
				success.Add(1)
			} else {
				fail.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(1), fail.Load())

	after, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Quantity)
	assert.Equal(t, domain.LotStateReserved, after.State)
	assert.Equal(t, lot.Version+1, after.Version)
}

func TestCancelSaleRestoresStock(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 5)

	order, _, err := adapter.CreateOrder(ctx, testActor, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 5, UnitPrice: 9.99},
	})
	require.NoError(t, err)

	drained, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Equal(t, 0, drained.Quantity)
	require.Equal(t, domain.LotStateReserved, drained.State)

	cancelled, touched, err := adapter.CancelOrder(ctx, testActor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.Len(t, touched, 1)

	after, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Quantity)
	assert.Equal(t, domain.LotStateAvailable, after.State)
	assert.Equal(t, lot.Version+2, after.Version, "one bump for the sale, one for the reversal")
}

func TestCancelPurchaseInsufficientRemainder(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 0)

	purchase, _, err := adapter.CreateOrder(ctx, testActor, domain.OrderTypePurchase, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 10, UnitPrice: 2.0},
	})
	require.NoError(t, err)

	// Sell 8 of the purchased units on, then try to cancel the purchase.
	_, _, err = adapter.CreateOrder(ctx, testActor, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 8, UnitPrice: 9.99},
	})
	require.NoError(t, err)

	_, _, err = adapter.CancelOrder(ctx, testActor, purchase.ID)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	// The failed cancellation must change nothing.
	after, err := adapter.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Quantity)

	current, err := adapter.FinalizeOrder(ctx, purchase.ID)
	require.NoError(t, err, "order must still be pending after the failed cancel")
	assert.Equal(t, domain.OrderStatusCompleted, current.Status)
}

func TestFinalizeOrderIsTerminal(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 5)

	order, _, err := adapter.CreateOrder(ctx, testActor, domain.OrderTypeSale, []domain.OrderLine{
		{LotID: lot.ID, Quantity: 1, UnitPrice: 9.99},
	})
	require.NoError(t, err)

	_, err = adapter.FinalizeOrder(ctx, order.ID)
	require.NoError(t, err)

	var verr *domain.ValidationError

	_, err = adapter.FinalizeOrder(ctx, order.ID)
	assert.ErrorAs(t, err, &verr)

	_, _, err = adapter.CancelOrder(ctx, testActor, order.ID)
	assert.ErrorAs(t, err, &verr)
}

func TestAdjustLotQuantityVersionConflict(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 10)

	updated, err := adapter.AdjustLotQuantity(ctx, testActor, lot.ID, 8, lot.Version)
	require.NoError(t, err)
	assert.Equal(t, lot.Version+1, updated.Version)

	// Replaying the original version must conflict and report both sides.
	_, err = adapter.AdjustLotQuantity(ctx, testActor, lot.ID, 6, lot.Version)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, updated.Version, conflict.CurrentVersion)
	assert.Equal(t, lot.Version, conflict.SubmittedVersion)
}

func TestAdjustLotQuantityToZeroReserves(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	lot := createTestLot(t, adapter, product.ID, 10)

	updated, err := adapter.AdjustLotQuantity(ctx, testActor, lot.ID, 0, lot.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.LotStateReserved, updated.State)
}

func TestDeleteProductWithLots(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	createTestLot(t, adapter, product.ID, 5)

	err := adapter.DeleteProduct(ctx, product.ID)
	var constraint *domain.ConstraintError
	assert.ErrorAs(t, err, &constraint)
}

func TestDeleteProductWithoutLots(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	require.NoError(t, adapter.DeleteProduct(ctx, product.ID))

	err := adapter.DeleteProduct(ctx, product.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAvailableLotsFiltersExpiredAndEmpty(t *testing.T) {
	adapter, db := newTestAdapter(t)
	ctx := context.Background()

	product := createTestProduct(t, adapter)
	good := createTestLot(t, adapter, product.ID, 5)
	empty := createTestLot(t, adapter, product.ID, 3)
	expired := createTestLot(t, adapter, product.ID, 7)

	_, err := adapter.AdjustLotQuantity(ctx, testActor, empty.ID, 0, empty.Version)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`UPDATE lotes SET fecha_vencimiento = DATE_SUB(CURDATE(), INTERVAL 1 DAY) WHERE id = ?`, expired.ID)
	require.NoError(t, err)

	lots, err := adapter.AvailableLots(ctx, product.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, good.ID, lots[0].ID)
}
