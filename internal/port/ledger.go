package port

import (
	"context"
	"time"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// LedgerRepository is the transactional inventory store. Every mutating call
// runs as one all-or-nothing transaction that acquires its row locks before
// touching anything; on any error no mutation is observable.
//
// Mutating calls that touch lots return the post-mutation view of every
// touched lot so the caller can invalidate derived cache entries.
type LedgerRepository interface {
	CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, productID int64) error

	CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error)
	GetLot(ctx context.Context, lotID int64) (*domain.Lot, error)
	AvailableLots(ctx context.Context, productID int64, now time.Time) ([]domain.Lot, error)
	AdjustLotQuantity(ctx context.Context, actor domain.Actor, lotID int64, quantity, expectedVersion int) (*domain.Lot, error)

	CreateOrder(ctx context.Context, actor domain.Actor, typ domain.OrderType, lines []domain.OrderLine) (*domain.Order, []domain.Lot, error)
	FinalizeOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, []domain.Lot, error)
}
