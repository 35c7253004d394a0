package port

import (
	"context"
	"time"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// MonitorRepository surfaces the store's lock and transaction introspection
// tables. Every method is read-only and side-effect-free on the ledger,
// except TerminateProcess which forcibly aborts a backend connection.
type MonitorRepository interface {
	ActiveLocks(ctx context.Context) ([]domain.LockInfo, error)
	LockWaits(ctx context.Context) ([]domain.LockWait, error)
	LongRunningTransactions(ctx context.Context, minDuration time.Duration) ([]domain.TransactionInfo, error)
	ConnectionStats(ctx context.Context) (*domain.ConnectionStats, error)
	TransactionStats(ctx context.Context) (*domain.TransactionStats, error)
	StockSummary(ctx context.Context) ([]domain.ProductStock, error)

	// AuditHistory returns newest-first audit entries, filtered to one lot
	// when lotID > 0.
	AuditHistory(ctx context.Context, lotID int64, limit int) ([]domain.AuditEntry, error)

	TerminateProcess(ctx context.Context, pid int64) error
}
