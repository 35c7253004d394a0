package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// MySQLMonitor implements port.MonitorRepository on the server's own
// introspection tables (performance_schema, information_schema, sys). The
// queries read system views only; they never touch ledger rows, so running
// them adds no contention to the write path.
type MySQLMonitor struct {
	db *sql.DB
}

func NewMySQLMonitor(db *sql.DB) *MySQLMonitor {
	return &MySQLMonitor{db: db}
}

func (m *MySQLMonitor) ActiveLocks(ctx context.Context) ([]domain.LockInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT
			dl.LOCK_TYPE,
			COALESCE(dl.OBJECT_NAME, ''),
			dl.LOCK_MODE,
			dl.LOCK_STATUS,
			COALESCE(th.PROCESSLIST_ID, 0),
			COALESCE(t.trx_state, ''),
			COALESCE(LEFT(t.trx_query, 100), ''),
			COALESCE(TIMESTAMPDIFF(MICROSECOND, t.trx_started, NOW()) / 1e6, 0)
		FROM performance_schema.data_locks dl
		LEFT JOIN performance_schema.threads th ON th.THREAD_ID = dl.THREAD_ID
		LEFT JOIN information_schema.innodb_trx t ON t.trx_mysql_thread_id = th.PROCESSLIST_ID
		WHERE th.PROCESSLIST_ID IS NULL OR th.PROCESSLIST_ID != CONNECTION_ID()
		ORDER BY 8 DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var locks []domain.LockInfo
	for rows.Next() {
		var l domain.LockInfo
		if err := rows.Scan(&l.Type, &l.Table, &l.Mode, &l.Status, &l.PID, &l.State, &l.Query, &l.Elapsed); err != nil {
			return nil, mapError(err)
		}
		locks = append(locks, l)
	}
	return locks, mapError(rows.Err())
}

func (m *MySQLMonitor) LockWaits(ctx context.Context) ([]domain.LockWait, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT
			w.waiting_pid,
			COALESCE(pw.USER, ''),
			COALESCE(LEFT(w.waiting_query, 100), ''),
			w.blocking_pid,
			COALESCE(pb.USER, ''),
			COALESCE(LEFT(w.blocking_query, 100), ''),
			COALESCE(w.locked_table, ''),
			w.wait_age_secs
		FROM sys.innodb_lock_waits w
		LEFT JOIN information_schema.PROCESSLIST pw ON pw.ID = w.waiting_pid
		LEFT JOIN information_schema.PROCESSLIST pb ON pb.ID = w.blocking_pid`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var waits []domain.LockWait
	for rows.Next() {
		var w domain.LockWait
		if err := rows.Scan(&w.WaitingPID, &w.WaitingUser, &w.WaitingQuery,
			&w.BlockingPID, &w.BlockingUser, &w.BlockingQuery, &w.LockedTable, &w.WaitSeconds); err != nil {
			return nil, mapError(err)
		}
		waits = append(waits, w)
	}
	return waits, mapError(rows.Err())
}

func (m *MySQLMonitor) LongRunningTransactions(ctx context.Context, minDuration time.Duration) ([]domain.TransactionInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT
			t.trx_mysql_thread_id,
			COALESCE(p.USER, ''),
			COALESCE(p.HOST, ''),
			t.trx_state,
			COALESCE(LEFT(t.trx_query, 100), ''),
			TIMESTAMPDIFF(MICROSECOND, t.trx_started, NOW()) / 1e6
		FROM information_schema.innodb_trx t
		LEFT JOIN information_schema.PROCESSLIST p ON p.ID = t.trx_mysql_thread_id
		WHERE t.trx_started <= NOW() - INTERVAL ? SECOND
			AND t.trx_mysql_thread_id != CONNECTION_ID()
		ORDER BY t.trx_started ASC`,
		int(minDuration.Seconds()))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var txs []domain.TransactionInfo
	for rows.Next() {
		var t domain.TransactionInfo
		if err := rows.Scan(&t.PID, &t.User, &t.Host, &t.State, &t.Query, &t.Duration); err != nil {
			return nil, mapError(err)
		}
		txs = append(txs, t)
	}
	return txs, mapError(rows.Err())
}

func (m *MySQLMonitor) ConnectionStats(ctx context.Context) (*domain.ConnectionStats, error) {
	var stats domain.ConnectionStats
	err := m.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(COMMAND != 'Sleep'), 0),
			COALESCE(SUM(COMMAND = 'Sleep'), 0)
		FROM information_schema.PROCESSLIST
		WHERE DB = DATABASE()`).
		Scan(&stats.Total, &stats.Active, &stats.Idle)
	if err != nil {
		return nil, mapError(err)
	}

	// Open transactions whose connection has gone back to sleep.
	err = m.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.innodb_trx t
		JOIN information_schema.PROCESSLIST p ON p.ID = t.trx_mysql_thread_id
		WHERE p.COMMAND = 'Sleep'`).
		Scan(&stats.IdleInTransaction)
	if err != nil {
		return nil, mapError(err)
	}
	return &stats, nil
}

func (m *MySQLMonitor) TransactionStats(ctx context.Context) (*domain.TransactionStats, error) {
	var stats domain.TransactionStats

	rows, err := m.db.QueryContext(ctx, `
		SELECT VARIABLE_NAME, VARIABLE_VALUE
		FROM performance_schema.global_status
		WHERE VARIABLE_NAME IN ('Com_commit', 'Com_rollback')`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, mapError(err)
		}
		n, _ := strconv.ParseInt(value, 10, 64)
		switch name {
		case "Com_commit":
			stats.Commits = n
		case "Com_rollback":
			stats.Rollbacks = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	metrics, err := m.db.QueryContext(ctx, `
		SELECT NAME, COUNT
		FROM information_schema.INNODB_METRICS
		WHERE NAME IN ('lock_deadlocks', 'lock_timeouts')`)
	if err != nil {
		return nil, mapError(err)
	}
	defer metrics.Close()
	for metrics.Next() {
		var name string
		var count int64
		if err := metrics.Scan(&name, &count); err != nil {
			return nil, mapError(err)
		}
		switch name {
		case "lock_deadlocks":
			stats.Deadlocks = count
		case "lock_timeouts":
			stats.LockTimeouts = count
		}
	}
	if err := metrics.Err(); err != nil {
		return nil, mapError(err)
	}

	if total := stats.Commits + stats.Rollbacks; total > 0 {
		stats.RollbackPercent = float64(stats.Rollbacks) / float64(total) * 100
	}
	return &stats, nil
}

func (m *MySQLMonitor) StockSummary(ctx context.Context) ([]domain.ProductStock, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT p.id, p.nombre, COUNT(l.id), COALESCE(SUM(l.cantidad), 0)
		FROM productos p
		LEFT JOIN lotes l ON l.producto_id = p.id
			AND l.estado = 'available' AND l.cantidad > 0 AND l.fecha_vencimiento >= CURDATE()
		GROUP BY p.id, p.nombre
		ORDER BY 4 DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var summary []domain.ProductStock
	for rows.Next() {
		var s domain.ProductStock
		if err := rows.Scan(&s.ProductID, &s.Name, &s.Lots, &s.TotalStock); err != nil {
			return nil, mapError(err)
		}
		summary = append(summary, s)
	}
	return summary, mapError(rows.Err())
}

func (m *MySQLMonitor) AuditHistory(ctx context.Context, lotID int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT a.id, a.operacion, a.lote_id, COALESCE(l.codigo_lote, ''),
			a.cantidad_anterior, a.cantidad_nueva, a.version_anterior, a.version_nueva,
			a.usuario, a.op_id, a.ts
		FROM auditoria_lotes a
		LEFT JOIN lotes l ON l.id = a.lote_id`
	args := []any{}
	if lotID > 0 {
		query += ` WHERE a.lote_id = ?`
		args = append(args, lotID)
	}
	query += ` ORDER BY a.ts DESC, a.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.LotID, &e.LotCode,
			&e.QuantityBefore, &e.QuantityAfter, &e.VersionBefore, &e.VersionAfter,
			&e.Actor, &e.OpID, &e.At); err != nil {
			return nil, mapError(err)
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err())
}

func (m *MySQLMonitor) TerminateProcess(ctx context.Context, pid int64) error {
	// KILL does not take placeholders; pid is numeric by type so the
	// interpolation is safe.
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("KILL CONNECTION %d", pid))
	return mapError(err)
}
