package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// MySQLAdapter implements port.LedgerRepository on MySQL/InnoDB. All mutual
// exclusion is delegated to the store's row locks and isolation levels; there
// is no in-process locking anywhere in the write path.
type MySQLAdapter struct {
	db              *sql.DB
	lockWaitTimeout time.Duration
}

func NewMySQLAdapter(db *sql.DB, lockWaitTimeout time.Duration) *MySQLAdapter {
	return &MySQLAdapter{db: db, lockWaitTimeout: lockWaitTimeout}
}

// begin opens a transaction and bounds every lock wait inside it. A blocked
// lock acquisition is the only suspension point; past the timeout the server
// aborts the statement and the whole transaction rolls back.
func (m *MySQLAdapter) begin(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := m.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if m.lockWaitTimeout > 0 {
		if _, err := tx.ExecContext(ctx, `SET innodb_lock_wait_timeout = ?`, int(m.lockWaitTimeout.Seconds())); err != nil {
			tx.Rollback()
			return nil, mapError(err)
		}
	}
	return tx, nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO productos (nombre, descripcion, precio_base) VALUES (?, ?, ?)`,
		p.Name, p.Description, p.BasePrice)
	if err != nil {
		return nil, mapError(err)
	}
	p.ID, _ = res.LastInsertId()
	p.CreatedAt = time.Now()
	return &p, nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, productID int64) error {
	tx, err := m.begin(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := lockProduct(ctx, tx, productID); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lotes WHERE producto_id = ?`, productID).Scan(&count); err != nil {
		return mapError(err)
	}
	if count > 0 {
		return &domain.ConstraintError{
			Detail: fmt.Sprintf("cannot delete product %d: %d dependent lot(s)", productID, count),
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM productos WHERE id = ?`, productID); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (m *MySQLAdapter) CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error) {
	tx, err := m.begin(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Shared lock pins the product's existence until the insert commits.
	if _, err := lockProductShared(ctx, tx, lot.ProductID); err != nil {
		return nil, err
	}

	lot.State = domain.LotStateAvailable
	lot.Version = 1
	res, err := tx.ExecContext(ctx, `
		INSERT INTO lotes (producto_id, codigo_lote, cantidad, fecha_vencimiento, precio, estado, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lot.ProductID, lot.Code, lot.Quantity, lot.ExpiresAt, lot.Price, lot.State, lot.Version)
	if err != nil {
		return nil, mapError(err)
	}
	lot.ID, _ = res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	now := time.Now()
	lot.CreatedAt, lot.UpdatedAt = now, now
	return &lot, nil
}

func (m *MySQLAdapter) GetLot(ctx context.Context, lotID int64) (*domain.Lot, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lotes WHERE id = ?`, lotID)
	var lot domain.Lot
	if err := scanLot(row, &lot); err != nil {
		return nil, err
	}
	return &lot, nil
}

func (m *MySQLAdapter) AvailableLots(ctx context.Context, productID int64, now time.Time) ([]domain.Lot, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+lotColumns+` FROM lotes
		WHERE producto_id = ? AND estado = ? AND cantidad > 0 AND fecha_vencimiento >= DATE(?)
		ORDER BY fecha_vencimiento ASC`,
		productID, domain.LotStateAvailable, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		var lot domain.Lot
		if err := scanLot(rows, &lot); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, mapError(rows.Err())
}

func (m *MySQLAdapter) AdjustLotQuantity(ctx context.Context, actor domain.Actor, lotID int64, quantity, expectedVersion int) (*domain.Lot, error) {
	if quantity < 0 {
		return nil, domain.Validationf("quantity cannot be negative")
	}

	tx, err := m.begin(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lot, err := lockLot(ctx, tx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Version != expectedVersion {
		return nil, &domain.ConflictError{
			Detail:           fmt.Sprintf("lot %d was modified by another transaction", lotID),
			CurrentVersion:   lot.Version,
			SubmittedVersion: expectedVersion,
		}
	}

	state := domain.LotStateAvailable
	if quantity == 0 {
		state = domain.LotStateReserved
	}
	mut := domain.LotMutation{
		LotID:          lot.ID,
		ProductID:      lot.ProductID,
		Code:           lot.Code,
		QuantityBefore: lot.Quantity,
		QuantityAfter:  quantity,
		StateAfter:     state,
		VersionBefore:  lot.Version,
	}
	if err := applyMutations(ctx, tx, "adjust", actor, uuid.NewString(), []domain.LotMutation{mut}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}

	lot.Quantity = quantity
	lot.State = state
	lot.Version++
	return lot, nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, actor domain.Actor, typ domain.OrderType, lines []domain.OrderLine) (*domain.Order, []domain.Lot, error) {
	// Serializable: two racing sale orders must not both read "enough stock"
	// before either writes.
	tx, err := m.begin(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.LotID)
	}
	lots, err := lockLots(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	plan, err := domain.PlanOrder(typ, lots, lines, time.Now())
	if err != nil {
		return nil, nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ordenes (tipo, usuario_id, estado, total) VALUES (?, ?, ?, ?)`,
		typ, actor.ID, domain.OrderStatusPending, plan.Total)
	if err != nil {
		return nil, nil, mapError(err)
	}
	orderID, _ := res.LastInsertId()

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orden_items (orden_id, lote_id, cantidad, precio_unit) VALUES (?, ?, ?, ?)`,
			orderID, line.LotID, line.Quantity, line.UnitPrice); err != nil {
			return nil, nil, mapError(err)
		}
	}

	if err := applyMutations(ctx, tx, "order:"+string(typ), actor, uuid.NewString(), plan.Mutations); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapError(err)
	}

	order := &domain.Order{
		ID:        orderID,
		Type:      typ,
		ActorID:   actor.ID,
		Status:    domain.OrderStatusPending,
		Total:     plan.Total,
		CreatedAt: time.Now(),
	}
	return order, touchedLots(lots, plan.Mutations), nil
}

func (m *MySQLAdapter) FinalizeOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	tx, err := m.begin(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, domain.Validationf("order %d is already %s", orderID, order.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ordenes SET estado = ? WHERE id = ?`, domain.OrderStatusCompleted, orderID); err != nil {
		return nil, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	order.Status = domain.OrderStatusCompleted
	return order, nil
}

func (m *MySQLAdapter) CancelOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, []domain.Lot, error) {
	tx, err := m.begin(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, nil, domain.Validationf("cannot cancel a %s order", order.Status)
	}

	items, err := orderItems(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.LotID)
	}
	lots, err := lockLots(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	plan, err := domain.PlanReversal(order.Type, lots, items)
	if err != nil {
		return nil, nil, err
	}

	if err := applyMutations(ctx, tx, "cancel:"+string(order.Type), actor, uuid.NewString(), plan.Mutations); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ordenes SET estado = ? WHERE id = ?`, domain.OrderStatusCancelled, orderID); err != nil {
		return nil, nil, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapError(err)
	}

	order.Status = domain.OrderStatusCancelled
	return order, touchedLots(lots, plan.Mutations), nil
}

func orderItems(ctx context.Context, tx *sql.Tx, orderID int64) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, orden_id, lote_id, cantidad, precio_unit FROM orden_items WHERE orden_id = ?`, orderID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.LotID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, mapError(err)
		}
		items = append(items, item)
	}
	return items, mapError(rows.Err())
}

// applyMutations writes planned lot changes with a version-guarded update and
// stamps one audit row per touched lot, inside the caller's transaction.
// Under correct lock scope the guard never fires; zero affected rows aborts
// the transaction as a conflict.
func applyMutations(ctx context.Context, tx *sql.Tx, operation string, actor domain.Actor, opID string, muts []domain.LotMutation) error {
	for _, mut := range muts {
		res, err := tx.ExecContext(ctx, `
			UPDATE lotes
			SET cantidad = ?, estado = ?, version = version + 1, updated_at = NOW()
			WHERE id = ? AND version = ?`,
			mut.QuantityAfter, mut.StateAfter, mut.LotID, mut.VersionBefore)
		if err != nil {
			return mapError(err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return &domain.ConflictError{
				Detail:           fmt.Sprintf("lot %d was modified by another transaction", mut.LotID),
				SubmittedVersion: mut.VersionBefore,
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO auditoria_lotes
				(operacion, lote_id, cantidad_anterior, cantidad_nueva, version_anterior, version_nueva, usuario, op_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			operation, mut.LotID, mut.QuantityBefore, mut.QuantityAfter,
			mut.VersionBefore, mut.VersionBefore+1, actor.ID, opID); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// touchedLots is the post-mutation view of every lot a plan touched, for
// cache invalidation by the caller.
func touchedLots(lots map[int64]domain.Lot, muts []domain.LotMutation) []domain.Lot {
	out := make([]domain.Lot, 0, len(muts))
	for _, mut := range muts {
		lot := lots[mut.LotID]
		lot.Quantity = mut.QuantityAfter
		lot.State = mut.StateAfter
		lot.Version = mut.VersionBefore + 1
		out = append(out, lot)
	}
	return out
}
