package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// Lock coordination. All row locks for one operation are taken here, before
// any mutation, and multi-row lot locks always go through a single batched
// ascending-id statement: every transaction acquires overlapping lock sets in
// the same order, which is what keeps circular waits out by construction.

const lotColumns = `id, producto_id, codigo_lote, cantidad, fecha_vencimiento, precio, estado, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(r rowScanner, lot *domain.Lot) error {
	err := r.Scan(&lot.ID, &lot.ProductID, &lot.Code, &lot.Quantity, &lot.ExpiresAt,
		&lot.Price, &lot.State, &lot.Version, &lot.CreatedAt, &lot.UpdatedAt)
	return mapError(err)
}

// lockLots takes exclusive locks on the whole lot set in one statement and
// returns the locked rows keyed by id. Missing ids are simply absent from the
// result; the caller decides whether that is an error.
func lockLots(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]domain.Lot, error) {
	if len(ids) == 0 {
		return map[int64]domain.Lot{}, nil
	}

	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	args := make([]any, len(unique))
	for i, id := range unique {
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT `+lotColumns+` FROM lotes WHERE id IN (%s) ORDER BY id FOR UPDATE`, placeholders)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	lots := make(map[int64]domain.Lot, len(unique))
	for rows.Next() {
		var lot domain.Lot
		if err := scanLot(rows, &lot); err != nil {
			return nil, err
		}
		lots[lot.ID] = lot
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return lots, nil
}

// lockLot takes an exclusive lock on a single lot row.
func lockLot(ctx context.Context, tx *sql.Tx, id int64) (*domain.Lot, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lotes WHERE id = ? FOR UPDATE`, id)
	var lot domain.Lot
	if err := scanLot(row, &lot); err != nil {
		return nil, err
	}
	return &lot, nil
}

// lockProductShared pins the product's existence with a shared lock: a
// dependent insert can rely on it without blocking other readers.
func lockProductShared(ctx context.Context, tx *sql.Tx, id int64) (*domain.Product, error) {
	return scanProduct(tx.QueryRowContext(ctx,
		`SELECT id, nombre, COALESCE(descripcion, ''), precio_base, created_at FROM productos WHERE id = ? FOR SHARE`, id))
}

// lockProduct takes an exclusive lock on a product row.
func lockProduct(ctx context.Context, tx *sql.Tx, id int64) (*domain.Product, error) {
	return scanProduct(tx.QueryRowContext(ctx,
		`SELECT id, nombre, COALESCE(descripcion, ''), precio_base, created_at FROM productos WHERE id = ? FOR UPDATE`, id))
}

func scanProduct(row *sql.Row) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.BasePrice, &p.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// lockOrder takes an exclusive lock on an order row, which also serializes
// finalize against cancel for the same order.
func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error) {
	var o domain.Order
	err := tx.QueryRowContext(ctx,
		`SELECT id, tipo, usuario_id, estado, total, created_at FROM ordenes WHERE id = ? FOR UPDATE`, id).
		Scan(&o.ID, &o.Type, &o.ActorID, &o.Status, &o.Total, &o.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &o, nil
}
