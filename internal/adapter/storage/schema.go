package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Ledger DDL. Column names follow the original pharmacy layout; the store
// itself enforces the hard invariants: unique lot codes, non-negative
// quantities and referential integrity.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS productos (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		nombre VARCHAR(255) NOT NULL,
		descripcion TEXT,
		precio_base DECIMAL(12,2) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS lotes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		producto_id BIGINT NOT NULL,
		codigo_lote VARCHAR(64) NOT NULL,
		cantidad INT NOT NULL,
		fecha_vencimiento DATE NOT NULL,
		precio DECIMAL(12,2) NOT NULL,
		estado ENUM('available','reserved') NOT NULL DEFAULT 'available',
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_lotes_codigo (codigo_lote),
		KEY idx_lotes_producto (producto_id),
		CONSTRAINT chk_lotes_cantidad CHECK (cantidad >= 0),
		CONSTRAINT fk_lotes_producto FOREIGN KEY (producto_id) REFERENCES productos (id)
	)`,
	`CREATE TABLE IF NOT EXISTS ordenes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tipo ENUM('purchase','sale') NOT NULL,
		usuario_id VARCHAR(64) NOT NULL,
		estado ENUM('pending','completed','cancelled') NOT NULL DEFAULT 'pending',
		total DECIMAL(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS orden_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		orden_id BIGINT NOT NULL,
		lote_id BIGINT NOT NULL,
		cantidad INT NOT NULL,
		precio_unit DECIMAL(12,2) NOT NULL,
		CONSTRAINT fk_items_orden FOREIGN KEY (orden_id) REFERENCES ordenes (id) ON DELETE CASCADE,
		CONSTRAINT fk_items_lote FOREIGN KEY (lote_id) REFERENCES lotes (id)
	)`,
	// Append-only; no FK to lotes so history survives lot deletion.
	`CREATE TABLE IF NOT EXISTS auditoria_lotes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		operacion VARCHAR(32) NOT NULL,
		lote_id BIGINT NOT NULL,
		cantidad_anterior INT NOT NULL,
		cantidad_nueva INT NOT NULL,
		version_anterior INT NOT NULL,
		version_nueva INT NOT NULL,
		usuario VARCHAR(64) NOT NULL,
		op_id CHAR(36) NOT NULL,
		ts TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_auditoria_lote (lote_id, ts)
	)`,
}

// EnsureSchema creates the ledger tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
