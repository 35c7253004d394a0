package domain

import "time"

// AuditEntry records one committed lot mutation. Entries are append-only and
// written in the same transaction as the mutation they describe.
type AuditEntry struct {
	ID             int64     `json:"id"`
	Operation      string    `json:"operacion"`
	LotID          int64     `json:"lote_id"`
	LotCode        string    `json:"codigo_lote,omitempty"` // empty if the lot was since deleted
	QuantityBefore int       `json:"cantidad_anterior"`
	QuantityAfter  int       `json:"cantidad_nueva"`
	VersionBefore  int       `json:"version_anterior"`
	VersionAfter   int       `json:"version_nueva"`
	Actor          string    `json:"usuario"`
	OpID           string    `json:"op_id"`
	At             time.Time `json:"timestamp"`
}
