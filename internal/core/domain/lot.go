package domain

import "time"

type LotState string

const (
	LotStateAvailable LotState = "available"
	LotStateReserved  LotState = "reserved"
)

// Lot is a batch of a product with its own quantity, expiry and price. A lot
// is only ever mutated inside a transaction holding an exclusive lock on its
// row, and every committed mutation bumps Version by exactly one.
type Lot struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"producto_id"`
	Code      string    `json:"codigo_lote"`
	Quantity  int       `json:"cantidad"`
	ExpiresAt time.Time `json:"fecha_vencimiento"`
	Price     float64   `json:"precio"`
	State     LotState  `json:"estado"`
	Version   int       `json:"version"` // optimistic locking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the lot's expiry date lies before the day of now.
func (l Lot) Expired(now time.Time) bool {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return l.ExpiresAt.Before(startOfDay)
}
