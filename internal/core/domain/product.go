package domain

import "time"

// Product is the catalog entry lots belong to. It cannot be deleted while
// any lot still references it.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nombre"`
	Description string    `json:"descripcion"`
	BasePrice   float64   `json:"precio_base"`
	CreatedAt   time.Time `json:"created_at"`
}
