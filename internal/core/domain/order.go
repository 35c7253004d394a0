package domain

import "time"

type OrderType string

const (
	OrderTypePurchase OrderType = "purchase"
	OrderTypeSale     OrderType = "sale"
)

func (t OrderType) Valid() bool {
	return t == OrderTypePurchase || t == OrderTypeSale
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order applies its inventory effect at creation time; finalizing only moves
// the state machine. pending -> completed and pending -> cancelled are the
// only transitions.
type Order struct {
	ID        int64       `json:"id"`
	Type      OrderType   `json:"tipo"`
	ActorID   string      `json:"usuario_id"`
	Status    OrderStatus `json:"estado"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderItem captures the unit price at order time; it is never re-derived.
type OrderItem struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"orden_id"`
	LotID     int64   `json:"lote_id"`
	Quantity  int     `json:"cantidad"`
	UnitPrice float64 `json:"precio_unit"`
}

// OrderLine is one requested line of a new order.
type OrderLine struct {
	LotID     int64   `json:"lote_id"`
	Quantity  int     `json:"cantidad"`
	UnitPrice float64 `json:"precio_unit"`
}
