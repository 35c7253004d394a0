package domain

// Read models for the concurrency monitor. These are fixed-shape snapshots of
// the store's own lock and transaction introspection tables; producing them
// takes no lock on ledger rows.

// LockInfo describes one lock currently held or waited on.
type LockInfo struct {
	Type    string  `json:"type"`
	Table   string  `json:"table"`
	Mode    string  `json:"mode"`
	Status  string  `json:"status"` // GRANTED or WAITING
	PID     int64   `json:"pid"`
	State   string  `json:"state"`
	Query   string  `json:"query,omitempty"`
	Elapsed float64 `json:"duration"` // seconds since the owning transaction started
}

// LockWait is a live wait-for edge between two transactions: the precursor to
// a deadlock. The store's own deadlock detector remains the final authority.
type LockWait struct {
	WaitingPID    int64   `json:"blocked_pid"`
	WaitingUser   string  `json:"blocked_user"`
	WaitingQuery  string  `json:"blocked_statement,omitempty"`
	BlockingPID   int64   `json:"blocking_pid"`
	BlockingUser  string  `json:"blocking_user"`
	BlockingQuery string  `json:"blocking_statement,omitempty"`
	LockedTable   string  `json:"locked_table"`
	WaitSeconds   float64 `json:"wait_seconds"`
}

// TransactionInfo describes one in-flight transaction.
type TransactionInfo struct {
	PID      int64   `json:"pid"`
	User     string  `json:"user"`
	Host     string  `json:"host"`
	State    string  `json:"state"`
	Query    string  `json:"query,omitempty"`
	Duration float64 `json:"transaction_duration"`
}

type ConnectionStats struct {
	Total             int `json:"total_connections"`
	Active            int `json:"active_connections"`
	Idle              int `json:"idle_connections"`
	IdleInTransaction int `json:"idle_in_transaction"`
}

type TransactionStats struct {
	Commits         int64   `json:"commits"`
	Rollbacks       int64   `json:"rollbacks"`
	RollbackPercent float64 `json:"rollback_percentage"`
	Deadlocks       int64   `json:"deadlocks"`
	LockTimeouts    int64   `json:"lock_timeouts"`
}

// ProductStock is one row of the aggregated available-stock view.
type ProductStock struct {
	ProductID  int64  `json:"producto_id"`
	Name       string `json:"nombre"`
	Lots       int    `json:"lotes"`
	TotalStock int    `json:"stock_total"`
}
