package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
	"github.com/jdrojas/pharma-ledger/internal/core/service"
)

// HTTPHandler exposes the inventory and monitoring operations over JSON.
// Authentication is assumed to happen upstream; the acting user arrives in
// the X-Actor-Id and X-Actor-Role headers.
type HTTPHandler struct {
	inventory *service.InventoryService
	monitor   *service.MonitorService
}

func NewHTTPHandler(inventory *service.InventoryService, monitor *service.MonitorService) *HTTPHandler {
	return &HTTPHandler{inventory: inventory, monitor: monitor}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("DELETE /api/products/{id}", h.DeleteProduct)
	mux.HandleFunc("GET /api/products/{id}/inventory", h.ProductInventory)

	mux.HandleFunc("POST /api/lots", h.CreateLot)
	mux.HandleFunc("PUT /api/lots/{id}/quantity", h.AdjustLotQuantity)
	mux.HandleFunc("GET /api/lots/{id}/history", h.LotVersionHistory)

	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("POST /api/orders/{id}/finalize", h.FinalizeOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)

	mux.HandleFunc("GET /api/monitor/locks", h.ActiveLocks)
	mux.HandleFunc("GET /api/monitor/conflicts", h.LockWaits)
	mux.HandleFunc("GET /api/monitor/transactions", h.LongRunningTransactions)
	mux.HandleFunc("GET /api/monitor/stats", h.Stats)
	mux.HandleFunc("GET /api/monitor/stock", h.StockSummary)
	mux.HandleFunc("GET /api/monitor/audit", h.AuditHistory)
	mux.HandleFunc("POST /api/monitor/kill/{pid}", h.TerminateProcess)
}

type ProductRequest struct {
	Name        string  `json:"nombre"`
	Description string  `json:"descripcion"`
	BasePrice   float64 `json:"precio_base"`
}

type LotRequest struct {
	ProductID int64   `json:"producto_id"`
	Code      string  `json:"codigo_lote"`
	Quantity  int     `json:"cantidad"`
	ExpiresAt string  `json:"fecha_vencimiento"`
	Price     float64 `json:"precio"`
}

type AdjustRequest struct {
	Quantity int `json:"cantidad"`
	Version  int `json:"version"`
}

type OrderLineRequest struct {
	LotID    int64   `json:"lote_id"`
	Quantity int     `json:"cantidad"`
	Price    float64 `json:"precio_unit"`
}

type OrderRequest struct {
	Type  string             `json:"tipo"`
	Items []OrderLineRequest `json:"items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ConflictResponse struct {
	Error            string `json:"error"`
	CurrentVersion   int    `json:"versionActual"`
	SubmittedVersion int    `json:"versionEnviada"`
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	product, err := h.inventory.CreateProduct(r.Context(), actorFrom(r), req.Name, req.Description, req.BasePrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid product id"})
		return
	}

	if err := h.inventory.DeleteProduct(r.Context(), actorFrom(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

func (h *HTTPHandler) ProductInventory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid product id"})
		return
	}

	view, err := h.inventory.ProductInventory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	expiry, err := parseDate(req.ExpiresAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid fecha_vencimiento"})
		return
	}

	lot, err := h.inventory.CreateLot(r.Context(), actorFrom(r), req.ProductID, req.Quantity, expiry, req.Code, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

func (h *HTTPHandler) AdjustLotQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid lot id"})
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	lot, err := h.inventory.AdjustLotQuantity(r.Context(), actorFrom(r), id, req.Quantity, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

func (h *HTTPHandler) LotVersionHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid lot id"})
		return
	}

	entries, err := h.monitor.LotVersionHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "history": entries})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, domain.OrderLine{
			LotID:     item.LotID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	order, err := h.inventory.CreateOrder(r.Context(), actorFrom(r), domain.OrderType(req.Type), lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) FinalizeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}

	order, err := h.inventory.FinalizeOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}

	order, err := h.inventory.CancelOrder(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) ActiveLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.monitor.ActiveLocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(locks), "locks": locks})
}

func (h *HTTPHandler) LockWaits(w http.ResponseWriter, r *http.Request) {
	waits, err := h.monitor.LockWaits(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(waits), "waits": waits})
}

func (h *HTTPHandler) LongRunningTransactions(w http.ResponseWriter, r *http.Request) {
	minDuration := 30 * time.Second
	if raw := r.URL.Query().Get("min_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid min_seconds"})
			return
		}
		minDuration = time.Duration(secs) * time.Second
	}

	txs, err := h.monitor.LongRunningTransactions(r.Context(), minDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(txs), "transactions": txs})
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	conns, err := h.monitor.ConnectionStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	txs, err := h.monitor.TransactionStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":  conns,
		"transactions": txs,
	})
}

func (h *HTTPHandler) StockSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.monitor.StockSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": summary})
}

func (h *HTTPHandler) AuditHistory(w http.ResponseWriter, r *http.Request) {
	var lotID int64
	if raw := r.URL.Query().Get("lote_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid lote_id"})
			return
		}
		lotID = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.monitor.AuditHistory(r.Context(), lotID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "history": entries})
}

func (h *HTTPHandler) TerminateProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := pathID(r, "pid")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid pid"})
		return
	}

	if err := h.monitor.TerminateProcess(r.Context(), actorFrom(r), pid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "process terminated"})
}

func actorFrom(r *http.Request) domain.Actor {
	return domain.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: r.Header.Get("X-Actor-Role"),
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:            conflict.Detail,
			CurrentVersion:   conflict.CurrentVersion,
			SubmittedVersion: conflict.SubmittedVersion,
		})
		return
	}
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var validation *domain.ValidationError
	var constraint *domain.ConstraintError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &constraint):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
