package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
	"github.com/jdrojas/pharma-ledger/internal/port"
)

const inventoryCacheTTL = 5 * time.Minute

// InventoryService orchestrates the transactional inventory operations: it
// validates the request shape, delegates the locked transaction to the
// ledger, and invalidates derived cache entries after a successful commit.
type InventoryService struct {
	ledger port.LedgerRepository
	cache  port.CacheRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryService(ledger port.LedgerRepository, cache port.CacheRepository, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		ledger: ledger,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("inventory"),
	}
}

func lotCacheKey(id int64) string     { return fmt.Sprintf("lot:%d", id) }
func productCacheKey(id int64) string { return fmt.Sprintf("product:%d", id) }
func productLotsKey(id int64) string  { return fmt.Sprintf("product:%d:lots", id) }

func (s *InventoryService) CreateProduct(ctx context.Context, actor domain.Actor, name, description string, basePrice float64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "CreateProduct")
	defer span.End()

	if name == "" || basePrice <= 0 {
		return nil, domain.Validationf("invalid product data: name and a positive base price are required")
	}

	product, err := s.ledger.CreateProduct(ctx, domain.Product{
		Name:        name,
		Description: description,
		BasePrice:   basePrice,
	})
	if err != nil {
		return nil, recordErr(span, err)
	}

	s.logger.Info("product created",
		zap.Int64("product_id", product.ID),
		zap.String("actor", actor.ID))
	return product, nil
}

func (s *InventoryService) DeleteProduct(ctx context.Context, actor domain.Actor, productID int64) error {
	ctx, span := s.tracer.Start(ctx, "DeleteProduct",
		trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	if err := s.ledger.DeleteProduct(ctx, productID); err != nil {
		return recordErr(span, err)
	}

	s.invalidate(ctx, productCacheKey(productID), productLotsKey(productID))
	s.logger.Info("product deleted",
		zap.Int64("product_id", productID),
		zap.String("actor", actor.ID))
	return nil
}

func (s *InventoryService) CreateLot(ctx context.Context, actor domain.Actor, productID int64, quantity int, expiry time.Time, code string, price float64) (*domain.Lot, error) {
	ctx, span := s.tracer.Start(ctx, "CreateLot",
		trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	if productID <= 0 || quantity <= 0 || code == "" || price <= 0 || expiry.IsZero() {
		return nil, domain.Validationf("invalid lot data")
	}

	lot, err := s.ledger.CreateLot(ctx, domain.Lot{
		ProductID: productID,
		Code:      code,
		Quantity:  quantity,
		ExpiresAt: expiry,
		Price:     price,
	})
	if err != nil {
		return nil, recordErr(span, err)
	}

	s.invalidate(ctx, productLotsKey(productID))
	s.logger.Info("lot created",
		zap.Int64("lot_id", lot.ID),
		zap.String("code", lot.Code),
		zap.String("actor", actor.ID))
	return lot, nil
}

func (s *InventoryService) CreateOrder(ctx context.Context, actor domain.Actor, typ domain.OrderType, lines []domain.OrderLine) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("order.type", string(typ)),
		attribute.Int("order.lines", len(lines)),
	))
	defer span.End()

	if !typ.Valid() {
		return nil, domain.Validationf("invalid order type %q (must be purchase or sale)", typ)
	}
	if len(lines) == 0 || actor.ID == "" {
		return nil, domain.Validationf("invalid order data")
	}

	order, touched, err := s.ledger.CreateOrder(ctx, actor, typ, lines)
	if err != nil {
		return nil, recordErr(span, err)
	}

	keys := make([]string, 0, len(touched)*2)
	for _, lot := range touched {
		keys = append(keys, lotCacheKey(lot.ID), productLotsKey(lot.ProductID))
	}
	s.invalidate(ctx, keys...)

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("type", string(typ)),
		zap.Float64("total", order.Total),
		zap.String("actor", actor.ID))
	return order, nil
}

func (s *InventoryService) FinalizeOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "FinalizeOrder",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.ledger.FinalizeOrder(ctx, orderID)
	if err != nil {
		return nil, recordErr(span, err)
	}

	s.logger.Info("order finalized",
		zap.Int64("order_id", orderID),
		zap.String("actor", actor.ID))
	return order, nil
}

func (s *InventoryService) CancelOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, touched, err := s.ledger.CancelOrder(ctx, actor, orderID)
	if err != nil {
		return nil, recordErr(span, err)
	}

	keys := make([]string, 0, len(touched)*2)
	for _, lot := range touched {
		keys = append(keys, lotCacheKey(lot.ID), productLotsKey(lot.ProductID))
	}
	s.invalidate(ctx, keys...)

	s.logger.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("type", string(order.Type)),
		zap.String("actor", actor.ID))
	return order, nil
}

func (s *InventoryService) AdjustLotQuantity(ctx context.Context, actor domain.Actor, lotID int64, quantity, expectedVersion int) (*domain.Lot, error) {
	ctx, span := s.tracer.Start(ctx, "AdjustLotQuantity", trace.WithAttributes(
		attribute.Int64("lot.id", lotID),
		attribute.Int("lot.expected_version", expectedVersion),
	))
	defer span.End()

	lot, err := s.ledger.AdjustLotQuantity(ctx, actor, lotID, quantity, expectedVersion)
	if err != nil {
		return nil, recordErr(span, err)
	}

	s.invalidate(ctx, lotCacheKey(lotID), productLotsKey(lot.ProductID))
	s.logger.Info("lot quantity adjusted",
		zap.Int64("lot_id", lotID),
		zap.Int("quantity", quantity),
		zap.Int("version", lot.Version),
		zap.String("actor", actor.ID))
	return lot, nil
}

// InventoryView is the read model served for one product's sellable lots.
type InventoryView struct {
	ProductID  int64        `json:"producto_id"`
	Lots       []domain.Lot `json:"lotes"`
	TotalStock int          `json:"stock_total"`
}

// ProductInventory is the read path: cache first, ledger on miss, cache fill
// with a TTL. The cached value is derived only; a committed mutation on any
// of these lots deletes the key.
func (s *InventoryService) ProductInventory(ctx context.Context, productID int64) (*InventoryView, error) {
	ctx, span := s.tracer.Start(ctx, "ProductInventory",
		trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	key := productLotsKey(productID)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var view InventoryView
		if err := json.Unmarshal([]byte(cached), &view); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &view, nil
		}
	}

	lots, err := s.ledger.AvailableLots(ctx, productID, time.Now())
	if err != nil {
		return nil, recordErr(span, err)
	}

	view := &InventoryView{ProductID: productID, Lots: lots}
	for _, lot := range lots {
		view.TotalStock += lot.Quantity
	}

	if data, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, key, string(data), inventoryCacheTTL); err != nil {
			s.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
		}
	}
	return view, nil
}

// invalidate is fire-and-forget: a failed invalidation only delays readers
// until the TTL expires, it never fails an already-committed operation.
func (s *InventoryService) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
