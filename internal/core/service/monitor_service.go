package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
	"github.com/jdrojas/pharma-ledger/internal/port"
)

// MonitorService exposes the store's lock and transaction diagnostics for
// operators. Everything here is read-only except TerminateProcess, which is
// gated to the admin role and always logged.
type MonitorService struct {
	repo   port.MonitorRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewMonitorService(repo port.MonitorRepository, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("monitor"),
	}
}

func (s *MonitorService) ActiveLocks(ctx context.Context) ([]domain.LockInfo, error) {
	ctx, span := s.tracer.Start(ctx, "ActiveLocks")
	defer span.End()

	locks, err := s.repo.ActiveLocks(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return locks, nil
}

func (s *MonitorService) LockWaits(ctx context.Context) ([]domain.LockWait, error) {
	ctx, span := s.tracer.Start(ctx, "LockWaits")
	defer span.End()

	waits, err := s.repo.LockWaits(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if len(waits) > 0 {
		s.logger.Warn("lock contention detected", zap.Int("wait_edges", len(waits)))
	}
	return waits, nil
}

func (s *MonitorService) LongRunningTransactions(ctx context.Context, minDuration time.Duration) ([]domain.TransactionInfo, error) {
	ctx, span := s.tracer.Start(ctx, "LongRunningTransactions")
	defer span.End()

	if minDuration <= 0 {
		minDuration = 30 * time.Second
	}
	txs, err := s.repo.LongRunningTransactions(ctx, minDuration)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return txs, nil
}

func (s *MonitorService) ConnectionStats(ctx context.Context) (*domain.ConnectionStats, error) {
	ctx, span := s.tracer.Start(ctx, "ConnectionStats")
	defer span.End()

	stats, err := s.repo.ConnectionStats(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return stats, nil
}

func (s *MonitorService) TransactionStats(ctx context.Context) (*domain.TransactionStats, error) {
	ctx, span := s.tracer.Start(ctx, "TransactionStats")
	defer span.End()

	stats, err := s.repo.TransactionStats(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return stats, nil
}

func (s *MonitorService) StockSummary(ctx context.Context) ([]domain.ProductStock, error) {
	ctx, span := s.tracer.Start(ctx, "StockSummary")
	defer span.End()

	summary, err := s.repo.StockSummary(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return summary, nil
}

func (s *MonitorService) AuditHistory(ctx context.Context, lotID int64, limit int) ([]domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "AuditHistory",
		trace.WithAttributes(attribute.Int64("lot.id", lotID)))
	defer span.End()

	entries, err := s.repo.AuditHistory(ctx, lotID, limit)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return entries, nil
}

// LotVersionHistory is the audit trail of one lot, newest first. Each entry
// covers exactly one version step, so the entries chain back to version 1.
func (s *MonitorService) LotVersionHistory(ctx context.Context, lotID int64) ([]domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "LotVersionHistory",
		trace.WithAttributes(attribute.Int64("lot.id", lotID)))
	defer span.End()

	if lotID <= 0 {
		return nil, domain.Validationf("lot id is required")
	}
	entries, err := s.repo.AuditHistory(ctx, lotID, 0)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return entries, nil
}

// TerminateProcess forcibly aborts a backend connection. Escape hatch for
// stuck transactions; admin only.
func (s *MonitorService) TerminateProcess(ctx context.Context, actor domain.Actor, pid int64) error {
	ctx, span := s.tracer.Start(ctx, "TerminateProcess",
		trace.WithAttributes(attribute.Int64("pid", pid)))
	defer span.End()

	if actor.Role != domain.RoleAdmin {
		return recordErr(span, domain.ErrForbidden)
	}
	if pid <= 0 {
		return domain.Validationf("pid is required")
	}

	if err := s.repo.TerminateProcess(ctx, pid); err != nil {
		return recordErr(span, err)
	}

	s.logger.Warn("backend process terminated",
		zap.Int64("pid", pid),
		zap.String("actor", actor.ID),
		zap.String("role", actor.Role))
	return nil
}
