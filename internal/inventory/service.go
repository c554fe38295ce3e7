// Package inventory keeps the append-only movement ledger, stock balances and reservations.
package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	HasMovement(ctx context.Context, companyID, itemID int64) (bool, error)
	ListBalances(ctx context.Context, companyID, itemID int64) ([]Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64) ([]Reservation, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	MovementStore
	ReservationStore
	ReferenceStore
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service coordinates inventory operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	ledger Ledger
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, ledger: Ledger{AllowNegative: cfg.AllowNegativeStock}, logger: logger}
}

// Ledger returns the ledger settings so other documents post movements the same way.
func (s *Service) Ledger() Ledger {
	return s.ledger
}

// RecordMovement appends a movement in its own transaction and returns its transaction id.
func (s *Service) RecordMovement(ctx context.Context, in MovementInput) (int64, error) {
	var m Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := RequireItem(ctx, tx, in.CompanyID, in.ItemID, "item_id"); err != nil {
			return err
		}
		if err := RequireWarehouse(ctx, tx, in.CompanyID, in.WarehouseID, "warehouse_id"); err != nil {
			return err
		}
		var err error
		m, err = s.ledger.Record(ctx, tx, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("inventory movement recorded",
		slog.Int64("transaction_id", m.ID),
		slog.String("type", string(m.Type)),
		slog.Int64("item_id", m.ItemID),
		slog.Int64("warehouse_id", m.WarehouseID),
		slog.Float64("quantity", m.Quantity))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			CompanyID: in.CompanyID,
			ActorID:   in.UserID,
			Action:    fmt.Sprintf("inventory:%s", m.Type),
			Entity:    "inventory_transaction",
			EntityID:  fmt.Sprint(m.ID),
			Meta: map[string]any{
				"item_id":        m.ItemID,
				"warehouse_id":   m.WarehouseID,
				"quantity":       m.Quantity,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceID,
			},
		}); err != nil {
			s.logger.Warn("audit inventory movement", slog.Any("error", err))
		}
	}
	return m.ID, nil
}

// Adjust records a manual stock adjustment.
func (s *Service) Adjust(ctx context.Context, who shared.Identity, req AdjustmentRequest) (int64, error) {
	return s.RecordMovement(ctx, MovementInput{
		CompanyID:     who.CompanyID,
		ItemID:        req.ItemID,
		WarehouseID:   req.WarehouseID,
		UOMID:         req.UOMID,
		Type:          MovementAdjustment,
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		ReferenceType: RefAdjustment,
		BatchNumber:   req.BatchNumber,
		Notes:         req.Notes,
		UserID:        who.UserID,
	})
}

// HasMovement reports whether any ledger row references the item.
func (s *Service) HasMovement(ctx context.Context, companyID, itemID int64) (bool, error) {
	return s.repo.HasMovement(ctx, companyID, itemID)
}

// StockOnHand lists per-warehouse balances of an item.
func (s *Service) StockOnHand(ctx context.Context, companyID, itemID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, companyID, itemID)
}

// ListMovements lists ledger rows.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.CompanyID == 0 {
		return nil, shared.Validation("company_id", "company is required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListReservations lists the reservations of a source document.
func (s *Service) ListReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64) ([]Reservation, error) {
	return s.repo.ListReservations(ctx, companyID, sourceType, sourceID)
}
