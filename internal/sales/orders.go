package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// SALES ORDERS
// ============================================================================

// CreateOrder prices the lines, runs the credit check and stores a DRAFT order.
// Skipping the credit check needs the credit override capability.
func (s *Service) CreateOrder(ctx context.Context, who shared.Identity, req CreateSalesOrderRequest) (SalesOrder, error) {
	if req.SkipCreditCheck {
		if err := s.requireCreditOverride(ctx, who); err != nil {
			return SalesOrder{}, err
		}
	}
	var order SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := activeCustomer(ctx, tx, who.CompanyID, req.CustomerID)
		if err != nil {
			return err
		}
		if err := requireWarehouse(ctx, tx, who.CompanyID, req.WarehouseID); err != nil {
			return err
		}
		lines, err := s.priceLines(ctx, tx, who.CompanyID, &customer.ID, req.OrderDate, req.Lines)
		if err != nil {
			return err
		}
		draft := SalesOrder{
			CompanyID:            who.CompanyID,
			CustomerID:           customer.ID,
			WarehouseID:          req.WarehouseID,
			OrderDate:            req.OrderDate,
			ExpectedDeliveryDate: req.ExpectedDeliveryDate,
			Currency:             req.Currency,
			ExchangeRate:         exchangeRate(req.ExchangeRate),
			PriceListID:          req.PriceListID,
			HeaderAdjustments:    req.HeaderAdjustments,
			Totals:               ComputeTotals(lines, req.HeaderAdjustments),
			Notes:                req.Notes,
			Lines:                orderLinesFrom(lines),
		}
		if req.SkipCreditCheck {
			draft.Credit = CreditCheck{Status: CreditSkipped, Limit: customer.CreditLimit}
		} else {
			draft.Credit, err = s.creditCheck(ctx, tx, customer, draft.TotalAmount)
			if err != nil {
				return err
			}
		}
		order, err = s.insertOrder(ctx, tx, who, draft, s.now().UTC())
		return err
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.record(ctx, who, "sales_order:create", "sales_order", order.ID, map[string]any{
		"doc_number":   order.DocNumber,
		"total":        order.TotalAmount,
		"credit_check": order.Credit.Status,
	})
	s.observe("sales_order", "created")
	if order.Credit.Status == CreditFailed {
		s.logger.Info("sales order exceeds credit limit",
			slog.Int64("id", order.ID),
			slog.Int64("customer_id", order.CustomerID),
			slog.Float64("exposure", order.Credit.Exposure))
	}
	return order, nil
}

func (s *Service) insertOrder(ctx context.Context, tx TxRepository, who shared.Identity, o SalesOrder, now time.Time) (SalesOrder, error) {
	number, err := s.gen.Next(ctx, tx, who.CompanyID, numbering.DocSalesOrder)
	if err != nil {
		return SalesOrder{}, fmt.Errorf("generate sales order number: %w", err)
	}
	o.DocNumber = number
	o.Status = SalesOrderStatusDraft
	o.CreatedBy = who.UserID
	o.CreatedAt = now
	o.UpdatedAt = now
	id, err := tx.InsertOrder(ctx, o)
	if err != nil {
		return SalesOrder{}, fmt.Errorf("insert sales order: %w", err)
	}
	o.ID = id
	o.Lines, err = tx.InsertOrderLines(ctx, id, o.Lines)
	if err != nil {
		return SalesOrder{}, fmt.Errorf("insert sales order lines: %w", err)
	}
	return o, nil
}

func requireWarehouse(ctx context.Context, tx TxRepository, companyID int64, id *int64) error {
	if id == nil {
		return nil
	}
	return inventory.RequireWarehouse(ctx, tx, companyID, *id, "warehouse_id")
}

func (s *Service) requireCreditOverride(ctx context.Context, who shared.Identity) error {
	if who.IsSuperAdmin() {
		return nil
	}
	if s.checker == nil {
		return shared.Forbidden("", "credit override is not available")
	}
	ok, err := s.checker.Can(ctx, who, shared.PermSalesOrderCreditOverride)
	if err != nil {
		return fmt.Errorf("check credit override: %w", err)
	}
	if !ok {
		return shared.Forbidden("", "skipping the credit check requires the %s permission", shared.PermSalesOrderCreditOverride)
	}
	return nil
}

// GetOrder loads an order with its lines.
func (s *Service) GetOrder(ctx context.Context, who shared.Identity, id int64) (SalesOrder, error) {
	return s.repo.GetOrder(ctx, who.CompanyID, id)
}

// ListOrders lists orders of the caller's company.
func (s *Service) ListOrders(ctx context.Context, who shared.Identity, req ListSalesOrdersRequest) ([]SalesOrder, int, error) {
	req.CompanyID = who.CompanyID
	return s.repo.ListOrders(ctx, req)
}

// ApproveOrder moves DRAFT to APPROVED. An order that failed the credit check needs an
// override reason.
func (s *Service) ApproveOrder(ctx context.Context, who shared.Identity, id int64, overrideReason string) (SalesOrder, error) {
	return s.transitionOrder(ctx, who, id, "approve", func(_ context.Context, _ TxRepository, o *SalesOrder, now time.Time) error {
		if o.Status != SalesOrderStatusDraft {
			return shared.InvalidStatus("sales_order", o.ID, "cannot approve sales order in status %s", o.Status)
		}
		if o.Credit.Status == CreditFailed {
			if overrideReason == "" {
				return shared.Validation("override_reason", "sales order %s exceeds the customer credit limit; an override reason is required", o.DocNumber)
			}
			o.OverrideReason = &overrideReason
		}
		o.Status = SalesOrderStatusApproved
		o.ApprovedBy = &who.UserID
		o.ApprovedAt = &now
		return nil
	})
}

// ConfirmOrder moves DRAFT or APPROVED to CONFIRMED and reserves stock per line.
func (s *Service) ConfirmOrder(ctx context.Context, who shared.Identity, id int64) (SalesOrder, error) {
	return s.transitionOrder(ctx, who, id, "confirm", func(ctx context.Context, tx TxRepository, o *SalesOrder, now time.Time) error {
		switch o.Status {
		case SalesOrderStatusApproved:
		case SalesOrderStatusDraft:
			if o.Credit.Status == CreditFailed {
				return shared.Forbidden(shared.CodeApprovalRequired, "sales order %s exceeds the customer credit limit and must be approved first", o.DocNumber).
					WithEntity("sales_order", o.ID)
			}
		default:
			return shared.InvalidStatus("sales_order", o.ID, "cannot confirm sales order in status %s", o.Status)
		}
		if o.WarehouseID == nil {
			return shared.Validation("warehouse_id", "sales order %s needs a warehouse before it can be confirmed", o.DocNumber).
				WithEntity("sales_order", o.ID).
				WithHint("set the warehouse stock is reserved from")
		}
		for _, line := range o.Lines {
			if line.Deliverable() <= 0 {
				continue
			}
			if _, err := tx.InsertReservation(ctx, inventory.Reservation{
				CompanyID:    o.CompanyID,
				ItemID:       line.ItemID,
				WarehouseID:  o.WarehouseID,
				SourceType:   inventory.RefSalesOrder,
				SourceID:     o.ID,
				SourceLineID: line.ID,
				ReservedQty:  line.Deliverable(),
				CreatedBy:    who.UserID,
				UpdatedAt:    now,
			}); err != nil {
				return fmt.Errorf("reserve line %d: %w", line.ID, err)
			}
		}
		o.Status = SalesOrderStatusConfirmed
		o.ConfirmedBy = &who.UserID
		o.ConfirmedAt = &now
		return nil
	})
}

// CancelOrder cancels an order that is not fully delivered and releases its remaining
// reservations. Delivered quantities stay on the order. Open delivery notes block it.
func (s *Service) CancelOrder(ctx context.Context, who shared.Identity, id int64, reason string) (SalesOrder, error) {
	if reason == "" {
		return SalesOrder{}, shared.Validation("reason", "cancellation reason is required")
	}
	return s.transitionOrder(ctx, who, id, "cancel", func(ctx context.Context, tx TxRepository, o *SalesOrder, now time.Time) error {
		switch o.Status {
		case SalesOrderStatusDraft, SalesOrderStatusApproved, SalesOrderStatusConfirmed, SalesOrderStatusPartiallyDelivered:
		default:
			return shared.InvalidStatus("sales_order", o.ID, "cannot cancel sales order in status %s", o.Status)
		}
		open, err := tx.OpenDeliveryNotes(ctx, o.CompanyID, o.ID)
		if err != nil {
			return fmt.Errorf("open delivery notes: %w", err)
		}
		if len(open) > 0 {
			return shared.Conflict(shared.CodeInvalidStatus, "sales order %s has open delivery note %s", o.DocNumber, strings.Join(open, ", ")).
				WithEntity("sales_order", o.ID).
				WithHint("cancel or deliver the open delivery notes first")
		}
		if _, err := tx.ReleaseReservations(ctx, o.CompanyID, inventory.RefSalesOrder, o.ID, now); err != nil {
			return fmt.Errorf("release reservations: %w", err)
		}
		o.Status = SalesOrderStatusCancelled
		o.CancelledBy = &who.UserID
		o.CancelledAt = &now
		o.CancellationReason = &reason
		return nil
	})
}

func (s *Service) transitionOrder(ctx context.Context, who shared.Identity, id int64, action string, apply func(context.Context, TxRepository, *SalesOrder, time.Time) error) (SalesOrder, error) {
	var (
		out  SalesOrder
		from SalesOrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = o.Status
		now := s.now().UTC()
		if err := apply(ctx, tx, &o, now); err != nil {
			return err
		}
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("%s sales order: %w", action, err)
		}
		out = o
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned("sales_order", out.ID, out.DocNumber, string(from), string(out.Status))
	s.record(ctx, who, "sales_order:"+action, "sales_order", out.ID, map[string]any{"from": from, "to": out.Status})
	s.observe("sales_order", action)
	return out, nil
}
