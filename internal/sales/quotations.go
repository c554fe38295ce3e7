package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// QUOTATIONS
// ============================================================================

// CreateQuotation prices the lines and stores a DRAFT quotation.
func (s *Service) CreateQuotation(ctx context.Context, who shared.Identity, req CreateQuotationRequest) (Quotation, error) {
	if err := validateQuotationDates(req); err != nil {
		return Quotation{}, err
	}
	var out Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.CustomerID != nil {
			if _, err := activeCustomer(ctx, tx, who.CompanyID, *req.CustomerID); err != nil {
				return err
			}
		}
		lines, err := s.priceLines(ctx, tx, who.CompanyID, req.CustomerID, req.QuoteDate, req.Lines)
		if err != nil {
			return err
		}
		number, err := s.gen.Next(ctx, tx, who.CompanyID, numbering.DocQuotation)
		if err != nil {
			return fmt.Errorf("generate quotation number: %w", err)
		}
		now := s.now().UTC()
		q := Quotation{
			DocNumber:         number,
			CompanyID:         who.CompanyID,
			CustomerID:        req.CustomerID,
			ProspectName:      req.ProspectName,
			QuoteDate:         req.QuoteDate,
			ValidUntil:        req.ValidUntil,
			Status:            QuotationStatusDraft,
			Currency:          req.Currency,
			ExchangeRate:      exchangeRate(req.ExchangeRate),
			PriceListID:       req.PriceListID,
			HeaderAdjustments: req.HeaderAdjustments,
			Totals:            ComputeTotals(lines, req.HeaderAdjustments),
			Notes:             req.Notes,
			CreatedBy:         who.UserID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		id, err := tx.InsertQuotation(ctx, q)
		if err != nil {
			return fmt.Errorf("insert quotation: %w", err)
		}
		if err := tx.ReplaceQuotationLines(ctx, id, lines); err != nil {
			return fmt.Errorf("insert quotation lines: %w", err)
		}
		q.ID = id
		q.Lines = lines
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.record(ctx, who, "quotation:create", "quotation", out.ID, map[string]any{"doc_number": out.DocNumber, "total": out.TotalAmount})
	s.observe("quotation", "created")
	return out, nil
}

// UpdateQuotation replaces header and lines of a DRAFT quotation.
func (s *Service) UpdateQuotation(ctx context.Context, who shared.Identity, id int64, req UpdateQuotationRequest) (Quotation, error) {
	if err := validateQuotationDates(req); err != nil {
		return Quotation{}, err
	}
	var out Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotationForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		if q.Status != QuotationStatusDraft {
			return shared.InvalidStatus("quotation", id, "quotation %s is %s and can no longer be edited", q.DocNumber, q.Status).
				WithHint("only DRAFT quotations can be edited")
		}
		if req.CustomerID != nil {
			if _, err := activeCustomer(ctx, tx, who.CompanyID, *req.CustomerID); err != nil {
				return err
			}
		}
		lines, err := s.priceLines(ctx, tx, who.CompanyID, req.CustomerID, req.QuoteDate, req.Lines)
		if err != nil {
			return err
		}
		q.CustomerID = req.CustomerID
		q.ProspectName = req.ProspectName
		q.QuoteDate = req.QuoteDate
		q.ValidUntil = req.ValidUntil
		q.Currency = req.Currency
		q.ExchangeRate = exchangeRate(req.ExchangeRate)
		q.PriceListID = req.PriceListID
		q.HeaderAdjustments = req.HeaderAdjustments
		q.Totals = ComputeTotals(lines, req.HeaderAdjustments)
		q.Notes = req.Notes
		q.UpdatedAt = s.now().UTC()
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return fmt.Errorf("update quotation: %w", err)
		}
		if err := tx.ReplaceQuotationLines(ctx, q.ID, lines); err != nil {
			return fmt.Errorf("replace quotation lines: %w", err)
		}
		q.Lines = lines
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.record(ctx, who, "quotation:update", "quotation", out.ID, map[string]any{"total": out.TotalAmount})
	return out, nil
}

// GetQuotation loads a quotation with its lines.
func (s *Service) GetQuotation(ctx context.Context, who shared.Identity, id int64) (Quotation, error) {
	return s.repo.GetQuotation(ctx, who.CompanyID, id)
}

// ListQuotations lists quotations of the caller's company.
func (s *Service) ListQuotations(ctx context.Context, who shared.Identity, req ListQuotationsRequest) ([]Quotation, int, error) {
	req.CompanyID = who.CompanyID
	return s.repo.ListQuotations(ctx, req)
}

// SendQuotation moves DRAFT to SENT.
func (s *Service) SendQuotation(ctx context.Context, who shared.Identity, id int64) (Quotation, error) {
	return s.transitionQuotation(ctx, who, id, "send", func(q *Quotation, now time.Time) error {
		if q.Status != QuotationStatusDraft {
			return shared.InvalidStatus("quotation", q.ID, "cannot send quotation in status %s", q.Status)
		}
		if len(q.Lines) == 0 {
			return shared.Validation("items", "quotation %s has no lines", q.DocNumber)
		}
		q.Status = QuotationStatusSent
		q.SentAt = &now
		return nil
	})
}

// AcceptQuotation moves SENT to ACCEPTED while the validity window is open.
func (s *Service) AcceptQuotation(ctx context.Context, who shared.Identity, id int64) (Quotation, error) {
	return s.transitionQuotation(ctx, who, id, "accept", func(q *Quotation, now time.Time) error {
		if q.Status != QuotationStatusSent {
			return shared.InvalidStatus("quotation", q.ID, "cannot accept quotation in status %s", q.Status)
		}
		if expired(q.ValidUntil, now) {
			return shared.InvalidStatus("quotation", q.ID, "quotation %s expired on %s", q.DocNumber, q.ValidUntil.Format(time.DateOnly)).
				WithHint("update the validity date on a new quotation")
		}
		q.Status = QuotationStatusAccepted
		q.AcceptedBy = &who.UserID
		q.AcceptedAt = &now
		return nil
	})
}

// RejectQuotation moves SENT to REJECTED with a reason.
func (s *Service) RejectQuotation(ctx context.Context, who shared.Identity, id int64, reason string) (Quotation, error) {
	if reason == "" {
		return Quotation{}, shared.Validation("reason", "rejection reason is required")
	}
	return s.transitionQuotation(ctx, who, id, "reject", func(q *Quotation, now time.Time) error {
		if q.Status != QuotationStatusSent {
			return shared.InvalidStatus("quotation", q.ID, "cannot reject quotation in status %s", q.Status)
		}
		q.Status = QuotationStatusRejected
		q.RejectedBy = &who.UserID
		q.RejectedAt = &now
		q.RejectionReason = &reason
		return nil
	})
}

func (s *Service) transitionQuotation(ctx context.Context, who shared.Identity, id int64, action string, apply func(*Quotation, time.Time) error) (Quotation, error) {
	var (
		out  Quotation
		from QuotationStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotationForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = q.Status
		now := s.now().UTC()
		if err := apply(&q, now); err != nil {
			return err
		}
		q.UpdatedAt = now
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return fmt.Errorf("%s quotation: %w", action, err)
		}
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.transitioned("quotation", out.ID, out.DocNumber, string(from), string(out.Status))
	s.record(ctx, who, "quotation:"+action, "quotation", out.ID, map[string]any{"from": from, "to": out.Status})
	s.observe("quotation", action)
	return out, nil
}

// ConvertQuotation creates a DRAFT order from an ACCEPTED (or SENT) quotation and links it.
// A prospect-only quotation needs a customer in req.
func (s *Service) ConvertQuotation(ctx context.Context, who shared.Identity, id int64, req ConvertQuotationRequest) (SalesOrder, error) {
	var (
		order SalesOrder
		from  QuotationStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotationForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = q.Status
		if q.Status != QuotationStatusAccepted && q.Status != QuotationStatusSent {
			if q.ConvertedToOrderID != nil {
				return shared.InvalidStatus("quotation", id, "quotation %s was already converted to order %d", q.DocNumber, *q.ConvertedToOrderID)
			}
			return shared.InvalidStatus("quotation", id, "cannot convert quotation in status %s", q.Status)
		}
		customerID := q.CustomerID
		if req.CustomerID != nil {
			customerID = req.CustomerID
		}
		if customerID == nil {
			return shared.Validation("customer_id", "quotation %s is for a prospect; a customer is required to convert it", q.DocNumber)
		}
		customer, err := activeCustomer(ctx, tx, who.CompanyID, *customerID)
		if err != nil {
			return err
		}
		if err := requireWarehouse(ctx, tx, who.CompanyID, req.WarehouseID); err != nil {
			return err
		}
		now := s.now().UTC()
		orderDate := now
		if req.OrderDate != nil {
			orderDate = *req.OrderDate
		}
		draft := SalesOrder{
			CompanyID:         who.CompanyID,
			CustomerID:        customer.ID,
			QuotationID:       &q.ID,
			WarehouseID:       req.WarehouseID,
			OrderDate:         orderDate,
			Currency:          q.Currency,
			ExchangeRate:      q.ExchangeRate,
			PriceListID:       q.PriceListID,
			HeaderAdjustments: q.HeaderAdjustments,
			Totals:            q.Totals,
			Notes:             q.Notes,
			Lines:             orderLinesFrom(q.Lines),
		}
		draft.Credit, err = s.creditCheck(ctx, tx, customer, draft.TotalAmount)
		if err != nil {
			return err
		}
		order, err = s.insertOrder(ctx, tx, who, draft, now)
		if err != nil {
			return err
		}
		q.Status = QuotationStatusConverted
		q.ConvertedToOrderID = &order.ID
		q.UpdatedAt = now
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return fmt.Errorf("mark quotation converted: %w", err)
		}
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned("quotation", id, "", string(from), string(QuotationStatusConverted))
	s.record(ctx, who, "quotation:convert", "quotation", id, map[string]any{"sales_order_id": order.ID, "doc_number": order.DocNumber})
	s.observe("quotation", "convert")
	s.observe("sales_order", "created")
	return order, nil
}

func validateQuotationDates(req CreateQuotationRequest) error {
	if req.ValidUntil.Before(req.QuoteDate) {
		return shared.Validation("valid_until", "valid_until must not be before quote_date")
	}
	return nil
}

// expired compares calendar days so a quotation is valid through the whole of ValidUntil.
func expired(validUntil, now time.Time) bool {
	y, m, d := validUntil.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, validUntil.Location()).AddDate(0, 0, 1)
	return !now.Before(end)
}

func exchangeRate(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

func activeCustomer(ctx context.Context, tx TxRepository, companyID, id int64) (Customer, error) {
	c, err := tx.GetCustomer(ctx, companyID, id)
	if err != nil {
		return Customer{}, err
	}
	if !c.IsActive {
		return Customer{}, shared.Validation("customer_id", "customer %s is inactive", c.Code).WithEntity("customer", id)
	}
	return c, nil
}
