package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func (s *Service) priceLines(ctx context.Context, refs inventory.ReferenceStore, companyID int64, customerID *int64, on time.Time, reqs []LineRequest) ([]Line, error) {
	return PriceLines(ctx, s.prices, refs, companyID, customerID, on, reqs)
}

// PriceLines turns line requests into computed lines. Every item must belong to the
// company. Lines without a unit price are priced through prices; a nil result means the
// item has no price at all.
func PriceLines(ctx context.Context, prices PriceSource, refs inventory.ReferenceStore, companyID int64, customerID *int64, on time.Time, reqs []LineRequest) ([]Line, error) {
	lines := make([]Line, 0, len(reqs))
	for i, req := range reqs {
		if err := inventory.RequireItem(ctx, refs, companyID, req.ItemID, fmt.Sprintf("items[%d].item_id", i)); err != nil {
			return nil, err
		}
		line := Line{
			ItemID:          req.ItemID,
			UOMID:           req.UOMID,
			Description:     req.Description,
			Quantity:        req.Quantity,
			DiscountPercent: req.DiscountPercent,
			TaxPercent:      req.TaxPercent,
			LineOrder:       i + 1,
		}
		if req.UnitPrice != nil {
			line.UnitPrice = *req.UnitPrice
			line.PriceSource = PriceSourceManual
		} else {
			res, err := prices.GetPrice(ctx, pricing.Query{
				CompanyID:  companyID,
				ItemID:     req.ItemID,
				Quantity:   req.Quantity,
				CustomerID: customerID,
				UOMID:      req.UOMID,
				On:         on,
			})
			if err != nil {
				return nil, fmt.Errorf("resolve price for item %d: %w", req.ItemID, err)
			}
			if res == nil {
				e := shared.Validation(fmt.Sprintf("items[%d].unit_price", i), "no price available for item %d", req.ItemID).
					WithEntity("item", req.ItemID).
					WithHint("enter a unit price or add the item to a price list")
				e.Code = shared.CodePriceNotFound
				return nil, e
			}
			line.UnitPrice = res.UnitPrice
			line.PriceSource = string(res.Source)
			line.PriceListID = res.PriceListID
			if line.UOMID == nil && res.UOMID != 0 {
				uom := res.UOMID
				line.UOMID = &uom
			}
		}
		amounts := shared.ComputeLine(shared.LineInput{
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Discount:   shared.Discount{Percent: req.DiscountPercent, Amount: req.DiscountAmount},
			TaxPercent: line.TaxPercent,
		})
		if amounts.Taxable < 0 {
			return nil, shared.Validation(fmt.Sprintf("items[%d].discount_amount", i), "discount exceeds line amount for item %d", req.ItemID)
		}
		line.DiscountAmount = amounts.DiscountAmount
		line.TaxAmount = amounts.TaxAmount
		line.LineTotal = amounts.LineTotal
		lines = append(lines, line)
	}
	return lines, nil
}

// ComputeTotals sums lines and applies header adjustments.
func ComputeTotals(lines []Line, h HeaderAdjustments) Totals {
	amounts := make([]shared.LineAmounts, 0, len(lines))
	for _, l := range lines {
		amounts = append(amounts, shared.LineAmounts{
			Taxable:   shared.SubMoney(l.LineTotal, l.TaxAmount),
			TaxAmount: l.TaxAmount,
			LineTotal: l.LineTotal,
		})
	}
	t := shared.ComputeTotals(amounts, shared.HeaderInput{
		Discount:  shared.Discount{Percent: h.HeaderDiscountPercent, Amount: h.HeaderDiscountAmount},
		TaxAmount: h.HeaderTaxAmount,
		Freight:   h.Freight,
	})
	return Totals{
		Subtotal:       t.Subtotal,
		DiscountAmount: t.DiscountAmount,
		TaxAmount:      t.TaxAmount,
		FreightAmount:  t.FreightAmount,
		TotalAmount:    t.TotalAmount,
	}
}

func orderLinesFrom(lines []Line) []OrderLine {
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		l.ID = 0
		out = append(out, OrderLine{Line: l})
	}
	return out
}

func plainLines(lines []OrderLine) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Line)
	}
	return out
}

// ProgressStatus derives the order status from per-line delivery progress. Orders with no
// delivered quantity keep current, and a cancelled order stays cancelled.
func ProgressStatus(lines []OrderLine, current SalesOrderStatus) SalesOrderStatus {
	if current == SalesOrderStatusCancelled {
		return current
	}
	started, all := false, len(lines) > 0
	for _, l := range lines {
		if l.DeliveredQty > 0 {
			started = true
		}
		if l.Deliverable() > 0 {
			all = false
		}
	}
	switch {
	case all:
		return SalesOrderStatusDelivered
	case started:
		return SalesOrderStatusPartiallyDelivered
	}
	return current
}
