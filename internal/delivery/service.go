package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository provides persistence for delivery notes.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Note, error)
	List(ctx context.Context, req ListRequest) ([]Note, int, error)
}

// OrderStore is the slice of the sales order store a delivery touches; *sales.SQLStore
// satisfies it.
type OrderStore interface {
	GetOrderForUpdate(ctx context.Context, companyID, id int64) (sales.SalesOrder, error)
	AddDeliveredQty(ctx context.Context, orderID, lineID int64, qty float64) error
	SetOrderStatus(ctx context.Context, orderID int64, status sales.SalesOrderStatus, at time.Time) error
}

// TxRepository exposes everything a delivery posts inside one transaction.
type TxRepository interface {
	numbering.Sequencer
	OrderStore
	inventory.MovementStore
	inventory.ReservationStore
	inventory.ReferenceStore

	Insert(ctx context.Context, n Note) (int64, error)
	InsertLines(ctx context.Context, noteID int64, lines []Line) ([]Line, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Note, error)
	Update(ctx context.Context, n Note) error
	OpenQuantities(ctx context.Context, orderID int64) (map[int64]float64, error)
	ItemBaseUOM(ctx context.Context, companyID, itemID int64) (int64, error)
}

// AuditPort records business events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts document lifecycle events.
type Metrics interface {
	DocumentEvent(document, event string)
}

// Deps groups the collaborators of Service. Audit and Metrics are optional.
type Deps struct {
	Repo    Repository
	Numbers *numbering.Generator
	Ledger  inventory.Ledger
	Audit   AuditPort
	Metrics Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Service provides business logic for delivery notes.
type Service struct {
	repo    Repository
	gen     *numbering.Generator
	ledger  inventory.Ledger
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a delivery service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Numbers == nil {
		d.Numbers = numbering.NewGenerator(nil)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Ledger.Now == nil {
		d.Ledger.Now = d.Clock
	}
	return &Service{
		repo:    d.Repo,
		gen:     d.Numbers,
		ledger:  d.Ledger,
		audit:   d.Audit,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     d.Clock,
	}
}

// ============================================================================
// DELIVERY NOTE OPERATIONS
// ============================================================================

// CreateFromOrder builds a DRAFT note from the order's deliverable quantities. Quantities
// already on open notes are not offered again.
func (s *Service) CreateFromOrder(ctx context.Context, who shared.Identity, req CreateFromOrderRequest) (Note, error) {
	var out Note
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, who.CompanyID, req.SalesOrderID)
		if err != nil {
			return err
		}
		if !order.Status.Deliverable() {
			return shared.InvalidStatus("sales_order", order.ID,
				"sales order %s is %s; delivery notes need an APPROVED, CONFIRMED or PARTIALLY_DELIVERED order", order.DocNumber, order.Status)
		}
		if err := inventory.RequireWarehouse(ctx, tx, who.CompanyID, req.WarehouseID, "warehouse_id"); err != nil {
			return err
		}
		pending, err := tx.OpenQuantities(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("open delivery quantities: %w", err)
		}
		lines, err := s.deliverableLines(ctx, tx, order, pending, req.Items)
		if err != nil {
			return err
		}
		number, err := s.gen.Next(ctx, tx, who.CompanyID, numbering.DocDeliveryNote)
		if err != nil {
			return fmt.Errorf("generate delivery note number: %w", err)
		}
		now := s.now().UTC()
		deliveryDate := now
		if req.DeliveryDate != nil {
			deliveryDate = *req.DeliveryDate
		}
		n := Note{
			DocNumber:     number,
			CompanyID:     who.CompanyID,
			SalesOrderID:  order.ID,
			CustomerID:    order.CustomerID,
			WarehouseID:   req.WarehouseID,
			DeliveryDate:  deliveryDate,
			Status:        StatusDraft,
			DriverName:    req.DriverName,
			VehicleNumber: req.VehicleNumber,
			Notes:         req.Notes,
			CreatedBy:     who.UserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		id, err := tx.Insert(ctx, n)
		if err != nil {
			return fmt.Errorf("insert delivery note: %w", err)
		}
		n.ID = id
		n.Lines, err = tx.InsertLines(ctx, id, lines)
		if err != nil {
			return fmt.Errorf("insert delivery note lines: %w", err)
		}
		out = n
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	s.record(ctx, who, "delivery_note:create", out.ID, map[string]any{"doc_number": out.DocNumber, "sales_order_id": out.SalesOrderID})
	s.observe("created")
	return out, nil
}

func (s *Service) deliverableLines(ctx context.Context, tx TxRepository, order sales.SalesOrder, pending map[int64]float64, picks []LineQuantity) ([]Line, error) {
	remaining := make(map[int64]float64, len(order.Lines))
	byID := make(map[int64]sales.OrderLine, len(order.Lines))
	for _, l := range order.Lines {
		rest := l.Deliverable() - pending[l.ID]
		if rest < 0 {
			rest = 0
		}
		remaining[l.ID] = rest
		byID[l.ID] = l
	}
	if len(picks) == 0 {
		for _, l := range order.Lines {
			if remaining[l.ID] > 0 {
				picks = append(picks, LineQuantity{SalesOrderItemID: l.ID, Quantity: remaining[l.ID]})
			}
		}
	}
	if len(picks) == 0 {
		return nil, shared.Conflict(shared.CodeInvalidStatus, "sales order %s has nothing left to deliver", order.DocNumber).
			WithEntity("sales_order", order.ID)
	}
	lines := make([]Line, 0, len(picks))
	for i, p := range picks {
		ol, ok := byID[p.SalesOrderItemID]
		if !ok {
			return nil, shared.Validation(fmt.Sprintf("items[%d].sales_order_item_id", i), "line %d does not belong to sales order %s", p.SalesOrderItemID, order.DocNumber)
		}
		if p.Quantity > remaining[ol.ID] {
			return nil, shared.Validation(fmt.Sprintf("items[%d].quantity", i), "quantity %.2f exceeds the %.2f left to deliver on line %d", p.Quantity, remaining[ol.ID], ol.ID)
		}
		uom, err := s.lineUOM(ctx, tx, order.CompanyID, ol)
		if err != nil {
			return nil, err
		}
		remaining[ol.ID] -= p.Quantity
		lines = append(lines, Line{
			SalesOrderItemID: ol.ID,
			ItemID:           ol.ItemID,
			UOMID:            uom,
			DeliveredQty:     p.Quantity,
			UnitPrice:        ol.UnitPrice,
			BatchNumber:      p.BatchNumber,
			SerialNumbers:    p.SerialNumbers,
			LineOrder:        i + 1,
		})
	}
	return lines, nil
}

func (s *Service) lineUOM(ctx context.Context, tx TxRepository, companyID int64, l sales.OrderLine) (int64, error) {
	if l.UOMID != nil {
		return *l.UOMID, nil
	}
	return tx.ItemBaseUOM(ctx, companyID, l.ItemID)
}

// PostInventory writes one GOODS_ISSUE per line and moves the note to READY. It runs once
// per note.
func (s *Service) PostInventory(ctx context.Context, who shared.Identity, id int64) (Note, error) {
	return s.transition(ctx, who, id, "post_inventory", func(ctx context.Context, tx TxRepository, n *Note, now time.Time) error {
		if n.InventoryPosted {
			return shared.InvalidStatus("delivery_note", n.ID, "inventory for delivery note %s is already posted", n.DocNumber)
		}
		if n.Status != StatusDraft {
			return shared.InvalidStatus("delivery_note", n.ID, "cannot post inventory for delivery note in status %s", n.Status)
		}
		if _, err := s.liveOrder(ctx, tx, n); err != nil {
			return err
		}
		if err := s.postMovements(ctx, tx, who, n, now); err != nil {
			return err
		}
		n.Status = StatusReady
		return nil
	})
}

func (s *Service) postMovements(ctx context.Context, tx TxRepository, who shared.Identity, n *Note, now time.Time) error {
	for _, l := range n.Lines {
		batch := ""
		if l.BatchNumber != nil {
			batch = *l.BatchNumber
		}
		if _, err := s.ledger.Record(ctx, tx, inventory.MovementInput{
			CompanyID:     n.CompanyID,
			ItemID:        l.ItemID,
			WarehouseID:   n.WarehouseID,
			UOMID:         l.UOMID,
			Type:          inventory.MovementGoodsIssue,
			Quantity:      -l.DeliveredQty,
			ReferenceType: inventory.RefDeliveryNote,
			ReferenceID:   n.ID,
			BatchNumber:   batch,
			Notes:         n.DocNumber,
			UserID:        who.UserID,
		}); err != nil {
			return fmt.Errorf("post line %d of %s: %w", l.LineOrder, n.DocNumber, err)
		}
	}
	n.InventoryPosted = true
	n.InventoryPostedBy = &who.UserID
	n.InventoryPostedAt = &now
	return nil
}

// Dispatch moves a READY note to DISPATCHED.
func (s *Service) Dispatch(ctx context.Context, who shared.Identity, id int64, req DispatchRequest) (Note, error) {
	return s.transition(ctx, who, id, "dispatch", func(ctx context.Context, tx TxRepository, n *Note, now time.Time) error {
		if n.Status != StatusReady {
			return shared.InvalidStatus("delivery_note", n.ID, "cannot dispatch delivery note in status %s", n.Status).
				WithHint("post inventory first")
		}
		if _, err := s.liveOrder(ctx, tx, n); err != nil {
			return err
		}
		if req.DriverName != nil {
			n.DriverName = req.DriverName
		}
		if req.VehicleNumber != nil {
			n.VehicleNumber = req.VehicleNumber
		}
		if req.TrackingNumber != nil {
			n.TrackingNumber = req.TrackingNumber
		}
		n.Status = StatusDispatched
		n.DispatchedBy = &who.UserID
		n.DispatchedAt = &now
		return nil
	})
}

// ConfirmDelivery marks the note DELIVERED and, in the same transaction, posts inventory if
// still pending, advances the order lines and fulfils their reservations.
func (s *Service) ConfirmDelivery(ctx context.Context, who shared.Identity, id int64, receivedBy string) (Note, error) {
	if receivedBy == "" {
		return Note{}, shared.Validation("received_by", "received_by is required")
	}
	return s.transition(ctx, who, id, "confirm_delivery", func(ctx context.Context, tx TxRepository, n *Note, now time.Time) error {
		if !n.Status.Confirmable() {
			return shared.InvalidStatus("delivery_note", n.ID, "cannot confirm delivery note in status %s", n.Status)
		}
		order, err := s.liveOrder(ctx, tx, n)
		if err != nil {
			return err
		}
		if !n.InventoryPosted {
			if err := s.postMovements(ctx, tx, who, n, now); err != nil {
				return err
			}
		}
		if err := s.propagate(ctx, tx, order, n, now); err != nil {
			return err
		}
		n.Status = StatusDelivered
		n.ReceivedBy = &receivedBy
		n.DeliveredAt = &now
		n.ConfirmedBy = &who.UserID
		return nil
	})
}

// liveOrder locks the note's order and refuses orders that can no longer take deliveries.
func (s *Service) liveOrder(ctx context.Context, tx TxRepository, n *Note) (sales.SalesOrder, error) {
	order, err := tx.GetOrderForUpdate(ctx, n.CompanyID, n.SalesOrderID)
	if err != nil {
		return sales.SalesOrder{}, err
	}
	if !order.Status.Deliverable() {
		return sales.SalesOrder{}, shared.InvalidStatus("sales_order", order.ID,
			"sales order %s is %s; delivery note %s can no longer move", order.DocNumber, order.Status, n.DocNumber)
	}
	return order, nil
}

func (s *Service) propagate(ctx context.Context, tx TxRepository, order sales.SalesOrder, n *Note, now time.Time) error {
	index := make(map[int64]int, len(order.Lines))
	for i, l := range order.Lines {
		index[l.ID] = i
	}
	for _, l := range n.Lines {
		i, ok := index[l.SalesOrderItemID]
		if !ok {
			return shared.NotFound("sales_order item", l.SalesOrderItemID)
		}
		if err := tx.AddDeliveredQty(ctx, order.ID, l.SalesOrderItemID, l.DeliveredQty); err != nil {
			return fmt.Errorf("advance order line %d: %w", l.SalesOrderItemID, err)
		}
		order.Lines[i].DeliveredQty += l.DeliveredQty
		if _, err := inventory.FulfillReservations(ctx, tx, n.CompanyID, inventory.RefSalesOrder, order.ID, l.SalesOrderItemID, l.ItemID, l.DeliveredQty, now); err != nil {
			return fmt.Errorf("fulfil reservations of line %d: %w", l.SalesOrderItemID, err)
		}
	}
	next := sales.ProgressStatus(order.Lines, order.Status)
	if next != order.Status {
		if err := tx.SetOrderStatus(ctx, order.ID, next, now); err != nil {
			return fmt.Errorf("advance order status: %w", err)
		}
		s.logger.Info("sales_order status changed",
			slog.Int64("id", order.ID),
			slog.String("doc_number", order.DocNumber),
			slog.String("from", string(order.Status)),
			slog.String("to", string(next)))
	}
	return nil
}

// Cancel cancels a DRAFT note; nothing has been posted for it.
func (s *Service) Cancel(ctx context.Context, who shared.Identity, id int64, reason string) (Note, error) {
	if reason == "" {
		return Note{}, shared.Validation("reason", "cancellation reason is required")
	}
	return s.transition(ctx, who, id, "cancel", func(_ context.Context, _ TxRepository, n *Note, now time.Time) error {
		if n.Status != StatusDraft || n.InventoryPosted {
			return shared.InvalidStatus("delivery_note", n.ID, "cannot cancel delivery note in status %s", n.Status)
		}
		n.Status = StatusCancelled
		n.CancelledBy = &who.UserID
		n.CancelledAt = &now
		n.CancellationReason = &reason
		return nil
	})
}

// Get loads a note with its lines.
func (s *Service) Get(ctx context.Context, who shared.Identity, id int64) (Note, error) {
	return s.repo.Get(ctx, who.CompanyID, id)
}

// List lists notes of the caller's company.
func (s *Service) List(ctx context.Context, who shared.Identity, req ListRequest) ([]Note, int, error) {
	req.CompanyID = who.CompanyID
	return s.repo.List(ctx, req)
}

func (s *Service) transition(ctx context.Context, who shared.Identity, id int64, action string, apply func(context.Context, TxRepository, *Note, time.Time) error) (Note, error) {
	var (
		out  Note
		from Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.GetForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		from = n.Status
		now := s.now().UTC()
		if err := apply(ctx, tx, &n, now); err != nil {
			return err
		}
		n.UpdatedAt = now
		if err := tx.Update(ctx, n); err != nil {
			return fmt.Errorf("%s delivery note: %w", action, err)
		}
		out = n
		return nil
	})
	if err != nil {
		return Note{}, err
	}
	s.logger.Info("delivery_note status changed",
		slog.Int64("id", out.ID),
		slog.String("doc_number", out.DocNumber),
		slog.String("from", string(from)),
		slog.String("to", string(out.Status)))
	s.record(ctx, who, "delivery_note:"+action, out.ID, map[string]any{"from": from, "to": out.Status})
	s.observe(action)
	return out, nil
}

func (s *Service) record(ctx context.Context, who shared.Identity, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: who.CompanyID,
		ActorID:   who.UserID,
		Action:    action,
		Entity:    "delivery_note",
		EntityID:  fmt.Sprint(id),
		Meta:      meta,
		At:        s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit delivery event", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(event string) {
	if s.metrics != nil {
		s.metrics.DocumentEvent("delivery_note", event)
	}
}
