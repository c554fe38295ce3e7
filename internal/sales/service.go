package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/numbering"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository abstracts persistence for quotations and orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuotation(ctx context.Context, companyID, id int64) (Quotation, error)
	ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	GetOrder(ctx context.Context, companyID, id int64) (SalesOrder, error)
	ListOrders(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrder, int, error)
}

// TxRepository exposes transactional operations. Getters ending in ForUpdate lock the header row.
type TxRepository interface {
	numbering.Sequencer
	inventory.ReferenceStore
	GetCustomer(ctx context.Context, companyID, id int64) (Customer, error)
	CustomerExposure(ctx context.Context, companyID, customerID int64) (float64, error)

	InsertQuotation(ctx context.Context, q Quotation) (int64, error)
	GetQuotationForUpdate(ctx context.Context, companyID, id int64) (Quotation, error)
	UpdateQuotation(ctx context.Context, q Quotation) error
	ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []Line) error

	InsertOrder(ctx context.Context, o SalesOrder) (int64, error)
	InsertOrderLines(ctx context.Context, orderID int64, lines []OrderLine) ([]OrderLine, error)
	GetOrderForUpdate(ctx context.Context, companyID, id int64) (SalesOrder, error)
	UpdateOrder(ctx context.Context, o SalesOrder) error
	OpenDeliveryNotes(ctx context.Context, companyID, orderID int64) ([]string, error)

	InsertReservation(ctx context.Context, r inventory.Reservation) (int64, error)
	ReleaseReservations(ctx context.Context, companyID int64, sourceType string, sourceID int64, at time.Time) (int64, error)
}

// CapabilityChecker answers explicit capability questions; rbac.Checker satisfies it.
type CapabilityChecker interface {
	Can(ctx context.Context, who shared.Identity, perm string) (bool, error)
}

// AuditPort records business events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts document lifecycle events.
type Metrics interface {
	DocumentEvent(document, event string)
}

// Service implements the quotation and sales order pipeline.
type Service struct {
	repo    Repository
	prices  PriceSource
	gen     *numbering.Generator
	checker CapabilityChecker
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Deps groups the collaborators of Service. Audit and Metrics are optional.
type Deps struct {
	Repo    Repository
	Prices  PriceSource
	Numbers *numbering.Generator
	Checker CapabilityChecker
	Audit   AuditPort
	Metrics Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// NewService constructs a Service.
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
	return &Service{
		repo:    d.Repo,
		prices:  d.Prices,
		gen:     d.Numbers,
		checker: d.Checker,
		audit:   d.Audit,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     d.Clock,
	}
}

func (s *Service) record(ctx context.Context, who shared.Identity, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: who.CompanyID,
		ActorID:   who.UserID,
		Action:    action,
		Entity:    entity,
		EntityID:  fmt.Sprint(id),
		Meta:      meta,
		At:        s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit sales event", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(document, event string) {
	if s.metrics != nil {
		s.metrics.DocumentEvent(document, event)
	}
}

func (s *Service) transitioned(entity string, id int64, number string, from, to string) {
	s.logger.Info(entity+" status changed",
		slog.Int64("id", id),
		slog.String("doc_number", number),
		slog.String("from", from),
		slog.String("to", to))
}
