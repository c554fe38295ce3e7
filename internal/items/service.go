package items

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository is the persistence port of the item master.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Item, error)
	List(ctx context.Context, companyID int64, filters ListFilters) ([]Item, int, error)
	CreateGroup(ctx context.Context, group Group) (Group, error)
	ListGroups(ctx context.Context, companyID int64) ([]Group, error)
}

// TxRepository holds the row-locking writes.
type TxRepository interface {
	Create(ctx context.Context, item Item) (Item, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Item, error)
	Update(ctx context.Context, item Item) error
	SoftDelete(ctx context.Context, companyID, id, actorID int64) error
	GetGroupForUpdate(ctx context.Context, companyID, id int64) (Group, error)
	CountGroupItems(ctx context.Context, companyID, groupID int64) (int, error)
	SoftDeleteGroup(ctx context.Context, companyID, id, actorID int64) error
}

// MovementChecker answers whether an item has ever moved in the inventory ledger.
type MovementChecker interface {
	HasMovement(ctx context.Context, companyID, itemID int64) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies item master rules.
type Service struct {
	repo      Repository
	movements MovementChecker
	audit     AuditPort
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, movements MovementChecker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, movements: movements, audit: audit, logger: logger}
}

func (s *Service) List(ctx context.Context, who shared.Identity, filters ListFilters) ([]Item, int, error) {
	return s.repo.List(ctx, who.CompanyID, filters)
}

func (s *Service) Get(ctx context.Context, who shared.Identity, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.Validation("id", "invalid item ID")
	}
	return s.repo.Get(ctx, who.CompanyID, id)
}

func (s *Service) Create(ctx context.Context, who shared.Identity, req CreateItemRequest) (Item, error) {
	item := Item{
		CompanyID:       who.CompanyID,
		GroupID:         req.GroupID,
		Code:            strings.TrimSpace(req.Code),
		Name:            strings.TrimSpace(req.Name),
		BaseUOMID:       req.BaseUOMID,
		TrackingPolicy:  req.TrackingPolicy,
		ValuationMethod: req.ValuationMethod,
		IsComposite:     req.IsComposite,
		SellingPrice:    req.SellingPrice,
		IsActive:        true,
	}
	if item.TrackingPolicy == "" {
		item.TrackingPolicy = TrackingNone
	}
	if item.ValuationMethod == "" {
		item.ValuationMethod = ValuationAverage
	}
	if err := s.validate(item); err != nil {
		return Item{}, err
	}
	var created Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireGroup(ctx, tx, who.CompanyID, item.GroupID); err != nil {
			return err
		}
		var err error
		created, err = tx.Create(ctx, item)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, who, "item:create", "item", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Update applies a partial change. Policy fields are frozen once the item has moved.
func (s *Service) Update(ctx context.Context, who shared.Identity, id int64, req UpdateItemRequest) (Item, error) {
	if id <= 0 {
		return Item{}, shared.Validation("id", "invalid item ID")
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		if fields := lockedChanges(current, req); len(fields) > 0 {
			moved, err := s.movements.HasMovement(ctx, who.CompanyID, id)
			if err != nil {
				return fmt.Errorf("items: check movement: %w", err)
			}
			if moved {
				return policyLockedError(id, fields)
			}
		}
		if req.GroupID != nil && (current.GroupID == nil || *current.GroupID != *req.GroupID) {
			if err := requireGroup(ctx, tx, who.CompanyID, req.GroupID); err != nil {
				return err
			}
		}
		updated = applyUpdate(current, req)
		if err := s.validate(updated); err != nil {
			return err
		}
		return tx.Update(ctx, updated)
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, who, "item:update", "item", id, nil)
	return updated, nil
}

// Delete soft-deletes an item that has never moved.
func (s *Service) Delete(ctx context.Context, who shared.Identity, id int64) error {
	if id <= 0 {
		return shared.Validation("id", "invalid item ID")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, who.CompanyID, id); err != nil {
			return err
		}
		moved, err := s.movements.HasMovement(ctx, who.CompanyID, id)
		if err != nil {
			return fmt.Errorf("items: check movement: %w", err)
		}
		if moved {
			return shared.Conflict(shared.CodeItemHasMovement, "item has inventory movement and cannot be deleted").
				WithEntity("item", id).
				WithHint("deactivate the item instead")
		}
		return tx.SoftDelete(ctx, who.CompanyID, id, who.UserID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, who, "item:delete", "item", id, nil)
	return nil
}

func (s *Service) CreateGroup(ctx context.Context, who shared.Identity, req CreateGroupRequest) (Group, error) {
	group := Group{CompanyID: who.CompanyID, Code: strings.TrimSpace(req.Code), Name: strings.TrimSpace(req.Name)}
	if group.Code == "" {
		return Group{}, shared.Validation("code", "group code is required")
	}
	if group.Name == "" {
		return Group{}, shared.Validation("name", "group name is required")
	}
	return s.repo.CreateGroup(ctx, group)
}

func (s *Service) ListGroups(ctx context.Context, who shared.Identity) ([]Group, error) {
	return s.repo.ListGroups(ctx, who.CompanyID)
}

// DeleteGroup soft-deletes a group with no live items.
func (s *Service) DeleteGroup(ctx context.Context, who shared.Identity, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetGroupForUpdate(ctx, who.CompanyID, id); err != nil {
			return err
		}
		n, err := tx.CountGroupItems(ctx, who.CompanyID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return shared.Conflict(shared.CodeGroupHasItems, "item group still has %d item(s)", n).
				WithEntity("item_group", id).
				WithHint("move or delete the items first")
		}
		return tx.SoftDeleteGroup(ctx, who.CompanyID, id, who.UserID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, who, "item_group:delete", "item_group", id, nil)
	return nil
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
	}); err != nil {
		s.logger.Warn("audit item change", slog.String("action", action), slog.Any("error", err))
	}
}
