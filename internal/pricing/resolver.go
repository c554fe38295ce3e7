// Package pricing resolves item unit prices from tiered price lists.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrItemNotFound is returned by repositories when the item does not exist for the company.
var ErrItemNotFound = errors.New("pricing: item not found")

// Repository loads pricing inputs.
type Repository interface {
	GetItem(ctx context.Context, companyID, itemID int64) (Item, error)
	ListCandidates(ctx context.Context, q Query) ([]Candidate, error)
}

// Resolver implements price resolution. It never writes.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, logger: logger, now: time.Now}
}

// GetPrice returns the unit price for q, or nil when the item does not exist for the
// company. A nil result means "no price available" and must not be read as zero.
func (r *Resolver) GetPrice(ctx context.Context, q Query) (*Result, error) {
	if q.CompanyID == 0 || q.ItemID == 0 {
		return nil, fmt.Errorf("pricing: company and item required")
	}
	if q.Quantity <= 0 {
		q.Quantity = 1
	}
	if q.On.IsZero() {
		q.On = r.now()
	}
	v, err, _ := r.group.Do(flightKey(q), func() (any, error) {
		return r.resolve(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.(*Result)
	if res == nil {
		return nil, nil
	}
	out := *res
	return &out, nil
}

func (r *Resolver) resolve(ctx context.Context, q Query) (*Result, error) {
	item, err := r.repo.GetItem(ctx, q.CompanyID, q.ItemID)
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if q.UOMID == nil {
		base := item.BaseUOMID
		q.UOMID = &base
	}
	candidates, err := r.repo.ListCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	if best, ok := SelectBest(candidates, q); ok {
		id := best.PriceListID
		uom := item.BaseUOMID
		if best.UOMID != nil {
			uom = *best.UOMID
		}
		return &Result{
			UnitPrice:         best.UnitPrice,
			Source:            best.Tier,
			PriceListID:       &id,
			PriceListName:     best.PriceListName,
			EffectivePriority: tierOffset[best.Tier] + best.Priority,
			UOMID:             uom,
			MinQty:            best.MinQty,
		}, nil
	}
	r.logger.Debug("price list miss, using base price",
		slog.Int64("company_id", q.CompanyID), slog.Int64("item_id", q.ItemID))
	return &Result{UnitPrice: item.SellingPrice, Source: SourceDefault, UOMID: item.BaseUOMID}, nil
}

// SelectBest filters candidates against q and returns the winner: lowest tier first, then
// ascending list priority, then the tightest quantity bracket (highest min_qty).
func SelectBest(candidates []Candidate, q Query) (Candidate, bool) {
	today := dateOnly(q.On)
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matches(c, q, today) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if tierOffset[a.Tier] != tierOffset[b.Tier] {
			return tierOffset[a.Tier] < tierOffset[b.Tier]
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.MinQty > b.MinQty
	})
	return eligible[0], true
}

func matches(c Candidate, q Query, today time.Time) bool {
	if _, ok := tierOffset[c.Tier]; !ok {
		return false
	}
	if !c.IsActive || c.ItemID != q.ItemID {
		return false
	}
	if c.UOMID != nil && q.UOMID != nil && *c.UOMID != *q.UOMID {
		return false
	}
	if c.MinQty > q.Quantity {
		return false
	}
	if c.MaxQty != nil && *c.MaxQty < q.Quantity {
		return false
	}
	if c.ValidFrom != nil && dateOnly(*c.ValidFrom).After(today) {
		return false
	}
	if c.ValidTo != nil && dateOnly(*c.ValidTo).Before(today) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func flightKey(q Query) string {
	customer, uom := int64(0), int64(0)
	if q.CustomerID != nil {
		customer = *q.CustomerID
	}
	if q.UOMID != nil {
		uom = *q.UOMID
	}
	return fmt.Sprintf("%d:%d:%g:%d:%d:%s", q.CompanyID, q.ItemID, q.Quantity, customer, uom, q.On.Format("2006-01-02"))
}
