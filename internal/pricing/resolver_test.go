package pricing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	items      map[int64]Item
	candidates []Candidate
	calls      atomic.Int32
}

func (m *memoryRepo) GetItem(_ context.Context, companyID, itemID int64) (Item, error) {
	item, ok := m.items[itemID]
	if !ok || item.CompanyID != companyID {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (m *memoryRepo) ListCandidates(_ context.Context, q Query) ([]Candidate, error) {
	m.calls.Add(1)
	var out []Candidate
	for _, c := range m.candidates {
		if c.Tier == SourceCustomer || c.Tier == SourceCategory {
			if q.CustomerID == nil {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func int64Ptr(v int64) *int64       { return &v }
func floatPtr(v float64) *float64    { return &v }
func timePtr(t time.Time) *time.Time { return &t }

var today = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Item{
		10: {ID: 10, CompanyID: 1, SellingPrice: 42.50, BaseUOMID: 3},
	}}
}

func TestCustomerSpecificOutranksOtherTiers(t *testing.T) {
	repo := newRepo()
	repo.candidates = []Candidate{
		{PriceListID: 3, Tier: SourceCompany, Priority: 0, ItemID: 10, UnitPrice: 40, IsActive: true},
		{PriceListID: 2, Tier: SourceCategory, Priority: 1, ItemID: 10, UnitPrice: 38, IsActive: true},
		{PriceListID: 1, Tier: SourceCustomer, Priority: 900, ItemID: 10, UnitPrice: 35, IsActive: true},
	}
	r := NewResolver(repo, nil)

	res, err := r.GetPrice(context.Background(), Query{CompanyID: 1, ItemID: 10, Quantity: 5, CustomerID: int64Ptr(77), On: today})

	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 35.0, res.UnitPrice)
	require.Equal(t, SourceCustomer, res.Source)
	require.Equal(t, int64(1), *res.PriceListID)
	require.Equal(t, 900, res.EffectivePriority)
}

func TestFallbackToBasePrice(t *testing.T) {
	r := NewResolver(newRepo(), nil)

	res, err := r.GetPrice(context.Background(), Query{CompanyID: 1, ItemID: 10, Quantity: 1, On: today})

	require.NoError(t, err)
	require.Equal(t, &Result{UnitPrice: 42.50, Source: SourceDefault, UOMID: 3}, res)
}

func TestMissingItemReturnsNil(t *testing.T) {
	r := NewResolver(newRepo(), nil)

	res, err := r.GetPrice(context.Background(), Query{CompanyID: 1, ItemID: 99, Quantity: 1, On: today})
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = r.GetPrice(context.Background(), Query{CompanyID: 2, ItemID: 10, Quantity: 1, On: today})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestSelectBestFilters(t *testing.T) {
	q := Query{ItemID: 10, Quantity: 12, UOMID: int64Ptr(3), On: today}
	candidates := []Candidate{
		{PriceListID: 1, Tier: SourceCustomer, ItemID: 10, UnitPrice: 1, IsActive: false},
		{PriceListID: 2, Tier: SourceCustomer, ItemID: 10, UnitPrice: 2, IsActive: true, UOMID: int64Ptr(4)},
		{PriceListID: 3, Tier: SourceCustomer, ItemID: 10, UnitPrice: 3, IsActive: true, MinQty: 20},
		{PriceListID: 4, Tier: SourceCustomer, ItemID: 10, UnitPrice: 4, IsActive: true, MaxQty: floatPtr(10)},
		{PriceListID: 5, Tier: SourceCustomer, ItemID: 10, UnitPrice: 5, IsActive: true, ValidTo: timePtr(today.AddDate(0, 0, -1))},
		{PriceListID: 6, Tier: SourceCustomer, ItemID: 10, UnitPrice: 6, IsActive: true, ValidFrom: timePtr(today.AddDate(0, 0, 1))},
		{PriceListID: 7, Tier: SourceCustomer, ItemID: 11, UnitPrice: 7, IsActive: true},
		{PriceListID: 8, Tier: SourceCompany, ItemID: 10, UnitPrice: 8, IsActive: true, ValidTo: timePtr(today)},
	}

	best, ok := SelectBest(candidates, q)

	require.True(t, ok)
	require.Equal(t, int64(8), best.PriceListID)
}

func TestSelectBestPrefersPriorityThenTightestBracket(t *testing.T) {
	q := Query{ItemID: 10, Quantity: 50, On: today}
	candidates := []Candidate{
		{PriceListID: 1, Tier: SourceCategory, Priority: 5, ItemID: 10, UnitPrice: 9, IsActive: true, MinQty: 1},
		{PriceListID: 2, Tier: SourceCategory, Priority: 5, ItemID: 10, UnitPrice: 8, IsActive: true, MinQty: 25},
		{PriceListID: 3, Tier: SourceCategory, Priority: 7, ItemID: 10, UnitPrice: 1, IsActive: true, MinQty: 50},
		{PriceListID: 4, Tier: SourceCompany, Priority: 0, ItemID: 10, UnitPrice: 0.5, IsActive: true},
	}

	best, ok := SelectBest(candidates, q)

	require.True(t, ok)
	require.Equal(t, int64(2), best.PriceListID)
	require.Equal(t, 8.0, best.UnitPrice)
}

func TestSelectBestUOMNullMatchesAny(t *testing.T) {
	q := Query{ItemID: 10, Quantity: 1, UOMID: int64Ptr(9), On: today}
	best, ok := SelectBest([]Candidate{{PriceListID: 1, Tier: SourceCompany, ItemID: 10, UnitPrice: 3, IsActive: true}}, q)
	require.True(t, ok)
	require.Equal(t, int64(1), best.PriceListID)
}

func TestGetPriceUsesItemBaseUOM(t *testing.T) {
	repo := newRepo()
	repo.candidates = []Candidate{
		{PriceListID: 1, Tier: SourceCompany, ItemID: 10, UnitPrice: 30, IsActive: true, UOMID: int64Ptr(4)},
		{PriceListID: 2, Tier: SourceCompany, ItemID: 10, UnitPrice: 31, IsActive: true, UOMID: int64Ptr(3)},
	}

	res, err := NewResolver(repo, nil).GetPrice(context.Background(), Query{CompanyID: 1, ItemID: 10, On: today})

	require.NoError(t, err)
	require.Equal(t, 31.0, res.UnitPrice)
	require.Equal(t, int64(3), res.UOMID)
}
