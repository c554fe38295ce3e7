package inventory

import (
	"context"
	"time"
)

// ReservationStore is the transactional surface for reservation updates. LockActive must
// lock the returned rows (SELECT ... FOR UPDATE) so concurrent deliveries cannot lose updates.
type ReservationStore interface {
	LockActiveReservations(ctx context.Context, companyID int64, sourceType string, sourceID, sourceLineID, itemID int64) ([]Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
}

// ApplyFulfillment adds qty to the reservation and flips it to FULFILLED once the reserved
// quantity is covered.
func ApplyFulfillment(r Reservation, qty float64, at time.Time) Reservation {
	r.FulfilledQty += qty
	if r.FulfilledQty+qtyEpsilon >= r.ReservedQty {
		r.Status = ReservationFulfilled
	}
	r.UpdatedAt = at
	return r
}

// FulfillReservations spreads a delivered quantity over the active reservations of a source
// line in id order. Any excess lands on the last reservation.
func FulfillReservations(ctx context.Context, store ReservationStore, companyID int64, sourceType string, sourceID, sourceLineID, itemID int64, qty float64, at time.Time) ([]Reservation, error) {
	if qty <= 0 {
		return nil, nil
	}
	active, err := store.LockActiveReservations(ctx, companyID, sourceType, sourceID, sourceLineID, itemID)
	if err != nil {
		return nil, err
	}
	updated := make([]Reservation, 0, len(active))
	remaining := qty
	for i, r := range active {
		if remaining <= qtyEpsilon {
			break
		}
		take := r.ReservedQty - r.FulfilledQty
		if take > remaining || i == len(active)-1 {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		r = ApplyFulfillment(r, take, at)
		if err := store.UpdateReservation(ctx, r); err != nil {
			return nil, err
		}
		remaining -= take
		updated = append(updated, r)
	}
	return updated, nil
}
