// Package accounts tracks which credentials may attempt a given slot.
package accounts

import (
	"context"

	"github.com/Hashim-K/X-Booking/internal/models"
)

// Store is the slice of the state store the pool needs.
type Store interface {
	ListEligibleAccounts(ctx context.Context, date, timeSlot string) ([]models.Account, error)
	ReserveBooking(ctx context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error)
}

// Pool answers eligibility questions ahead of time and commits accounts
// to attempts. Eligibility mirrors the store's live-booking uniqueness
// constraint; the constraint itself still decides races at reserve time.
type Pool struct {
	store Store
}

func New(store Store) *Pool {
	return &Pool{store: store}
}

// Eligible returns active accounts with no live booking for the given
// (date, time slot) across any location.
func (p *Pool) Eligible(ctx context.Context, date, timeSlot string) ([]models.Account, error) {
	return p.store.ListEligibleAccounts(ctx, date, timeSlot)
}

// ReserveForAttempt atomically commits an account to an attempt by
// inserting its pending booking. A conflict means the account is
// already committed elsewhere for this slot; callers skip it without
// side effects. This is the only path that commits an account.
func (p *Pool) ReserveForAttempt(ctx context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error) {
	return p.store.ReserveBooking(ctx, accountID, date, timeSlot, location, subLocation)
}
