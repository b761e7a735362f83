package accounts

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
)

// raceStore enforces the live-booking uniqueness constraint the way the
// database does: first insert for an (account, date, slot) key wins,
// every later one is a conflict.
type raceStore struct {
	mu   sync.Mutex
	held map[string]bool
}

func newRaceStore() *raceStore {
	return &raceStore{held: map[string]bool{}}
}

func (s *raceStore) ListEligibleAccounts(context.Context, string, string) ([]models.Account, error) {
	return nil, nil
}

func (s *raceStore) ReserveBooking(_ context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "|" + date + "|" + timeSlot
	if s.held[key] {
		return models.Booking{}, errdefs.Newf(errdefs.KindConflict,
			"account %s already holds a live booking for %s %s", accountID, date, timeSlot)
	}
	s.held[key] = true
	return models.Booking{
		ID:          fmt.Sprintf("b-%d", len(s.held)),
		AccountID:   accountID,
		BookingDate: date,
		TimeSlot:    timeSlot,
		Location:    location,
		SubLocation: subLocation,
		Status:      models.BookingPending,
	}, nil
}

func TestReserveForAttemptRaceHasOneWinner(t *testing.T) {
	pool := New(newRaceStore())

	const racers = 32
	start := make(chan struct{})
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := pool.ReserveForAttempt(context.Background(), "acct-1", "2026-09-03", "18:00", "X1", "A")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	won, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errdefs.Is(err, errdefs.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning reservation, got %d", won)
	}
	if conflicts != racers-1 {
		t.Fatalf("expected %d conflicts, got %d", racers-1, conflicts)
	}
}

func TestReserveDifferentSlotsDoNotConflict(t *testing.T) {
	pool := New(newRaceStore())
	ctx := context.Background()

	if _, err := pool.ReserveForAttempt(ctx, "acct-1", "2026-09-03", "18:00", "X1", "A"); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if _, err := pool.ReserveForAttempt(ctx, "acct-1", "2026-09-03", "19:00", "X1", "A"); err != nil {
		t.Fatalf("other slot should be free: %v", err)
	}
	if _, err := pool.ReserveForAttempt(ctx, "acct-2", "2026-09-03", "18:00", "X1", "A"); err != nil {
		t.Fatalf("other account should be free: %v", err)
	}
	_, err := pool.ReserveForAttempt(ctx, "acct-1", "2026-09-03", "18:00", "X3", "B")
	if !errdefs.Is(err, errdefs.KindConflict) {
		t.Fatalf("same slot at another location should conflict, got %v", err)
	}
}
