package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Hashim-K/X-Booking/internal/models"
)

type stubAccounts struct {
	accts []models.Account
}

func (s *stubAccounts) ListAccounts(context.Context, bool) ([]models.Account, error) {
	return s.accts, nil
}

type countingLimiter struct {
	mu     sync.Mutex
	budget int
}

func (l *countingLimiter) Allow(context.Context, string) (bool, float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget <= 0 {
		return false, 0, nil
	}
	l.budget--
	return true, float64(l.budget), nil
}

func TestPollRefreshesEveryLocationAndDay(t *testing.T) {
	st := newMemStore()
	drv := &stubDriver{slots: []models.SlotAvailability{slot("18:00", true)}}
	c := New(st, drv, nil, 45*time.Second)
	accts := &stubAccounts{accts: []models.Account{{ID: "a1", NetID: "net1", Password: "pw", IsActive: true}}}

	m := NewMonitor(c, accts, nil, []string{"Fitness", "X1"}, 3, "@every 60s")
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if drv.calls != 6 {
		t.Fatalf("expected 2 locations x 3 days = 6 refreshes, got %d", drv.calls)
	}
}

func TestPollStopsOnRateLimit(t *testing.T) {
	st := newMemStore()
	drv := &stubDriver{slots: []models.SlotAvailability{slot("18:00", true)}}
	c := New(st, drv, nil, 45*time.Second)
	accts := &stubAccounts{accts: []models.Account{{ID: "a1", NetID: "net1", Password: "pw", IsActive: true}}}

	lim := &countingLimiter{budget: 4}
	m := NewMonitor(c, accts, lim, []string{"Fitness", "X1"}, 5, "@every 60s")
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if drv.calls != 4 {
		t.Fatalf("expected the poll to stop at the budget, got %d refreshes", drv.calls)
	}
}

func TestPollWithoutAccountsIsANoop(t *testing.T) {
	st := newMemStore()
	drv := &stubDriver{}
	c := New(st, drv, nil, 45*time.Second)

	m := NewMonitor(c, &stubAccounts{}, nil, []string{"Fitness"}, 3, "@every 60s")
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if drv.calls != 0 {
		t.Fatalf("no accounts should mean no portal calls, got %d", drv.calls)
	}
}
