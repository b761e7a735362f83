package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/portal"
)

type memStore struct {
	mu            sync.Mutex
	reservations  map[string]models.Booking
	confirmed     map[string]string
	failed        map[string]string
	logs          []models.BookingLogEntry
	assigned      []string
	finalStatus   string
	finalResult   *models.JobResult
	failureCounts map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		reservations:  map[string]models.Booking{},
		confirmed:     map[string]string{},
		failed:        map[string]string{},
		failureCounts: map[string]int{},
	}
}

func reservationKey(accountID, date, slot string) string {
	return accountID + "|" + date + "|" + slot
}

func (m *memStore) reserve(accountID, date, timeSlot, location, subLocation string) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reservationKey(accountID, date, timeSlot)
	if _, ok := m.reservations[key]; ok {
		return models.Booking{}, errdefs.New(errdefs.KindConflict, "slot already held")
	}
	b := models.Booking{
		ID:          fmt.Sprintf("bk-%d", len(m.reservations)+1),
		AccountID:   accountID,
		BookingDate: date,
		TimeSlot:    timeSlot,
		Location:    location,
		SubLocation: subLocation,
		Status:      models.BookingPending,
	}
	m.reservations[key] = b
	return b, nil
}

func (m *memStore) ConfirmBooking(_ context.Context, id, reference string) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed[id] = reference
	return models.Booking{ID: id, Status: models.BookingConfirmed, BookingReference: reference}, nil
}

func (m *memStore) FailBooking(_ context.Context, id, message string) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = message
	return models.Booking{ID: id, Status: models.BookingFailed, ErrorMessage: message}, nil
}

func (m *memStore) AppendBookingLog(_ context.Context, e models.BookingLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *memStore) SubLocationFailureCounts(_ context.Context, _ string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for k, v := range m.failureCounts {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SetJobAssignedAccounts(_ context.Context, _ string, accountIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned = accountIDs
	return nil
}

func (m *memStore) FinishSnipeJob(_ context.Context, _ string, status string, result *models.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalStatus = status
	m.finalResult = result
	return nil
}

func (m *memStore) actionCount(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.logs {
		if e.Action == action {
			n++
		}
	}
	return n
}

type memPool struct {
	store    *memStore
	accounts []models.Account
}

// Eligible returns every account, including already-committed ones, so
// the reserve conflict path gets exercised the way a listing race would
// exercise it in production.
func (p *memPool) Eligible(_ context.Context, _, _ string) ([]models.Account, error) {
	return append([]models.Account(nil), p.accounts...), nil
}

func (p *memPool) ReserveForAttempt(_ context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error) {
	return p.store.reserve(accountID, date, timeSlot, location, subLocation)
}

// memCache answers Ensure from a fixed availability table keyed by
// location|sub.
type memCache struct {
	open map[string][]string // location|sub -> available slots
}

func (c *memCache) Ensure(_ context.Context, _ portal.Credentials, location, subLocation, _ string) ([]models.SlotAvailability, error) {
	slots, ok := c.open[location+"|"+subLocation]
	if !ok {
		// Known key with no open slots: a fresh negative snapshot.
		return []models.SlotAvailability{}, nil
	}
	var out []models.SlotAvailability
	for _, ts := range []string{"17:00", "18:00", "19:00", "20:00"} {
		avail := false
		for _, open := range slots {
			if open == ts {
				avail = true
			}
		}
		out = append(out, models.SlotAvailability{
			Location: location, SubLocation: subLocation,
			TimeSlot: ts, IsAvailable: avail, LastChecked: time.Now(),
		})
	}
	return out, nil
}

// stubPortal grants each winning slot to exactly one caller; the rest
// get the portal's no-longer-available answer, like racing a real slot
// with capacity one.
type stubPortal struct {
	portal.Driver
	mu       sync.Mutex
	wins     map[string]bool // location|sub
	taken    map[string]bool // location|sub|slot
	attempts []string
}

func (d *stubPortal) AttemptBooking(_ context.Context, creds portal.Credentials, _, timeSlot, location, sub string) (portal.BookingResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, creds.NetID+"@"+location+"|"+sub)
	if d.taken == nil {
		d.taken = map[string]bool{}
	}
	slotKey := location + "|" + sub + "|" + timeSlot
	if !d.wins[location+"|"+sub] || d.taken[slotKey] {
		return portal.BookingResult{Success: false, Message: "slot no longer available"}, nil
	}
	d.taken[slotKey] = true
	return portal.BookingResult{Success: true, Reference: "ref-" + timeSlot + "-" + sub}, nil
}

func accts(n int) []models.Account {
	out := make([]models.Account, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Account{
			ID:       fmt.Sprintf("acct-%d", i+1),
			NetID:    fmt.Sprintf("net%d", i+1),
			Password: "pw",
			IsActive: true,
		})
	}
	return out
}

func testJob(tiers []models.Tier, hours int, acceptPartial bool) models.SnipeJob {
	return models.SnipeJob{
		ID:               "job-1",
		TargetDate:       "2026-09-03",
		WindowStart:      "18:00",
		ConsecutiveHours: hours,
		AcceptPartial:    acceptPartial,
		Tiers:            tiers,
		Status:           models.JobRunning,
	}
}

func opts() Options {
	return Options{
		AttemptTimeout: time.Second,
		StoreRetryMax:  2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestSingleTierConfirms(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(2)}
	cache := &memCache{open: map[string][]string{"X1|A": {"18:00"}}}
	drv := &stubPortal{wins: map[string]bool{"X1|A": true}}
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{{Location: "X1", SubLocations: []string{"A"}}}, 1, false))

	if st.finalStatus != models.JobCompleted {
		t.Fatalf("job status %q", st.finalStatus)
	}
	out := st.finalResult.Hours["18:00"]
	if !out.Confirmed || out.Location != "X1" || out.SubLocation != "A" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(st.confirmed) != 1 {
		t.Fatalf("expected one confirmed booking, got %d", len(st.confirmed))
	}
	if st.actionCount(models.ActionSuccess) != 1 {
		t.Fatalf("expected one success log")
	}
	if len(st.assigned) == 0 {
		t.Fatalf("assigned accounts not recorded")
	}
}

func TestWaterfallFallsThroughToSecondTier(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(1)}
	// Tier 1 is fresh-unavailable; tier 2 is open and wins.
	cache := &memCache{open: map[string][]string{
		"X1|A":     {},
		"Fitness|": {"18:00"},
	}}
	drv := &stubPortal{wins: map[string]bool{"Fitness|": true}}
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{
		{Location: "X1", SubLocations: []string{"A"}},
		{Location: "Fitness"},
	}, 1, false))

	if st.finalStatus != models.JobCompleted {
		t.Fatalf("job status %q", st.finalStatus)
	}
	out := st.finalResult.Hours["18:00"]
	if out.Location != "Fitness" {
		t.Fatalf("expected fall-through to Fitness, got %+v", out)
	}
	// The skipped tier leaves a logged no-availability failure that is
	// not pinned on whichever account supplied the poll credentials.
	found := false
	for _, e := range st.logs {
		if e.Action == models.ActionFailure && e.Location == "X1" && strings.Contains(e.ErrorMessage, "no availability") {
			found = true
			if e.AccountID != "" {
				t.Fatalf("availability skip attributed to account %q", e.AccountID)
			}
		}
	}
	if !found {
		t.Fatalf("no-availability failure for tier 1 not logged")
	}
	// No portal attempt was burned on the closed tier.
	for _, a := range drv.attempts {
		if strings.Contains(a, "X1") {
			t.Fatalf("portal attempted against closed tier: %s", a)
		}
	}
}

func TestConfirmedHourStopsTier(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(1)}
	cache := &memCache{open: map[string][]string{"X1|A": {"18:00"}, "Fitness|": {"18:00"}}}
	drv := &stubPortal{wins: map[string]bool{"X1|A": true, "Fitness|": true}}
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{
		{Location: "X1", SubLocations: []string{"A"}},
		{Location: "Fitness"},
	}, 1, false))

	if len(drv.attempts) != 1 {
		t.Fatalf("second tier ran after a confirmation: %v", drv.attempts)
	}
}

func TestReserveConflictSkipsPortal(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(1)}
	// The only account already holds this slot.
	if _, err := st.reserve("acct-1", "2026-09-03", "18:00", "X3", "B"); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	cache := &memCache{open: map[string][]string{"X1|A": {"18:00"}}}
	drv := &stubPortal{wins: map[string]bool{"X1|A": true}}
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{{Location: "X1", SubLocations: []string{"A"}}}, 1, false))

	if len(drv.attempts) != 0 {
		t.Fatalf("portal called despite the account being committed: %v", drv.attempts)
	}
	if st.finalStatus != models.JobFailed {
		t.Fatalf("job status %q", st.finalStatus)
	}
}

func TestMaxAccountsCapsAttempts(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(5)}
	cache := &memCache{open: map[string][]string{"X1|A": {"18:00"}}}
	drv := &stubPortal{} // nobody wins, every attempt fails
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{
		{Location: "X1", SubLocations: []string{"A"}, MaxAccounts: 2},
	}, 1, false))

	if len(drv.attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(drv.attempts))
	}
	if st.actionCount(models.ActionFailure) != 2 {
		t.Fatalf("expected 2 failure logs, got %d", st.actionCount(models.ActionFailure))
	}
}

func TestAcceptPartial(t *testing.T) {
	tiers := []models.Tier{{Location: "X1", SubLocations: []string{"A"}}}
	// 18:00 is open, 19:00 is not.
	run := func(acceptPartial bool) *memStore {
		st := newMemStore()
		pool := &memPool{store: st, accounts: accts(2)}
		cache := &memCache{open: map[string][]string{"X1|A": {"18:00"}}}
		drv := &stubPortal{wins: map[string]bool{"X1|A": true}}
		New(st, pool, cache, drv, opts()).Execute(context.Background(), testJob(tiers, 2, acceptPartial))
		return st
	}

	st := run(true)
	if st.finalStatus != models.JobCompleted {
		t.Fatalf("accept-partial job status %q", st.finalStatus)
	}
	if !st.finalResult.Partial || st.finalResult.ConfirmedCount != 1 {
		t.Fatalf("unexpected partial result %+v", st.finalResult)
	}

	st = run(false)
	if st.finalStatus != models.JobFailed {
		t.Fatalf("strict job status %q", st.finalStatus)
	}
	if st.finalResult.ConfirmedCount != 1 {
		t.Fatalf("confirmed hour lost from result: %+v", st.finalResult)
	}
	if !st.finalResult.Hours["18:00"].Confirmed {
		t.Fatalf("result should keep the confirmed hour")
	}
}

func TestConfirmedAccountLeavesLaterHours(t *testing.T) {
	st := newMemStore()
	pool := &memPool{store: st, accounts: accts(2)}
	cache := &memCache{open: map[string][]string{"X1|A": {"18:00", "19:00"}}}
	drv := &stubPortal{wins: map[string]bool{"X1|A": true}}
	c := New(st, pool, cache, drv, opts())

	c.Execute(context.Background(), testJob([]models.Tier{{Location: "X1", SubLocations: []string{"A"}}}, 2, false))

	if st.finalStatus != models.JobCompleted {
		t.Fatalf("job status %q", st.finalStatus)
	}
	h1, h2 := st.finalResult.Hours["18:00"], st.finalResult.Hours["19:00"]
	if !h1.Confirmed || !h2.Confirmed {
		t.Fatalf("both hours should confirm: %+v %+v", h1, h2)
	}
	if h1.AccountID == h2.AccountID {
		t.Fatalf("winner of hour one reused for hour two: %s", h1.AccountID)
	}
}
