// Package availability maintains the slot-availability cache: TTL-aged
// snapshots of which slots are open, refreshed from the portal.
package availability

import (
	"context"
	"time"

	"github.com/Hashim-K/X-Booking/internal/events"
	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// Store is the slice of the state store the cache needs.
type Store interface {
	UpsertSlotAvailability(ctx context.Context, snap models.SlotAvailability) (models.SlotAvailability, error)
	GetSlotAvailability(ctx context.Context, location, subLocation, date string) ([]models.SlotAvailability, error)
}

// Publisher receives an event after every refresh.
type Publisher interface {
	Publish(ctx context.Context, ev events.AvailabilityUpdate) error
}

// Cache answers availability questions from persisted snapshots and
// refreshes them from the portal. A snapshot is never authoritative
// proof of bookability; it only steers where attempts go.
type Cache struct {
	store     Store
	driver    portal.Driver
	publisher Publisher
	ttl       time.Duration
	now       func() time.Time
}

// New builds a cache. publisher may be nil.
func New(store Store, driver portal.Driver, publisher Publisher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &Cache{
		store:     store,
		driver:    driver,
		publisher: publisher,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Usable reports whether a snapshot is fresh enough to base a decision
// on.
func (c *Cache) Usable(snap models.SlotAvailability) bool {
	return c.now().Sub(snap.LastChecked) <= c.ttl
}

// Get is a pure read of cached snapshots within an optional [from, to]
// slot window. It may return stale data; callers must check Usable
// before committing to a booking decision.
func (c *Cache) Get(ctx context.Context, location, subLocation, date, from, to string) ([]models.SlotAvailability, error) {
	snaps, err := c.store.GetSlotAvailability(ctx, location, subLocation, date)
	if err != nil {
		return nil, err
	}
	out := snaps[:0]
	stale := false
	for _, s := range snaps {
		if !models.SlotWithin(s.TimeSlot, from, to) {
			continue
		}
		if !c.Usable(s) {
			stale = true
		}
		out = append(out, s)
	}
	if stale {
		telemetry.StaleCacheReads.Inc()
	}
	return out, nil
}

// Refresh calls the portal, upserts every returned snapshot, and
// publishes an availability update. Returned snapshots carry the fresh
// last-checked stamp.
func (c *Cache) Refresh(ctx context.Context, creds portal.Credentials, location, subLocation, date string) ([]models.SlotAvailability, error) {
	snaps, err := c.driver.RefreshAvailability(ctx, creds, location, subLocation, date)
	if err != nil {
		return nil, err
	}
	available := 0
	for i := range snaps {
		if snaps[i].LastChecked.IsZero() {
			snaps[i].LastChecked = c.now().UTC()
		}
		if _, err := c.store.UpsertSlotAvailability(ctx, snaps[i]); err != nil {
			return nil, err
		}
		if snaps[i].IsAvailable {
			available++
		}
	}
	telemetry.CacheRefreshes.Inc()

	if c.publisher != nil {
		_ = c.publisher.Publish(ctx, events.AvailabilityUpdate{
			Location:       location,
			SubLocation:    subLocation,
			Date:           date,
			SlotCount:      len(snaps),
			AvailableCount: available,
			CheckedAt:      c.now().UTC(),
		})
	}
	return snaps, nil
}

// Ensure returns usable snapshots for the key, refreshing first when
// the cache is empty or stale. This is the coordinator's entry point:
// it never hands back a stale belief.
func (c *Cache) Ensure(ctx context.Context, creds portal.Credentials, location, subLocation, date string) ([]models.SlotAvailability, error) {
	snaps, err := c.store.GetSlotAvailability(ctx, location, subLocation, date)
	if err != nil {
		return nil, err
	}
	fresh := len(snaps) > 0
	for _, s := range snaps {
		if !c.Usable(s) {
			fresh = false
			break
		}
	}
	if fresh {
		return snaps, nil
	}
	return c.Refresh(ctx, creds, location, subLocation, date)
}

// ConsecutiveRuns finds runs of n consecutive available whole-hour
// slots within the given snapshots (assumed sorted by time slot).
func ConsecutiveRuns(snaps []models.SlotAvailability, n int) [][]models.SlotAvailability {
	if n < 1 {
		return nil
	}
	var open []models.SlotAvailability
	for _, s := range snaps {
		if s.IsAvailable {
			open = append(open, s)
		}
	}
	if n == 1 {
		runs := make([][]models.SlotAvailability, 0, len(open))
		for _, s := range open {
			runs = append(runs, []models.SlotAvailability{s})
		}
		return runs
	}
	var runs [][]models.SlotAvailability
	for i := 0; i+n <= len(open); i++ {
		run := open[i : i+1 : i+1]
		for j := i + 1; j < len(open) && len(run) < n; j++ {
			prev, _ := models.ParseSlot(run[len(run)-1].TimeSlot)
			next, err := models.ParseSlot(open[j].TimeSlot)
			if err != nil || next.Sub(prev) != time.Hour {
				break
			}
			run = append(run, open[j])
		}
		if len(run) == n {
			runs = append(runs, run)
		}
	}
	return runs
}
