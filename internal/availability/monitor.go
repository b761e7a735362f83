package availability

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/ratelimit"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// AccountSource supplies the credential used for monitoring polls.
type AccountSource interface {
	ListAccounts(ctx context.Context, onlyActive bool) ([]models.Account, error)
}

// Limiter throttles portal polling.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Monitor periodically refreshes the availability cache for a set of
// locations over the next few days, using the first active account and
// respecting the per-account portal rate limit.
type Monitor struct {
	cache     *Cache
	accounts  AccountSource
	limiter   Limiter
	locations []string
	daysAhead int
	schedule  string
	cron      *cron.Cron
}

// NewMonitor builds a monitor. schedule uses cron syntax, e.g.
// "@every 60s".
func NewMonitor(cache *Cache, accounts AccountSource, limiter Limiter, locations []string, daysAhead int, schedule string) *Monitor {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	if schedule == "" {
		schedule = "@every 60s"
	}
	return &Monitor{
		cache:     cache,
		accounts:  accounts,
		limiter:   limiter,
		locations: locations,
		daysAhead: daysAhead,
		schedule:  schedule,
	}
}

// Start begins the polling schedule. It returns after scheduling; the
// polls run on the cron's goroutine until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.Poll(ctx); err != nil {
			log.Printf("availability poll: %v", err)
		}
	}); err != nil {
		return err
	}
	m.cron.Start()
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// Stop halts the schedule, waiting for an in-flight poll to finish.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Poll refreshes every (location, date) pair once, locations in
// parallel. Rate-limit rejections skip the remaining dates for the
// cycle rather than queueing up portal calls.
func (m *Monitor) Poll(ctx context.Context) error {
	accts, err := m.accounts.ListAccounts(ctx, true)
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		return nil
	}
	monitor := accts[0]
	creds := portal.Credentials{NetID: monitor.NetID, Password: monitor.Password}

	today := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, location := range m.locations {
		location := location
		g.Go(func() error {
			for offset := 0; offset < m.daysAhead; offset++ {
				date := today.AddDate(0, 0, offset).Format("2006-01-02")
				if m.limiter != nil {
					allowed, _, err := m.limiter.Allow(gctx, ratelimit.AccountKey(monitor.ID))
					if err != nil {
						return err
					}
					if !allowed {
						telemetry.RateLimitRejects.Inc()
						return nil
					}
				}
				if _, err := m.cache.Refresh(gctx, creds, location, "", date); err != nil {
					log.Printf("refresh %s %s: %v", location, date, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
