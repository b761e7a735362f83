// Package coordinator executes fired snipe jobs: it walks each job's
// location waterfall hour by hour, fans eligible accounts out across
// sub-locations, and records every outcome. The portal's live answer,
// not the cache, decides what actually got booked.
package coordinator

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// Store is the slice of the state store the coordinator needs.
type Store interface {
	ConfirmBooking(ctx context.Context, id, reference string) (models.Booking, error)
	FailBooking(ctx context.Context, id, message string) (models.Booking, error)
	AppendBookingLog(ctx context.Context, e models.BookingLogEntry) error
	SubLocationFailureCounts(ctx context.Context, location string) (map[string]int, error)
	SetJobAssignedAccounts(ctx context.Context, id string, accountIDs []string) error
	FinishSnipeJob(ctx context.Context, id, status string, result *models.JobResult) error
}

// Pool supplies eligible accounts and commits them to attempts.
type Pool interface {
	Eligible(ctx context.Context, date, timeSlot string) ([]models.Account, error)
	ReserveForAttempt(ctx context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error)
}

// Cache answers pre-attempt availability questions with fresh snapshots.
type Cache interface {
	Ensure(ctx context.Context, creds portal.Credentials, location, subLocation, date string) ([]models.SlotAvailability, error)
}

// Options carry the retry and timeout policy for one coordinator.
type Options struct {
	AttemptTimeout time.Duration
	StoreRetryMax  int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o *Options) fill() {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.StoreRetryMax < 1 {
		o.StoreRetryMax = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
}

// Coordinator runs the priority waterfall for fired jobs.
type Coordinator struct {
	store  Store
	pool   Pool
	cache  Cache
	driver portal.Driver
	opts   Options
}

func New(store Store, pool Pool, cache Cache, driver portal.Driver, opts Options) *Coordinator {
	opts.fill()
	return &Coordinator{
		store:  store,
		pool:   pool,
		cache:  cache,
		driver: driver,
		opts:   opts,
	}
}

// Execute runs one fired job to a terminal status. It never returns an
// error; every failure mode ends in a persisted result instead.
func (c *Coordinator) Execute(ctx context.Context, job models.SnipeJob) {
	hours, err := models.HourSequence(job.WindowStart, job.ConsecutiveHours)
	if err != nil {
		c.finish(ctx, job, models.JobFailed, &models.JobResult{
			Hours: map[string]models.HourOutcome{job.WindowStart: {Error: err.Error()}},
		})
		return
	}

	result := &models.JobResult{
		Hours:          make(map[string]models.HourOutcome, len(hours)),
		RequestedCount: len(hours),
	}
	assigned := map[string]bool{}
	winners := map[string]bool{}

	for _, hour := range hours {
		outcome := c.runHour(ctx, job, hour, winners, assigned)
		result.Hours[hour] = outcome
		if outcome.Confirmed {
			result.ConfirmedCount++
			winners[outcome.AccountID] = true
		}
	}

	if len(assigned) > 0 {
		ids := make([]string, 0, len(assigned))
		for id := range assigned {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if err := c.retryStore(ctx, func() error {
			return c.store.SetJobAssignedAccounts(ctx, job.ID, ids)
		}); err != nil {
			log.Printf("job %s: record assigned accounts: %v", job.ID, err)
		}
	}

	status := models.JobCompleted
	switch {
	case result.ConfirmedCount == result.RequestedCount:
	case job.AcceptPartial && result.ConfirmedCount > 0:
		result.Partial = true
	default:
		result.Partial = result.ConfirmedCount > 0
		status = models.JobFailed
	}
	c.finish(ctx, job, status, result)
}

func (c *Coordinator) finish(ctx context.Context, job models.SnipeJob, status string, result *models.JobResult) {
	if err := c.retryStore(ctx, func() error {
		return c.store.FinishSnipeJob(ctx, job.ID, status, result)
	}); err != nil {
		log.Printf("job %s: persist terminal status %s: %v", job.ID, status, err)
	}
	if status == models.JobCompleted {
		telemetry.JobsCompleted.Inc()
	} else {
		telemetry.JobsFailed.Inc()
	}
	log.Printf("job %s finished %s: %d/%d hours confirmed",
		job.ID, status, result.ConfirmedCount, result.RequestedCount)
}

// runHour walks the tier waterfall for a single hour. The first tier
// that produces a confirmation ends the hour; later tiers never run.
func (c *Coordinator) runHour(ctx context.Context, job models.SnipeJob, hour string, winners, assigned map[string]bool) models.HourOutcome {
	lastErr := "no eligible accounts"
	for _, tier := range job.Tiers {
		outcome, errMsg := c.runTier(ctx, job, tier, hour, winners, assigned)
		if outcome.Confirmed {
			return outcome
		}
		if errMsg != "" {
			lastErr = errMsg
		}
	}
	return models.HourOutcome{Error: lastErr}
}

// runTier fans this tier's candidate accounts out across its
// sub-locations and reports the winning outcome, if any. The second
// return value is the most recent failure reason for the hour summary.
func (c *Coordinator) runTier(ctx context.Context, job models.SnipeJob, tier models.Tier, hour string, winners, assigned map[string]bool) (models.HourOutcome, string) {
	candidates, err := c.pool.Eligible(ctx, job.TargetDate, hour)
	if err != nil {
		log.Printf("job %s: list eligible accounts: %v", job.ID, err)
		return models.HourOutcome{}, "account lookup failed: " + errdefs.Message(err)
	}
	filtered := candidates[:0]
	for _, a := range candidates {
		if !winners[a.ID] {
			filtered = append(filtered, a)
		}
	}
	candidates = filtered
	if tier.MaxAccounts > 0 && len(candidates) > tier.MaxAccounts {
		candidates = candidates[:tier.MaxAccounts]
	}
	if len(candidates) == 0 {
		return models.HourOutcome{}, "no eligible accounts"
	}

	subs := c.orderSubLocations(ctx, tier)
	subs, skipped := c.precheck(ctx, candidates[0], tier.Location, subs, job.TargetDate, hour)
	// Skips belong to the tier, not to whichever account supplied the
	// poll credentials; the account id stays empty.
	for _, sub := range skipped {
		c.logAction(ctx, models.BookingLogEntry{
			Action:       models.ActionFailure,
			BookingDate:  job.TargetDate,
			TimeSlot:     hour,
			Location:     tier.Location,
			SubLocation:  sub,
			ErrorMessage: "no availability",
		})
	}
	if len(subs) == 0 {
		return models.HourOutcome{}, "no availability at " + tier.Location
	}

	type attemptResult struct {
		outcome models.HourOutcome
		errMsg  string
	}
	results := make(chan attemptResult, len(candidates))
	var wg sync.WaitGroup
	for i, acct := range candidates {
		sub := subs[i%len(subs)]
		assigned[acct.ID] = true
		wg.Add(1)
		go func(acct models.Account, sub string) {
			defer wg.Done()
			outcome, errMsg := c.attempt(ctx, acct, job.TargetDate, hour, tier.Location, sub)
			results <- attemptResult{outcome: outcome, errMsg: errMsg}
		}(acct, sub)
	}
	wg.Wait()
	close(results)

	var won models.HourOutcome
	lastErr := ""
	for r := range results {
		if r.outcome.Confirmed && !won.Confirmed {
			won = r.outcome
		}
		if r.errMsg != "" {
			lastErr = r.errMsg
		}
	}
	return won, lastErr
}

// orderSubLocations puts historically starved sub-locations first so
// spare accounts cover the ones that fail most. A tier with no
// sub-locations gets the single empty key.
func (c *Coordinator) orderSubLocations(ctx context.Context, tier models.Tier) []string {
	if len(tier.SubLocations) == 0 {
		return []string{""}
	}
	subs := append([]string(nil), tier.SubLocations...)
	counts, err := c.store.SubLocationFailureCounts(ctx, tier.Location)
	if err != nil {
		log.Printf("failure counts for %s: %v", tier.Location, err)
		return subs
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return counts[subs[i]] > counts[subs[j]]
	})
	return subs
}

// precheck drops sub-locations whose fresh snapshot says the hour is
// closed, so no account burns an attempt on them. A missing snapshot or
// a cache error keeps the sub-location in play; only a fresh negative
// answer skips it.
func (c *Coordinator) precheck(ctx context.Context, acct models.Account, location string, subs []string, date, hour string) (open, skipped []string) {
	creds := portal.Credentials{NetID: acct.NetID, Password: acct.Password}
	for _, sub := range subs {
		snaps, err := c.cache.Ensure(ctx, creds, location, sub, date)
		if err != nil {
			log.Printf("availability check %s/%s %s: %v", location, sub, date, err)
			open = append(open, sub)
			continue
		}
		closed := false
		for _, s := range snaps {
			if s.TimeSlot == hour {
				closed = !s.IsAvailable
				break
			}
		}
		if closed {
			skipped = append(skipped, sub)
			continue
		}
		open = append(open, sub)
	}
	return open, skipped
}

// attempt runs one account's full reserve-then-book cycle for one slot.
// Reservation conflicts are silent skips; everything past a successful
// reservation is logged and drives the booking row to a terminal
// status.
func (c *Coordinator) attempt(ctx context.Context, acct models.Account, date, hour, location, sub string) (models.HourOutcome, string) {
	booking, err := c.pool.ReserveForAttempt(ctx, acct.ID, date, hour, location, sub)
	if err != nil {
		if errdefs.Is(err, errdefs.KindConflict) {
			return models.HourOutcome{}, ""
		}
		log.Printf("reserve %s %s %s for account %s: %v", date, hour, location, acct.ID, err)
		return models.HourOutcome{}, "reservation failed: " + errdefs.Message(err)
	}

	telemetry.AttemptsTotal.Inc()
	telemetry.InFlightAttempts.Inc()
	defer telemetry.InFlightAttempts.Dec()
	c.logAction(ctx, models.BookingLogEntry{
		AccountID:   acct.ID,
		Action:      models.ActionAttempt,
		BookingDate: date,
		TimeSlot:    hour,
		Location:    location,
		SubLocation: sub,
	})

	creds := portal.Credentials{NetID: acct.NetID, Password: acct.Password}
	started := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	res, err := c.driver.AttemptBooking(attemptCtx, creds, date, hour, location, sub)
	cancel()
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		msg := errdefs.Message(err)
		c.settleFailure(ctx, booking.ID, acct.ID, date, hour, location, sub, msg, elapsed)
		return models.HourOutcome{}, msg
	}
	if !res.Success {
		c.settleFailure(ctx, booking.ID, acct.ID, date, hour, location, sub, res.Message, elapsed)
		return models.HourOutcome{}, res.Message
	}

	if err := c.retryStore(ctx, func() error {
		_, err := c.store.ConfirmBooking(ctx, booking.ID, res.Reference)
		return err
	}); err != nil {
		// The portal holds a booking the store no longer reflects;
		// surface it loudly rather than silently failing the hour.
		log.Printf("job booking %s confirmed at portal (ref %s) but store update failed: %v",
			booking.ID, res.Reference, err)
	}
	telemetry.ConfirmedTotal.Inc()
	c.logAction(ctx, models.BookingLogEntry{
		AccountID:       acct.ID,
		Action:          models.ActionSuccess,
		BookingDate:     date,
		TimeSlot:        hour,
		Location:        location,
		SubLocation:     sub,
		ExecutionTimeMS: elapsed,
	})
	return models.HourOutcome{
		Confirmed:        true,
		AccountID:        acct.ID,
		Location:         location,
		SubLocation:      sub,
		BookingReference: res.Reference,
	}, ""
}

func (c *Coordinator) settleFailure(ctx context.Context, bookingID, accountID, date, hour, location, sub, msg string, elapsed int64) {
	telemetry.FailedTotal.Inc()
	if err := c.retryStore(ctx, func() error {
		_, err := c.store.FailBooking(ctx, bookingID, msg)
		return err
	}); err != nil {
		log.Printf("fail booking %s: %v", bookingID, err)
	}
	c.logAction(ctx, models.BookingLogEntry{
		AccountID:       accountID,
		Action:          models.ActionFailure,
		BookingDate:     date,
		TimeSlot:        hour,
		Location:        location,
		SubLocation:     sub,
		ErrorMessage:    msg,
		ExecutionTimeMS: elapsed,
	})
}

func (c *Coordinator) logAction(ctx context.Context, e models.BookingLogEntry) {
	if err := c.retryStore(ctx, func() error {
		return c.store.AppendBookingLog(ctx, e)
	}); err != nil {
		log.Printf("append booking log (%s %s %s): %v", e.AccountID, e.Action, e.TimeSlot, err)
	}
}

// retryStore retries a store write with exponential backoff and jitter.
// Only store-kind errors retry; conflicts and not-found are answers.
func (c *Coordinator) retryStore(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.opts.StoreRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffWithJitter(c.opts.BackoffInitial, c.opts.BackoffMax, attempt)):
			}
		}
		err = fn()
		if err == nil || !errdefs.Is(err, errdefs.KindStore) {
			return err
		}
	}
	return err
}

func backoffWithJitter(initial, max time.Duration, attempt int) time.Duration {
	d := initial << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
