package models

import (
	"fmt"
	"time"
)

// BookingStatus values persisted in Postgres.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingFailed    = "failed"
	BookingCancelled = "cancelled"
)

// SnipeJob lifecycle states.
const (
	JobScheduled = "scheduled"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Audit log actions.
const (
	ActionAttempt = "attempt"
	ActionSuccess = "success"
	ActionFailure = "failure"
	ActionCancel  = "cancel"
)

// Account is one portal credential usable for booking attempts.
type Account struct {
	ID        string    `json:"id"`
	NetID     string    `json:"netid"`
	Password  string    `json:"-"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Booking is one committed reservation attempt outcome.
// At most one pending/confirmed row may exist per (account, date, time slot).
type Booking struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	BookingDate      string    `json:"booking_date"` // YYYY-MM-DD
	TimeSlot         string    `json:"time_slot"`    // HH:MM
	Location         string    `json:"location"`
	SubLocation      string    `json:"sub_location,omitempty"`
	Status           string    `json:"status"`
	BookingReference string    `json:"booking_reference,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SlotAvailability is a cached snapshot of one bookable slot.
// Staleness is a read-time decision against LastChecked; rows are upserted,
// never deleted.
type SlotAvailability struct {
	Location          string    `json:"location"`
	SubLocation       string    `json:"sub_location,omitempty"`
	BookingDate       string    `json:"booking_date"`
	TimeSlot          string    `json:"time_slot"`
	IsAvailable       bool      `json:"is_available"`
	TotalCapacity     *int      `json:"total_capacity,omitempty"`
	RemainingCapacity *int      `json:"remaining_capacity,omitempty"`
	LastChecked       time.Time `json:"last_checked"`
}

// Tier is one priority level of a snipe job's location waterfall.
type Tier struct {
	Location     string   `json:"location"`
	SubLocations []string `json:"sub_locations,omitempty"`
	MaxAccounts  int      `json:"max_accounts,omitempty"` // 0 = no cap
}

// HourOutcome records what happened for one requested hour of a job.
type HourOutcome struct {
	Confirmed        bool   `json:"confirmed"`
	AccountID        string `json:"account_id,omitempty"`
	Location         string `json:"location,omitempty"`
	SubLocation      string `json:"sub_location,omitempty"`
	BookingReference string `json:"booking_reference,omitempty"`
	Error            string `json:"error,omitempty"`
}

// JobResult is the structured outcome persisted on a finished snipe job.
type JobResult struct {
	Hours          map[string]HourOutcome `json:"hours"`
	ConfirmedCount int                    `json:"confirmed_count"`
	RequestedCount int                    `json:"requested_count"`
	Partial        bool                   `json:"partial"`
}

// SnipeJob is one planned multi-account attempt for a target window.
type SnipeJob struct {
	ID                 string     `json:"id"`
	TargetDate         string     `json:"target_date"`  // YYYY-MM-DD
	WindowStart        string     `json:"window_start"` // HH:MM
	WindowEnd          string     `json:"window_end,omitempty"`
	ConsecutiveHours   int        `json:"consecutive_hours"`
	AcceptPartial      bool       `json:"accept_partial"`
	Tiers              []Tier     `json:"tiers"`
	ScheduledExecution time.Time  `json:"scheduled_execution"`
	Status             string     `json:"status"`
	AssignedAccounts   []string   `json:"assigned_accounts,omitempty"`
	Result             *JobResult `json:"result,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ExecutedAt         *time.Time `json:"executed_at,omitempty"`
}

// BookingLogEntry is one append-only audit record of a booking action.
type BookingLogEntry struct {
	ID              int64     `json:"id"`
	AccountID       string    `json:"account_id"`
	Action          string    `json:"action"`
	BookingDate     string    `json:"booking_date"`
	TimeSlot        string    `json:"time_slot"`
	Location        string    `json:"location"`
	SubLocation     string    `json:"sub_location,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AccountStats summarizes one account's booking history.
type AccountStats struct {
	TotalBookings     int     `json:"total_bookings"`
	ConfirmedBookings int     `json:"confirmed_bookings"`
	FailedBookings    int     `json:"failed_bookings"`
	TotalAttempts     int     `json:"total_attempts"`
	SuccessRate       float64 `json:"success_rate"`
}

const (
	dateLayout = "2006-01-02"
	slotLayout = "15:04"
)

// ParseDate validates a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// ParseSlot validates an HH:MM time slot string.
func ParseSlot(s string) (time.Time, error) {
	t, err := time.Parse(slotLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time slot %q: %w", s, err)
	}
	return t, nil
}

// SlotInstant resolves a (date, time slot) pair to its wall-clock instant
// in the given portal timezone.
func SlotInstant(date, slot string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	s, err := ParseSlot(slot)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), s.Hour(), s.Minute(), 0, 0, loc), nil
}

// HourSequence expands a window start into n consecutive whole-hour
// slots. The sequence must stay inside one calendar day; a window that
// would wrap past midnight is rejected.
func HourSequence(start string, n int) ([]string, error) {
	s, err := ParseSlot(start)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("hour count must be positive, got %d", n)
	}
	if last := s.Add(time.Duration(n-1) * time.Hour); last.Day() != s.Day() {
		return nil, fmt.Errorf("%d hours from %s crosses midnight", n, start)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.Add(time.Duration(i)*time.Hour).Format(slotLayout))
	}
	return out, nil
}

// SlotWithin reports whether slot falls inside [from, to]. Empty bounds
// are open.
func SlotWithin(slot, from, to string) bool {
	if from != "" && slot < from {
		return false
	}
	if to != "" && slot > to {
		return false
	}
	return true
}
