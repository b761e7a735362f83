// Package portal abstracts the external scheduling portal. Each driver
// call represents one full login-and-act cycle against the portal with
// its own session, so one account's cookies can never leak into
// another's attempt.
package portal

import (
	"context"

	"github.com/Hashim-K/X-Booking/internal/models"
)

// Credentials identifies one portal account for a single call cycle.
type Credentials struct {
	NetID    string
	Password string
}

// BookingResult is the portal's answer to a single booking attempt. The
// live response is the final arbiter of bookability; cached snapshots
// never are.
type BookingResult struct {
	Success   bool
	Reference string
	Message   string
}

// Driver is the portal capability consumed by the engine. Latency and
// failure modes of the calls are opaque to callers.
type Driver interface {
	RefreshAvailability(ctx context.Context, creds Credentials, location, subLocation, date string) ([]models.SlotAvailability, error)
	AttemptBooking(ctx context.Context, creds Credentials, date, timeSlot, location, subLocation string) (BookingResult, error)
	CancelBooking(ctx context.Context, creds Credentials, reference string) error
}
