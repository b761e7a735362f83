package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
)

// Product and resource identifiers of the portal's booking catalog.
var (
	locationProducts = map[string]string{
		"Fitness": "20061",
		"X1":      "20045",
		"X3":      "20047",
	}
	subLocationResources = map[string]map[string]string{
		"X1": {"A": "4", "B": "5"},
		"X3": {"A": "16534", "B": "16535"},
	}
)

// HTTPDriver talks to the portal's REST API. Every call builds a fresh
// session (own cookie jar), logs in, acts, and discards the session.
type HTTPDriver struct {
	baseURL string
	timeout time.Duration
}

// NewHTTPDriver constructs a driver for the given portal base URL.
func NewHTTPDriver(baseURL string, timeout time.Duration) *HTTPDriver {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDriver{baseURL: baseURL, timeout: timeout}
}

// session is one isolated login-and-act cycle.
type session struct {
	client  *http.Client
	baseURL string
}

func (d *HTTPDriver) newSession(ctx context.Context, creds Credentials) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	s := &session{
		client:  &http.Client{Jar: jar, Timeout: d.timeout},
		baseURL: d.baseURL,
	}
	body, _ := json.Marshal(map[string]string{
		"username": creds.NetID,
		"password": creds.Password,
	})
	resp, err := s.post(ctx, "/api/auth/login", body)
	if err != nil {
		return nil, portalErr("login", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Newf(errdefs.KindPortal, "login failed for %s: status %d", creds.NetID, resp.StatusCode)
	}
	return s, nil
}

// RefreshAvailability fetches the portal's slot list for one location
// and date and maps it to availability snapshots.
func (d *HTTPDriver) RefreshAvailability(ctx context.Context, creds Credentials, location, subLocation, date string) ([]models.SlotAvailability, error) {
	productID, ok := locationProducts[location]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindValidation, "unknown location %q", location)
	}
	s, err := d.newSession(ctx, creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{"productId": {productID}, "date": {date}}
	if subLocation != "" {
		if rid, ok := subLocationResources[location][subLocation]; ok {
			params.Set("resourceId", rid)
		}
	}
	resp, err := s.get(ctx, "/api/bookings/available?"+params.Encode())
	if err != nil {
		return nil, portalErr("fetch availability", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Newf(errdefs.KindPortal, "availability fetch for %s: status %d", location, resp.StatusCode)
	}

	var payload struct {
		Slots []struct {
			StartTime      string `json:"startTime"`
			AvailableSpots int    `json:"availableSpots"`
			TotalSpots     int    `json:"totalSpots"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPortal, "decode availability", err)
	}

	now := time.Now().UTC()
	out := make([]models.SlotAvailability, 0, len(payload.Slots))
	for _, slot := range payload.Slots {
		remaining := slot.AvailableSpots
		total := slot.TotalSpots
		out = append(out, models.SlotAvailability{
			Location:          location,
			SubLocation:       subLocation,
			BookingDate:       date,
			TimeSlot:          slot.StartTime,
			IsAvailable:       slot.AvailableSpots > 0,
			TotalCapacity:     &total,
			RemainingCapacity: &remaining,
			LastChecked:       now,
		})
	}
	return out, nil
}

// AttemptBooking submits one booking. A 409 from the portal means the
// slot is gone; that is reported as an unsuccessful result, not an
// error, because it is an answer rather than a malfunction.
func (d *HTTPDriver) AttemptBooking(ctx context.Context, creds Credentials, date, timeSlot, location, subLocation string) (BookingResult, error) {
	productID, ok := locationProducts[location]
	if !ok {
		return BookingResult{}, errdefs.Newf(errdefs.KindValidation, "unknown location %q", location)
	}
	s, err := d.newSession(ctx, creds)
	if err != nil {
		return BookingResult{}, err
	}

	payload := map[string]any{
		"productId":         productID,
		"date":              date,
		"startTime":         timeSlot,
		"participantAmount": 1,
	}
	if subLocation != "" {
		if rid, ok := subLocationResources[location][subLocation]; ok {
			payload["resourceId"] = rid
		}
	}
	body, _ := json.Marshal(payload)
	resp, err := s.post(ctx, "/api/bookings", body)
	if err != nil {
		return BookingResult{}, portalErr("submit booking", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var created struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return BookingResult{}, errdefs.Wrap(errdefs.KindPortal, "decode booking response", err)
		}
		return BookingResult{Success: true, Reference: created.ID}, nil
	case http.StatusConflict:
		return BookingResult{Success: false, Message: "slot no longer available"}, nil
	default:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return BookingResult{}, errdefs.Newf(errdefs.KindPortal, "booking rejected: %s", apiErr.Message)
	}
}

// CancelBooking removes an existing portal booking by reference.
func (d *HTTPDriver) CancelBooking(ctx context.Context, creds Credentials, reference string) error {
	s, err := d.newSession(ctx, creds)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/api/bookings/"+url.PathEscape(reference), nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return portalErr("cancel booking", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return errdefs.Newf(errdefs.KindNotFound, "portal booking %s not found", reference)
	default:
		return errdefs.Newf(errdefs.KindPortal, "cancel %s: status %d", reference, resp.StatusCode)
	}
}

func (s *session) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}

func (s *session) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}

// portalErr classifies transport failures, keeping deadline expiry as
// the timeout subtype.
func portalErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.KindTimeout, op, err)
	}
	return errdefs.Wrap(errdefs.KindPortal, op, err)
}
