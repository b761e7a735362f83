// Package api exposes the HTTP control surface: accounts, bookings,
// snipe jobs, availability, logs, and the event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Hashim-K/X-Booking/internal/availability"
	"github.com/Hashim-K/X-Booking/internal/config"
	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/ratelimit"
	"github.com/Hashim-K/X-Booking/internal/store"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// Store is the slice of the state store the API needs.
type Store interface {
	CreateAccount(ctx context.Context, netid, password string) (models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccounts(ctx context.Context, onlyActive bool) ([]models.Account, error)
	SetAccountActive(ctx context.Context, id string, active bool) (models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	AccountStatistics(ctx context.Context, accountID string) (models.AccountStats, error)

	ReserveBooking(ctx context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error)
	GetBooking(ctx context.Context, id string) (models.Booking, error)
	ListBookings(ctx context.Context, f store.BookingFilter) ([]models.Booking, error)
	CancelBooking(ctx context.Context, id string) (models.Booking, error)

	CreateSnipeJob(ctx context.Context, job models.SnipeJob) (models.SnipeJob, error)
	GetSnipeJob(ctx context.Context, id string) (models.SnipeJob, error)
	ListSnipeJobs(ctx context.Context, status string) ([]models.SnipeJob, error)
	CancelSnipeJob(ctx context.Context, id string) (bool, error)

	AppendBookingLog(ctx context.Context, e models.BookingLogEntry) error
	ListBookingLogs(ctx context.Context, f store.LogFilter) ([]models.BookingLogEntry, error)
}

// Cache reads and refreshes availability snapshots.
type Cache interface {
	Get(ctx context.Context, location, subLocation, date, from, to string) ([]models.SlotAvailability, error)
	Refresh(ctx context.Context, creds portal.Credentials, location, subLocation, date string) ([]models.SlotAvailability, error)
}

// Registrar accepts newly created snipe jobs for firing.
type Registrar interface {
	Register(job models.SnipeJob)
}

// Limiter gates portal-touching endpoints.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the control API.
type Server struct {
	cfg      config.Config
	store    Store
	cache    Cache
	driver   portal.Driver
	sched    Registrar
	limiter  Limiter
	hub      *Hub
	tz       *time.Location
	validate *validator.Validate
}

// New constructs the API server. sched, limiter, and hub may be nil in
// tests.
func New(cfg config.Config, st Store, cache Cache, driver portal.Driver, sched Registrar, limiter Limiter, hub *Hub) (*Server, error) {
	tz, err := time.LoadLocation(cfg.PortalTimezone)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, "portal timezone", err)
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		cache:    cache,
		driver:   driver,
		sched:    sched,
		limiter:  limiter,
		hub:      hub,
		tz:       tz,
		validate: validator.New(),
	}, nil
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", s.handleCreateAccount)
		r.Get("/", s.handleListAccounts)
		r.Get("/{id}", s.handleGetAccount)
		r.Post("/{id}/activate", s.handleSetAccountActive(true))
		r.Post("/{id}/deactivate", s.handleSetAccountActive(false))
		r.Delete("/{id}", s.handleDeleteAccount)
		r.Get("/{id}/stats", s.handleAccountStats)
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", s.handleCreateBookings)
		r.Get("/", s.handleListBookings)
		r.Get("/{id}", s.handleGetBooking)
		r.Post("/{id}/cancel", s.handleCancelBooking)
	})

	r.Route("/snipes", func(r chi.Router) {
		r.Post("/", s.handleCreateSnipe)
		r.Get("/", s.handleListSnipes)
		r.Get("/{id}", s.handleGetSnipe)
		r.Post("/{id}/cancel", s.handleCancelSnipe)
	})

	r.Get("/availability", s.handleGetAvailability)
	r.Post("/availability/refresh", s.handleRefreshAvailability)

	r.Get("/logs", s.handleListLogs)

	if s.hub != nil {
		r.Get("/events", s.hub.ServeHTTP)
	}
	return r
}

// Accounts

type createAccountRequest struct {
	NetID    string `json:"netid" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	acct, err := s.store.CreateAccount(r.Context(), req.NetID, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	accts, err := s.store.ListAccounts(r.Context(), onlyActive)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleSetAccountActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := s.store.SetAccountActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	}
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	stats, err := s.store.AccountStatistics(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Bookings

type createBookingRequest struct {
	AccountID   string   `json:"account_id" validate:"required,uuid4"`
	BookingDate string   `json:"booking_date" validate:"required"`
	TimeSlots   []string `json:"time_slots" validate:"required,min=1,dive,required"`
	Location    string   `json:"location" validate:"required"`
	SubLocation string   `json:"sub_location"`
}

type createBookingResponse struct {
	Bookings  []models.Booking `json:"bookings"`
	Conflicts []string         `json:"conflicts,omitempty"`
}

func (s *Server) handleCreateBookings(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := models.ParseDate(req.BookingDate); err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "booking date", err))
		return
	}
	for _, slot := range req.TimeSlots {
		if _, err := models.ParseSlot(slot); err != nil {
			writeErr(w, errdefs.Wrap(errdefs.KindValidation, "time slot", err))
			return
		}
	}
	resp := createBookingResponse{}
	for _, slot := range req.TimeSlots {
		b, err := s.store.ReserveBooking(r.Context(), req.AccountID, req.BookingDate, slot, req.Location, req.SubLocation)
		if err != nil {
			if errdefs.Is(err, errdefs.KindConflict) {
				resp.Conflicts = append(resp.Conflicts, slot)
				continue
			}
			writeErr(w, err)
			return
		}
		resp.Bookings = append(resp.Bookings, b)
	}
	if len(resp.Bookings) == 0 {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bookings, err := s.store.ListBookings(r.Context(), store.BookingFilter{
		AccountID: q.Get("account_id"),
		Date:      q.Get("date"),
		Status:    q.Get("status"),
		Location:  q.Get("location"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleCancelBooking cancels at the portal first when the booking is
// confirmed there, then drives the store row to cancelled. A portal
// failure leaves the row untouched so a retry stays possible.
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.store.GetBooking(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if b.Status == models.BookingConfirmed && b.BookingReference != "" {
		acct, err := s.store.GetAccount(r.Context(), b.AccountID)
		if err != nil {
			writeErr(w, err)
			return
		}
		creds := portal.Credentials{NetID: acct.NetID, Password: acct.Password}
		if err := s.driver.CancelBooking(r.Context(), creds, b.BookingReference); err != nil {
			writeErr(w, err)
			return
		}
	}
	cancelled, err := s.store.CancelBooking(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = s.store.AppendBookingLog(r.Context(), models.BookingLogEntry{
		AccountID:   cancelled.AccountID,
		Action:      models.ActionCancel,
		BookingDate: cancelled.BookingDate,
		TimeSlot:    cancelled.TimeSlot,
		Location:    cancelled.Location,
		SubLocation: cancelled.SubLocation,
	})
	writeJSON(w, http.StatusOK, cancelled)
}

// Snipe jobs

type tierRequest struct {
	Location     string   `json:"location" validate:"required"`
	SubLocations []string `json:"sub_locations"`
	MaxAccounts  int      `json:"max_accounts" validate:"min=0"`
}

type createSnipeRequest struct {
	TargetDate       string        `json:"target_date" validate:"required"`
	WindowStart      string        `json:"window_start" validate:"required"`
	WindowEnd        string        `json:"window_end"`
	ConsecutiveHours int           `json:"consecutive_hours" validate:"required,min=1"`
	AcceptPartial    bool          `json:"accept_partial"`
	Tiers            []tierRequest `json:"tiers" validate:"required,min=1,dive"`
}

func (s *Server) handleCreateSnipe(w http.ResponseWriter, r *http.Request) {
	var req createSnipeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := models.ParseDate(req.TargetDate); err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "target date", err))
		return
	}
	hours, err := models.HourSequence(req.WindowStart, req.ConsecutiveHours)
	if err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "window", err))
		return
	}
	if req.WindowEnd != "" {
		if _, err := models.ParseSlot(req.WindowEnd); err != nil {
			writeErr(w, errdefs.Wrap(errdefs.KindValidation, "window end", err))
			return
		}
		if last := hours[len(hours)-1]; req.WindowEnd < last {
			writeErr(w, errdefs.Newf(errdefs.KindValidation,
				"window end %s does not fit %d hours from %s", req.WindowEnd, req.ConsecutiveHours, req.WindowStart))
			return
		}
	}

	tiers := make([]models.Tier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, models.Tier{
			Location:     t.Location,
			SubLocations: t.SubLocations,
			MaxAccounts:  t.MaxAccounts,
		})
	}

	unlock, err := models.SlotInstant(req.TargetDate, req.WindowStart, s.tz)
	if err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "unlock instant", err))
		return
	}
	execAt := unlock.Add(-s.cfg.AdvanceWindow(tiers[0].Location)).Add(s.cfg.ScheduleOffset)

	job, err := s.store.CreateSnipeJob(r.Context(), models.SnipeJob{
		TargetDate:         req.TargetDate,
		WindowStart:        req.WindowStart,
		WindowEnd:          req.WindowEnd,
		ConsecutiveHours:   req.ConsecutiveHours,
		AcceptPartial:      req.AcceptPartial,
		Tiers:              tiers,
		ScheduledExecution: execAt,
		Status:             models.JobScheduled,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.sched != nil {
		s.sched.Register(job)
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListSnipes(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListSnipeJobs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetSnipe(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetSnipeJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelSnipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.store.CancelSnipeJob(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errdefs.New(errdefs.KindConflict, "job is not in a cancellable state"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.JobCancelled})
}

// Availability

func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location, date := q.Get("location"), q.Get("date")
	if location == "" || date == "" {
		writeErr(w, errdefs.New(errdefs.KindValidation, "location and date are required"))
		return
	}
	snaps, err := s.cache.Get(r.Context(), location, q.Get("sub_location"), date, q.Get("from"), q.Get("to"))
	if err != nil {
		writeErr(w, err)
		return
	}
	// consecutive=n groups the open slots into runs of n back-to-back
	// hours, for clients planning multi-hour bookings.
	if raw := q.Get("consecutive"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErr(w, errdefs.Newf(errdefs.KindValidation, "consecutive must be a positive integer, got %q", raw))
			return
		}
		runs := availability.ConsecutiveRuns(snaps, n)
		if runs == nil {
			runs = [][]models.SlotAvailability{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": snaps})
}

type refreshRequest struct {
	Location    string `json:"location" validate:"required"`
	SubLocation string `json:"sub_location"`
	Date        string `json:"date" validate:"required"`
}

// handleRefreshAvailability forces a portal poll using the first active
// account's credentials, behind the per-account rate limit.
func (s *Server) handleRefreshAvailability(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := models.ParseDate(req.Date); err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "date", err))
		return
	}
	accts, err := s.store.ListAccounts(r.Context(), true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(accts) == 0 {
		writeErr(w, errdefs.New(errdefs.KindConflict, "no active accounts to poll with"))
		return
	}
	acct := accts[0]
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.AccountKey(acct.ID))
		if err != nil {
			writeErr(w, err)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, errBody{Error: errDetail{
				Kind:    "rate_limited",
				Message: "portal poll budget exhausted, try again shortly",
			}})
			return
		}
	}
	creds := portal.Credentials{NetID: acct.NetID, Password: acct.Password}
	snaps, err := s.cache.Refresh(r.Context(), creds, req.Location, req.SubLocation, req.Date)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": snaps})
}

// Logs

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.LogFilter{
		AccountID: q.Get("account_id"),
		Action:    q.Get("action"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, errdefs.Wrap(errdefs.KindValidation, "from", err))
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, errdefs.Wrap(errdefs.KindValidation, "to", err))
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, errdefs.New(errdefs.KindValidation, "limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	logs, err := s.store.ListBookingLogs(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// helpers

// decode unmarshals and validates a JSON request body, writing the
// error response itself when the body is unusable.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "invalid json body", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeErr(w, errdefs.Wrap(errdefs.KindValidation, "invalid request", err))
		return false
	}
	return true
}

type errDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errBody struct {
	Error errDetail `json:"error"`
}

func writeErr(w http.ResponseWriter, err error) {
	kind := errdefs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errdefs.KindValidation:
		status = http.StatusBadRequest
	case errdefs.KindConflict:
		status = http.StatusConflict
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindPortal:
		status = http.StatusBadGateway
	case errdefs.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	if kind == "" {
		kind = errdefs.KindStore
	}
	writeJSON(w, status, errBody{Error: errDetail{Kind: string(kind), Message: errdefs.Message(err)}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
