package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hashim-K/X-Booking/internal/errdefs"
	"github.com/Hashim-K/X-Booking/internal/models"
)

// Store wraps pgxpool for Postgres persistence. It is the sole owner of
// all persisted entities; other components hold IDs, not live rows.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// classify maps driver errors onto the shared taxonomy. Unique and
// foreign-key violations become conflicts so callers can retry with
// different parameters instead of treating them as outages.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errdefs.Wrap(errdefs.KindConflict, op, err)
		case "23503":
			return errdefs.Wrap(errdefs.KindConflict, op, err)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errdefs.Wrap(errdefs.KindNotFound, op, err)
	}
	return errdefs.Wrap(errdefs.KindStore, op, err)
}

// Account management

// CreateAccount inserts a new credential. Duplicate netids conflict.
func (s *Store) CreateAccount(ctx context.Context, netid, password string) (models.Account, error) {
	now := time.Now().UTC()
	acct := models.Account{
		ID:        uuid.New().String(),
		NetID:     netid,
		Password:  password,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, netid, password, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, acct.ID, acct.NetID, acct.Password, acct.IsActive, now)
	if err != nil {
		return models.Account{}, classify("insert account", err)
	}
	return acct, nil
}

// GetAccount fetches an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, netid, password, is_active, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	var a models.Account
	if err := row.Scan(&a.ID, &a.NetID, &a.Password, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Account{}, classify("get account", err)
	}
	return a, nil
}

// ListAccounts returns all accounts, optionally only active ones.
func (s *Store) ListAccounts(ctx context.Context, onlyActive bool) ([]models.Account, error) {
	q := `SELECT id, netid, password, is_active, created_at, updated_at FROM accounts`
	if onlyActive {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.NetID, &a.Password, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, classify("scan account", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAccountActive flips the active flag (soft deactivation).
func (s *Store) SetAccountActive(ctx context.Context, id string, active bool) (models.Account, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return models.Account{}, classify("update account", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Account{}, errdefs.Newf(errdefs.KindNotFound, "account %s not found", id)
	}
	return s.GetAccount(ctx, id)
}

// DeleteAccount removes an account. The booking FK is RESTRICT, so an
// account still referenced by bookings comes back as a conflict.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return classify("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "account %s not found", id)
	}
	return nil
}

// Booking management

// ReserveBooking atomically checks eligibility and inserts a pending
// booking in a single conditional insert. The partial unique index on
// live bookings makes two concurrent reservations for the same
// (account, date, time slot) resolve to exactly one winner.
func (s *Store) ReserveBooking(ctx context.Context, accountID, date, timeSlot, location, subLocation string) (models.Booking, error) {
	now := time.Now().UTC()
	b := models.Booking{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		BookingDate: date,
		TimeSlot:    timeSlot,
		Location:    location,
		SubLocation: subLocation,
		Status:      models.BookingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bookings (id, account_id, booking_date, time_slot, location, sub_location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, b.ID, b.AccountID, b.BookingDate, b.TimeSlot, b.Location, b.SubLocation, b.Status, now)
	if err != nil {
		return models.Booking{}, classify("reserve booking", err)
	}
	return b, nil
}

// GetBooking fetches a booking by id.
func (s *Store) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, booking_date, time_slot, location, sub_location,
		       status, booking_reference, error_message, created_at, updated_at
		FROM bookings WHERE id = $1
	`, id)
	return scanBooking(row)
}

// BookingFilter narrows ListBookings. Zero values mean "any".
type BookingFilter struct {
	AccountID string
	Date      string
	Status    string
	Location  string
}

// ListBookings returns bookings matching the filter, ordered by slot.
func (s *Store) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	q := `
		SELECT id, account_id, booking_date, time_slot, location, sub_location,
		       status, booking_reference, error_message, created_at, updated_at
		FROM bookings WHERE 1=1`
	args := []any{}
	add := func(cond, val string) {
		if val != "" {
			args = append(args, val)
			q += fmt.Sprintf(" AND %s = $%d", cond, len(args))
		}
	}
	add("account_id", f.AccountID)
	add("booking_date", f.Date)
	add("status", f.Status)
	add("location", f.Location)
	q += ` ORDER BY booking_date, time_slot`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("list bookings", err)
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ConfirmBooking transitions pending -> confirmed with the portal reference.
func (s *Store) ConfirmBooking(ctx context.Context, id, reference string) (models.Booking, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings
		SET status = $2, booking_reference = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.BookingConfirmed, reference, models.BookingPending)
	if err != nil {
		return models.Booking{}, classify("confirm booking", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Booking{}, errdefs.Newf(errdefs.KindConflict, "booking %s is not pending", id)
	}
	return s.GetBooking(ctx, id)
}

// FailBooking transitions pending -> failed with the error message.
func (s *Store) FailBooking(ctx context.Context, id, message string) (models.Booking, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.BookingFailed, message, models.BookingPending)
	if err != nil {
		return models.Booking{}, classify("fail booking", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Booking{}, errdefs.Newf(errdefs.KindConflict, "booking %s is not pending", id)
	}
	return s.GetBooking(ctx, id)
}

// CancelBooking transitions a live booking to cancelled. Terminal rows
// (cancelled, failed) are rejected with a conflict, missing ones with
// not found.
func (s *Store) CancelBooking(ctx context.Context, id string) (models.Booking, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.BookingCancelled, models.BookingPending, models.BookingConfirmed)
	if err != nil {
		return models.Booking{}, classify("cancel booking", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBooking(ctx, id); err != nil {
			return models.Booking{}, err
		}
		return models.Booking{}, errdefs.Newf(errdefs.KindConflict, "booking %s is not cancellable", id)
	}
	return s.GetBooking(ctx, id)
}

// ListEligibleAccounts returns active accounts holding no live booking
// for the given (date, time slot) across any location.
func (s *Store) ListEligibleAccounts(ctx context.Context, date, timeSlot string) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.netid, a.password, a.is_active, a.created_at, a.updated_at
		FROM accounts a
		WHERE a.is_active
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.account_id = a.id
			  AND b.booking_date = $1
			  AND b.time_slot = $2
			  AND b.status IN ($3, $4)
		  )
		ORDER BY a.created_at
	`, date, timeSlot, models.BookingPending, models.BookingConfirmed)
	if err != nil {
		return nil, classify("list eligible accounts", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.NetID, &a.Password, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, classify("scan eligible account", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Slot availability

// UpsertSlotAvailability writes one snapshot, keeping exactly one row
// per (location, sub-location, date, time slot) and stamping last_checked.
func (s *Store) UpsertSlotAvailability(ctx context.Context, snap models.SlotAvailability) (models.SlotAvailability, error) {
	if snap.LastChecked.IsZero() {
		snap.LastChecked = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slot_availability
			(location, sub_location, booking_date, time_slot, is_available, total_capacity, remaining_capacity, last_checked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (location, sub_location, booking_date, time_slot) DO UPDATE
		SET is_available = EXCLUDED.is_available,
		    total_capacity = EXCLUDED.total_capacity,
		    remaining_capacity = EXCLUDED.remaining_capacity,
		    last_checked = EXCLUDED.last_checked
	`, snap.Location, snap.SubLocation, snap.BookingDate, snap.TimeSlot,
		snap.IsAvailable, snap.TotalCapacity, snap.RemainingCapacity, snap.LastChecked)
	if err != nil {
		return models.SlotAvailability{}, classify("upsert slot availability", err)
	}
	return snap, nil
}

// GetSlotAvailability reads cached snapshots for a location and date,
// optionally narrowed to one sub-location, ordered by time slot.
func (s *Store) GetSlotAvailability(ctx context.Context, location, subLocation, date string) ([]models.SlotAvailability, error) {
	q := `
		SELECT location, sub_location, booking_date, time_slot, is_available,
		       total_capacity, remaining_capacity, last_checked
		FROM slot_availability
		WHERE location = $1 AND booking_date = $2`
	args := []any{location, date}
	if subLocation != "" {
		args = append(args, subLocation)
		q += fmt.Sprintf(" AND sub_location = $%d", len(args))
	}
	q += ` ORDER BY time_slot, sub_location`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("get slot availability", err)
	}
	defer rows.Close()
	var out []models.SlotAvailability
	for rows.Next() {
		var sa models.SlotAvailability
		if err := rows.Scan(&sa.Location, &sa.SubLocation, &sa.BookingDate, &sa.TimeSlot,
			&sa.IsAvailable, &sa.TotalCapacity, &sa.RemainingCapacity, &sa.LastChecked); err != nil {
			return nil, classify("scan slot availability", err)
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

// Snipe jobs

// CreateSnipeJob inserts a scheduled job. The unique constraint on the
// target slot plus primary tier prevents duplicate scheduling of the
// same opportunity.
func (s *Store) CreateSnipeJob(ctx context.Context, job models.SnipeJob) (models.SnipeJob, error) {
	if len(job.Tiers) == 0 {
		return models.SnipeJob{}, errdefs.New(errdefs.KindValidation, "snipe job needs at least one tier")
	}
	job.ID = uuid.New().String()
	job.Status = models.JobScheduled
	job.CreatedAt = time.Now().UTC()

	tiersJSON, err := json.Marshal(job.Tiers)
	if err != nil {
		return models.SnipeJob{}, fmt.Errorf("marshal tiers: %w", err)
	}
	primary := job.Tiers[0]
	primarySub := ""
	if len(primary.SubLocations) > 0 {
		primarySub = primary.SubLocations[0]
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO snipe_jobs
			(id, target_date, window_start, window_end, consecutive_hours, accept_partial,
			 tiers, primary_location, primary_sub_location, scheduled_execution, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.TargetDate, job.WindowStart, job.WindowEnd, job.ConsecutiveHours, job.AcceptPartial,
		tiersJSON, primary.Location, primarySub, job.ScheduledExecution, job.Status, job.CreatedAt)
	if err != nil {
		return models.SnipeJob{}, classify("insert snipe job", err)
	}
	return job, nil
}

// GetSnipeJob fetches a job by id.
func (s *Store) GetSnipeJob(ctx context.Context, id string) (models.SnipeJob, error) {
	row := s.pool.QueryRow(ctx, snipeJobSelect+` WHERE id = $1`, id)
	return scanSnipeJob(row)
}

// ListSnipeJobs returns jobs, optionally filtered by status, in
// execution order.
func (s *Store) ListSnipeJobs(ctx context.Context, status string) ([]models.SnipeJob, error) {
	q := snipeJobSelect
	args := []any{}
	if status != "" {
		args = append(args, status)
		q += ` WHERE status = $1`
	}
	q += ` ORDER BY scheduled_execution`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("list snipe jobs", err)
	}
	defer rows.Close()
	var out []models.SnipeJob
	for rows.Next() {
		job, err := scanSnipeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkJobRunning performs the scheduled -> running compare-and-swap.
// The boolean reports whether this caller won the transition; a false
// return means another entrant already dispatched the job.
func (s *Store) MarkJobRunning(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE snipe_jobs SET status = $2, executed_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.JobRunning, models.JobScheduled)
	if err != nil {
		return false, classify("mark job running", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetJobAssignedAccounts records the accounts resolved at dispatch time.
func (s *Store) SetJobAssignedAccounts(ctx context.Context, id string, accountIDs []string) error {
	data, err := json.Marshal(accountIDs)
	if err != nil {
		return fmt.Errorf("marshal assigned accounts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE snipe_jobs SET assigned_accounts = $2 WHERE id = $1
	`, id, data)
	return classify("set assigned accounts", err)
}

// FinishSnipeJob transitions a running job to a terminal status with its
// structured result.
func (s *Store) FinishSnipeJob(ctx context.Context, id, status string, result *models.JobResult) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE snipe_jobs SET status = $2, result = $3
		WHERE id = $1 AND status = $4
	`, id, status, resultJSON, models.JobRunning)
	if err != nil {
		return classify("finish snipe job", err)
	}
	if tag.RowsAffected() == 0 {
		return errdefs.Newf(errdefs.KindConflict, "snipe job %s is not running", id)
	}
	return nil
}

// CancelSnipeJob cancels a job that has not started running. Returns
// false when the job already left the scheduled state.
func (s *Store) CancelSnipeJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE snipe_jobs SET status = $2
		WHERE id = $1 AND status = $3
	`, id, models.JobCancelled, models.JobScheduled)
	if err != nil {
		return false, classify("cancel snipe job", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Booking log

// AppendBookingLog adds one append-only audit row.
func (s *Store) AppendBookingLog(ctx context.Context, e models.BookingLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_log
			(account_id, action, booking_date, time_slot, location, sub_location, error_message, execution_time_ms, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, emptyToNil(e.AccountID), e.Action, e.BookingDate, e.TimeSlot, e.Location, e.SubLocation,
		emptyToNil(e.ErrorMessage), e.ExecutionTimeMS, e.Timestamp)
	return classify("append booking log", err)
}

// LogFilter narrows ListBookingLogs.
type LogFilter struct {
	AccountID string
	Action    string
	From      time.Time
	To        time.Time
	Limit     int
}

// ListBookingLogs returns audit rows newest first.
func (s *Store) ListBookingLogs(ctx context.Context, f LogFilter) ([]models.BookingLogEntry, error) {
	q := `
		SELECT id, account_id, action, booking_date, time_slot, location, sub_location,
		       error_message, execution_time_ms, ts
		FROM booking_log WHERE 1=1`
	args := []any{}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		q += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		q += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	q += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("list booking logs", err)
	}
	defer rows.Close()
	var out []models.BookingLogEntry
	for rows.Next() {
		var e models.BookingLogEntry
		var acctID, errMsg pgtype.Text
		var execMS pgtype.Int8
		if err := rows.Scan(&e.ID, &acctID, &e.Action, &e.BookingDate, &e.TimeSlot,
			&e.Location, &e.SubLocation, &errMsg, &execMS, &e.Timestamp); err != nil {
			return nil, classify("scan booking log", err)
		}
		if acctID.Valid {
			e.AccountID = acctID.String
		}
		if errMsg.Valid {
			e.ErrorMessage = errMsg.String
		}
		if execMS.Valid {
			e.ExecutionTimeMS = execMS.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccountStatistics aggregates one account's booking history.
func (s *Store) AccountStatistics(ctx context.Context, accountID string) (models.AccountStats, error) {
	var st models.AccountStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bookings WHERE account_id = $1),
			(SELECT COUNT(*) FROM bookings WHERE account_id = $1 AND status = $2),
			(SELECT COUNT(*) FROM bookings WHERE account_id = $1 AND status = $3),
			(SELECT COUNT(*) FROM booking_log WHERE account_id = $1 AND action = $4)
	`, accountID, models.BookingConfirmed, models.BookingFailed, models.ActionAttempt).
		Scan(&st.TotalBookings, &st.ConfirmedBookings, &st.FailedBookings, &st.TotalAttempts)
	if err != nil {
		return models.AccountStats{}, classify("account statistics", err)
	}
	if st.TotalAttempts > 0 {
		st.SuccessRate = float64(st.ConfirmedBookings) / float64(st.TotalAttempts) * 100
	}
	return st, nil
}

// SubLocationFailureCounts counts logged no-availability failures per
// sub-location of a location. The coordinator uses this to send spare
// accounts to historically starved sub-locations first.
func (s *Store) SubLocationFailureCounts(ctx context.Context, location string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sub_location, COUNT(*)
		FROM booking_log
		WHERE location = $1 AND action = $2
		GROUP BY sub_location
	`, location, models.ActionFailure)
	if err != nil {
		return nil, classify("sub-location failure counts", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var sub string
		var n int
		if err := rows.Scan(&sub, &n); err != nil {
			return nil, classify("scan failure count", err)
		}
		out[sub] = n
	}
	return out, rows.Err()
}

// helpers

const snipeJobSelect = `
	SELECT id, target_date, window_start, window_end, consecutive_hours, accept_partial,
	       tiers, scheduled_execution, status, assigned_accounts, result, created_at, executed_at
	FROM snipe_jobs`

func scanBooking(row pgx.Row) (models.Booking, error) {
	var b models.Booking
	var ref, errMsg pgtype.Text
	if err := row.Scan(&b.ID, &b.AccountID, &b.BookingDate, &b.TimeSlot, &b.Location, &b.SubLocation,
		&b.Status, &ref, &errMsg, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.Booking{}, classify("scan booking", err)
	}
	if ref.Valid {
		b.BookingReference = ref.String
	}
	if errMsg.Valid {
		b.ErrorMessage = errMsg.String
	}
	return b, nil
}

func scanSnipeJob(row pgx.Row) (models.SnipeJob, error) {
	var job models.SnipeJob
	var tiersJSON, assignedJSON []byte
	var resultJSON []byte
	var executedAt pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.TargetDate, &job.WindowStart, &job.WindowEnd,
		&job.ConsecutiveHours, &job.AcceptPartial, &tiersJSON, &job.ScheduledExecution,
		&job.Status, &assignedJSON, &resultJSON, &job.CreatedAt, &executedAt); err != nil {
		return models.SnipeJob{}, classify("scan snipe job", err)
	}
	if err := json.Unmarshal(tiersJSON, &job.Tiers); err != nil {
		return models.SnipeJob{}, fmt.Errorf("unmarshal tiers: %w", err)
	}
	if len(assignedJSON) > 0 {
		if err := json.Unmarshal(assignedJSON, &job.AssignedAccounts); err != nil {
			return models.SnipeJob{}, fmt.Errorf("unmarshal assigned accounts: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var r models.JobResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return models.SnipeJob{}, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &r
	}
	if executedAt.Valid {
		t := executedAt.Time
		job.ExecutedAt = &t
	}
	return job, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
