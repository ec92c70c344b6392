package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	slotConstraint  = "bookings_confirmed_slot_key"
	uniqueViolation = "23505"
)

type PgRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPgRepository(pool *pgxpool.Pool, timeout time.Duration) *PgRepository {
	return &PgRepository{pool: pool, timeout: timeout}
}

// queryRower is satisfied by both the pool and a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Helpers

func (r *PgRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < r.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// bookingColumns always qualifies names: an unqualified "time" would be read
// as the type keyword.
func bookingColumns(prefix string) string {
	if prefix == "" {
		prefix = "bookings"
	}
	p := prefix + "."
	return strings.Join([]string{
		p + "id",
		p + "practitioner_id",
		p + "patient_id",
		"to_char(" + p + "date, 'YYYY-MM-DD')",
		"to_char(" + p + "time, 'HH24:MI')",
		p + "service_type",
		p + "price::float8",
		p + "reason",
		p + "book_number",
		p + "status",
		p + "calendar_event_id",
		p + "created_at",
		p + "updated_at",
	}, ", ")
}

func bookingFields(b *Booking) []any {
	return []any{
		&b.ID,
		&b.PractitionerID,
		&b.PatientID,
		&b.Date,
		&b.Time,
		&b.ServiceType,
		&b.Price,
		&b.Reason,
		&b.BookNumber,
		&b.Status,
		&b.CalendarEventID,
		&b.CreatedAt,
		&b.UpdatedAt,
	}
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	if err := row.Scan(bookingFields(&b)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == slotConstraint
}

func dateParam(s string) (pgtype.Date, error) {
	t, err := ParseDate(s)
	if err != nil {
		return pgtype.Date{}, err
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

func timeParam(s string) (pgtype.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return pgtype.Time{}, err
	}
	us := int64(t.Hour())*int64(time.Hour/time.Microsecond) + int64(t.Minute())*int64(time.Minute/time.Microsecond)
	return pgtype.Time{Microseconds: us, Valid: true}, nil
}

func insertBooking(ctx context.Context, q queryRower, b Booking) (*Booking, error) {
	date, err := dateParam(b.Date)
	if err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}
	tod, err := timeParam(b.Time)
	if err != nil {
		return nil, invalid("time", "must be HH:MM")
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := q.QueryRow(ctx, `
		INSERT INTO bookings (id, practitioner_id, patient_id, date, time, service_type,
		                      price, reason, book_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+bookingColumns(""),
		b.ID, b.PractitionerID, b.PatientID, date, tod, b.ServiceType,
		b.Price, b.Reason, b.BookNumber, b.Status)

	created, err := scanBooking(row)
	if err != nil {
		if isSlotConflict(err) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}
	return created, nil
}

// Interface methods

func (r *PgRepository) Query(ctx context.Context, f Filter) ([]BookingDetail, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.PractitionerID != nil {
		add("b.practitioner_id = $%d", *f.PractitionerID)
	}
	if f.PatientID != nil {
		add("b.patient_id = $%d", *f.PatientID)
	}
	if f.BookNumber != nil {
		add("b.book_number = $%d", *f.BookNumber)
	}
	for _, d := range []struct {
		cond string
		val  *string
		name string
	}{
		{"b.date = $%d", f.Date, "date"},
		{"b.date >= $%d", f.StartDate, "start_date"},
		{"b.date <= $%d", f.EndDate, "end_date"},
	} {
		if d.val == nil {
			continue
		}
		p, err := dateParam(*d.val)
		if err != nil {
			return nil, invalid(d.name, "must be YYYY-MM-DD")
		}
		add(d.cond, p)
	}
	if f.Status != nil {
		add("b.status = $%d", string(*f.Status))
	}

	sql := `
		SELECT ` + bookingColumns("b") + `,
		       pa.id, pa.full_name, pa.email, pa.phone,
		       pr.id, pr.full_name, pr.email, pr.phone
		FROM bookings b
		LEFT JOIN profiles pa ON pa.id = b.patient_id
		LEFT JOIN profiles pr ON pr.id = b.practitioner_id`
	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	sql += "\n\t\tORDER BY b.date ASC, b.time ASC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("query bookings", err)
	}
	defer rows.Close()

	var result []BookingDetail
	for rows.Next() {
		var (
			d                        BookingDetail
			paID, prID               *uuid.UUID
			paName, paEmail, paPhone *string
			prName, prEmail, prPhone *string
		)
		dest := append(bookingFields(&d.Booking),
			&paID, &paName, &paEmail, &paPhone,
			&prID, &prName, &prEmail, &prPhone,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("scan booking", err)
		}
		d.Patient = party(paID, paName, paEmail, paPhone)
		d.Practitioner = party(prID, prName, prEmail, prPhone)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query bookings", err)
	}

	return result, nil
}

func party(id *uuid.UUID, name, email, phone *string) *Party {
	if id == nil {
		return nil
	}
	p := &Party{ID: *id, Email: email, Phone: phone}
	if name != nil {
		p.FullName = *name
	}
	return p
}

func (r *PgRepository) Insert(ctx context.Context, b Booking) (*Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	created, err := insertBooking(ctx, r.pool, b)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) || IsValidation(err) {
			return nil, err
		}
		return nil, storeErr("insert booking", err)
	}
	return created, nil
}

func (r *PgRepository) InsertGroup(ctx context.Context, rows []Booking) ([]Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin insert group", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertAll(ctx, tx, rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit insert group", err)
	}
	return inserted, nil
}

func insertAll(ctx context.Context, tx pgx.Tx, rows []Booking) ([]Booking, error) {
	inserted := make([]Booking, 0, len(rows))
	for _, b := range rows {
		created, err := insertBooking(ctx, tx, b)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) || IsValidation(err) {
				return nil, err
			}
			return nil, storeErr("insert group row", err)
		}
		inserted = append(inserted, *created)
	}
	return inserted, nil
}

func (r *PgRepository) Update(ctx context.Context, id uuid.UUID, u BookingUpdate) (*Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin update", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storeErr("lock booking", err)
	}
	if current == StatusCancelled {
		return nil, ErrBookingCancelled
	}

	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = COALESCE($2, status),
		    reason = COALESCE($3, reason),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns(""), id, status, u.Reason)

	updated, err := scanBooking(row)
	if err != nil {
		return nil, storeErr("update booking", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit update", err)
	}
	return updated, nil
}

func (r *PgRepository) SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET calendar_event_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, eventID)
	if err != nil {
		return storeErr("set calendar event id", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) DeleteByGroup(ctx context.Context, bookNumber string) ([]Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		DELETE FROM bookings
		WHERE book_number = $1
		RETURNING `+bookingColumns(""), bookNumber)
	if err != nil {
		return nil, storeErr("delete group", err)
	}
	deleted, err := collectBookings(rows)
	if err != nil {
		return nil, storeErr("delete group", err)
	}
	return deleted, nil
}

// DeleteByID removes a single booking. Rows that belong to a group are only
// removed through DeleteByGroup.
func (r *PgRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin delete booking", err)
	}
	defer tx.Rollback(ctx)

	var bookNumber *string
	err = tx.QueryRow(ctx, `SELECT book_number FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&bookNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storeErr("lock booking", err)
	}
	if bookNumber != nil {
		return nil, GroupedRowError(*bookNumber)
	}

	row := tx.QueryRow(ctx, `
		DELETE FROM bookings
		WHERE id = $1 AND book_number IS NULL
		RETURNING `+bookingColumns(""), id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, storeErr("delete booking", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit delete booking", err)
	}
	return b, nil
}

func (r *PgRepository) ReplaceGroup(ctx context.Context, bookNumber string, rows []Booking) ([]Booking, []Booking, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, storeErr("begin replace group", err)
	}
	defer tx.Rollback(ctx)

	old, err := tx.Query(ctx, `
		DELETE FROM bookings
		WHERE book_number = $1
		RETURNING `+bookingColumns(""), bookNumber)
	if err != nil {
		return nil, nil, storeErr("delete group", err)
	}
	deleted, err := collectBookings(old)
	if err != nil {
		return nil, nil, storeErr("delete group", err)
	}

	inserted, err := insertAll(ctx, tx, rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, storeErr("commit replace group", err)
	}
	return deleted, inserted, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, book_number, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.BookingID, ev.BookNumber, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
