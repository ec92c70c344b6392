package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/booking/bookingtest"
	"github.com/hackgods/practitioner-booking/internal/config"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

// ────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	calls []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, key)
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

type recordingCalendar struct {
	mu      sync.Mutex
	created []uuid.UUID
	updated []uuid.UUID
	deleted []uuid.UUID
}

func (c *recordingCalendar) BookingCreated(b booking.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, b.ID)
}

func (c *recordingCalendar) BookingUpdated(b booking.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, b.ID)
}

func (c *recordingCalendar) BookingDeleted(b booking.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, b.ID)
}

type fixture struct {
	repo     *bookingtest.MemoryRepository
	locker   *fakeLocker
	calendar *recordingCalendar
	svc      *booking.Service
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:     bookingtest.NewMemoryRepository(),
		locker:   newFakeLocker(),
		calendar: &recordingCalendar{},
	}
	f.svc = booking.NewService(f.repo, f.locker, f.calendar, nil, cfg)
	return f
}

func price(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

func appointment(practitioner, patient uuid.UUID, date, tm string) booking.NewBooking {
	return booking.NewBooking{
		PractitionerID: practitioner.String(),
		PatientID:      patient.String(),
		Date:           date,
		Time:           tm,
		ServiceType:    "acupuncture",
		Price:          price(85),
		Reason:         gofakeit.Name(),
	}
}

// seedGroup stores n confirmed rows for bookNumber on consecutive hours.
func seedGroup(f *fixture, practitioner, patient uuid.UUID, bookNumber, date string, n int) []booking.Booking {
	var rows []booking.Booking
	for i := 0; i < n; i++ {
		bn := bookNumber
		rows = append(rows, f.repo.Seed(booking.Booking{
			PractitionerID: practitioner,
			PatientID:      &patient,
			Date:           date,
			Time:           fmt.Sprintf("%02d:00", 9+i),
			ServiceType:    "massage",
			Price:          price(60),
			BookNumber:     &bn,
		}))
	}
	return rows
}

// ────────────────────────────────────────────────
// CreateBooking
// ────────────────────────────────────────────────

func TestCreateBooking_ThenDuplicateConflicts(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	created, err := f.svc.CreateBooking(ctx, appointment(p1, u1, "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Status != booking.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", created.Status)
	}
	if created.PatientID == nil || *created.PatientID != u1 {
		t.Errorf("expected patient %s, got %v", u1, created.PatientID)
	}

	_, err = f.svc.CreateBooking(ctx, appointment(p1, uuid.New(), "2024-06-01", "10:00"))
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	if len(f.calendar.created) != 1 || f.calendar.created[0] != created.ID {
		t.Errorf("expected one calendar create for %s, got %v", created.ID, f.calendar.created)
	}
}

func TestCreateBooking_SecondsAreNormalizedIntoSameSlot(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1 := uuid.New()

	if _, err := f.svc.CreateBooking(ctx, appointment(p1, uuid.New(), "2024-06-01", "10:00:00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.CreateBooking(ctx, appointment(p1, uuid.New(), "2024-06-01", "10:00"))
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestCreateBooking_SameTimeDifferentPractitionerIsAllowed(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.CreateBooking(ctx, appointment(uuid.New(), uuid.New(), "2024-06-01", "10:00")); err != nil {
			t.Fatalf("practitioner %d: unexpected error: %v", i, err)
		}
	}
}

func TestCreateBooking_CancelledRowDoesNotHoldSlot(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1 := uuid.New()

	f.repo.Seed(booking.Booking{
		PractitionerID: p1,
		Date:           "2024-06-01",
		Time:           "10:00",
		ServiceType:    "acupuncture",
		Status:         booking.StatusCancelled,
	})

	if _, err := f.svc.CreateBooking(ctx, appointment(p1, uuid.New(), "2024-06-01", "10:00")); err != nil {
		t.Fatalf("expected cancelled row to free the slot, got %v", err)
	}
}

func TestCreateBooking_ConcurrentRequestsHaveOneWinner(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1 := uuid.New()

	const n = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBooking(ctx, appointment(p1, uuid.New(), "2024-06-01", "10:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, booking.ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("expected 1 win and %d conflicts, got %d wins, %d conflicts, errors %v", n-1, wins, conflicts, others)
	}

	confirmed := booking.StatusConfirmed
	rows, err := f.svc.ListBookings(ctx, booking.ListQuery{PractitionerID: p1.String(), Status: string(confirmed)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one confirmed row, got %d", len(rows))
	}
}

func TestCreateBooking_BlockedSlotShape(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		in   booking.NewBooking
	}{
		{
			name: "bare",
			in: booking.NewBooking{
				PractitionerID: uuid.NewString(),
				Date:           "2024-06-01",
				Time:           "11:00",
				ServiceType:    booking.ServiceBlocked,
			},
		},
		{
			name: "with patient, price, group and reason supplied",
			in: booking.NewBooking{
				PractitionerID: uuid.NewString(),
				PatientID:      "not-a-uuid",
				Date:           "2024-06-01",
				Time:           "11:00",
				ServiceType:    booking.ServiceBlocked,
				Price:          price(120),
				Reason:         "dentist",
				BookNumber:     "BK999",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := f.svc.CreateBooking(ctx, tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.PatientID != nil {
				t.Errorf("expected nil patient, got %v", *b.PatientID)
			}
			if b.Price != nil {
				t.Errorf("expected nil price, got %v", *b.Price)
			}
			if b.BookNumber != nil {
				t.Errorf("expected nil book number, got %v", *b.BookNumber)
			}
			if b.Reason != booking.DefaultBlockedReason {
				t.Errorf("expected default reason, got %q", b.Reason)
			}
		})
	}

	if len(f.calendar.created) != 0 {
		t.Errorf("blocked slots must not create calendar events, got %v", f.calendar.created)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	valid := appointment(uuid.New(), uuid.New(), "2024-06-01", "10:00")

	tests := []struct {
		name   string
		mutate func(in *booking.NewBooking)
		field  string
	}{
		{"missing practitioner", func(in *booking.NewBooking) { in.PractitionerID = "" }, "practitioner_id"},
		{"bad practitioner", func(in *booking.NewBooking) { in.PractitionerID = "p1" }, "practitioner_id"},
		{"missing date", func(in *booking.NewBooking) { in.Date = "" }, "date"},
		{"impossible date", func(in *booking.NewBooking) { in.Date = "2024-02-30" }, "date"},
		{"wrong date format", func(in *booking.NewBooking) { in.Date = "01/06/2024" }, "date"},
		{"missing time", func(in *booking.NewBooking) { in.Time = "" }, "time"},
		{"bad time", func(in *booking.NewBooking) { in.Time = "25:00" }, "time"},
		{"missing service type", func(in *booking.NewBooking) { in.ServiceType = "" }, "service_type"},
		{"missing patient", func(in *booking.NewBooking) { in.PatientID = "" }, "patient_id"},
		{"missing price", func(in *booking.NewBooking) { in.Price = nil }, "price"},
		{"negative price", func(in *booking.NewBooking) { in.Price = price(-1) }, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)

			_, err := f.svc.CreateBooking(ctx, in)
			var ve *booking.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}

	if len(f.repo.All()) != 0 {
		t.Error("validation failures must not write")
	}
}

func TestCreateBooking_StoreFailureIsStoreError(t *testing.T) {
	f := newFixture(t, config.Config{})
	f.repo.FailWith = errors.New("connection refused")

	_, err := f.svc.CreateBooking(context.Background(), appointment(uuid.New(), uuid.New(), "2024-06-01", "10:00"))
	if !booking.IsStoreError(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if len(f.calendar.created) != 0 {
		t.Error("calendar must not be called when the store write fails")
	}
}

// ────────────────────────────────────────────────
// UpdateBooking
// ────────────────────────────────────────────────

func TestUpdateBooking(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	withEvent := f.repo.Seed(booking.Booking{
		PractitionerID:  uuid.New(),
		Date:            "2024-06-01",
		Time:            "10:00",
		ServiceType:     "acupuncture",
		CalendarEventID: strPtr("evt-1"),
	})
	withoutEvent := f.repo.Seed(booking.Booking{
		PractitionerID: uuid.New(),
		Date:           "2024-06-01",
		Time:           "10:00",
		ServiceType:    "acupuncture",
	})

	reason := "  patient asked to move  "
	updated, err := f.svc.UpdateBooking(ctx, booking.UpdateInput{ID: withEvent.ID.String(), Reason: &reason})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Reason != "patient asked to move" {
		t.Errorf("expected trimmed reason, got %q", updated.Reason)
	}
	if updated.Status != booking.StatusConfirmed {
		t.Errorf("status must be untouched, got %s", updated.Status)
	}
	if !updated.UpdatedAt.After(withEvent.UpdatedAt) && !updated.UpdatedAt.Equal(withEvent.UpdatedAt) {
		t.Error("expected updated_at to be refreshed")
	}

	cancelled := "cancelled"
	if _, err := f.svc.UpdateBooking(ctx, booking.UpdateInput{ID: withoutEvent.ID.String(), Status: &cancelled}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.calendar.updated) != 1 || f.calendar.updated[0] != withEvent.ID {
		t.Errorf("expected calendar update only for booking with event, got %v", f.calendar.updated)
	}

	_, err = f.svc.UpdateBooking(ctx, booking.UpdateInput{ID: withoutEvent.ID.String(), Reason: &reason})
	if !errors.Is(err, booking.ErrBookingCancelled) {
		t.Errorf("expected ErrBookingCancelled, got %v", err)
	}
}

func TestUpdateBooking_Errors(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	bogus := "pending"
	tests := []struct {
		name    string
		in      booking.UpdateInput
		wantErr func(error) bool
	}{
		{"missing id", booking.UpdateInput{}, booking.IsValidation},
		{"malformed id", booking.UpdateInput{ID: "abc"}, booking.IsValidation},
		{"unknown status", booking.UpdateInput{ID: uuid.NewString(), Status: &bogus}, booking.IsValidation},
		{"not found", booking.UpdateInput{ID: uuid.NewString()}, func(err error) bool {
			return errors.Is(err, booking.ErrBookingNotFound)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateBooking(ctx, tt.in)
			if !tt.wantErr(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// ────────────────────────────────────────────────
// RescheduleGroup
// ────────────────────────────────────────────────

func TestRescheduleGroup_ReplacesWholeGroup(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	old := seedGroup(f, p1, u1, "BK100", "2024-06-01", 2)
	other := seedGroup(f, p1, u1, "BK200", "2024-06-02", 1)

	rows := []booking.NewBooking{
		appointment(p1, u1, "2024-06-10", "09:00"),
		appointment(p1, u1, "2024-06-10", "10:00"),
		appointment(p1, u1, "2024-06-10", "11:00"),
	}
	rows[1].BookNumber = "IGNORED"

	group, err := f.svc.RescheduleGroup(ctx, "BK100", rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Count() != 3 {
		t.Fatalf("expected 3 rows, got %d", group.Count())
	}

	listed, err := f.svc.ListBookings(ctx, booking.ListQuery{BookNumber: "BK100"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 rows in group, got %d", len(listed))
	}
	for _, b := range listed {
		if b.BookNumber == nil || *b.BookNumber != "BK100" {
			t.Errorf("expected book number BK100, got %v", b.BookNumber)
		}
		if b.Date != "2024-06-10" {
			t.Errorf("expected new date, got %s", b.Date)
		}
		for _, o := range old {
			if b.ID == o.ID {
				t.Errorf("old row %s survived reschedule", o.ID)
			}
		}
	}

	if _, err := f.repo.GetByID(ctx, other[0].ID); err != nil {
		t.Errorf("other group must be untouched: %v", err)
	}
	if len(f.calendar.created) != 3 {
		t.Errorf("expected 3 calendar creates, got %d", len(f.calendar.created))
	}
	if len(f.locker.calls) != 1 || f.locker.calls[0] != "group:BK100" {
		t.Errorf("expected group lock on BK100, got %v", f.locker.calls)
	}
}

func TestRescheduleGroup_ConflictLeavesGroupEmpty(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	seedGroup(f, p1, u1, "BK100", "2024-06-01", 2)
	taken := f.repo.Seed(booking.Booking{
		PractitionerID: p1,
		PatientID:      &u1,
		Date:           "2024-06-10",
		Time:           "10:00",
		ServiceType:    "acupuncture",
	})

	rows := []booking.NewBooking{
		appointment(p1, u1, "2024-06-10", "09:00"),
		appointment(p1, u1, "2024-06-10", "10:00"),
		appointment(p1, u1, "2024-06-10", "11:00"),
	}

	_, err := f.svc.RescheduleGroup(ctx, "BK100", rows)
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	listed, _ := f.svc.ListBookings(ctx, booking.ListQuery{BookNumber: "BK100"})
	if len(listed) != 0 {
		t.Fatalf("expected group to be empty, got %d rows", len(listed))
	}
	if _, err := f.repo.GetByID(ctx, taken.ID); err != nil {
		t.Errorf("blocking booking must survive: %v", err)
	}
	if len(f.repo.All()) != 1 {
		t.Errorf("expected only the blocking booking to remain, got %d rows", len(f.repo.All()))
	}
}

func TestRescheduleGroup_AtomicKeepsOldRowsOnConflict(t *testing.T) {
	f := newFixture(t, config.Config{AtomicReschedule: true})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	old := seedGroup(f, p1, u1, "BK100", "2024-06-01", 2)
	f.repo.Seed(booking.Booking{
		PractitionerID: p1,
		Date:           "2024-06-10",
		Time:           "10:00",
		ServiceType:    booking.ServiceBlocked,
	})

	_, err := f.svc.RescheduleGroup(ctx, "BK100", []booking.NewBooking{
		appointment(p1, u1, "2024-06-10", "09:00"),
		appointment(p1, u1, "2024-06-10", "10:00"),
	})
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	listed, _ := f.svc.ListBookings(ctx, booking.ListQuery{BookNumber: "BK100"})
	if len(listed) != len(old) {
		t.Fatalf("expected %d old rows to survive, got %d", len(old), len(listed))
	}
}

func TestRescheduleGroup_DeletesCalendarEventsOfOldRows(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	bn := "BK300"
	withEvent := f.repo.Seed(booking.Booking{
		PractitionerID:  p1,
		PatientID:       &u1,
		Date:            "2024-06-01",
		Time:            "09:00",
		ServiceType:     "massage",
		BookNumber:      &bn,
		CalendarEventID: strPtr("evt-9"),
	})
	f.repo.Seed(booking.Booking{
		PractitionerID: p1,
		PatientID:      &u1,
		Date:           "2024-06-01",
		Time:           "10:00",
		ServiceType:    "massage",
		BookNumber:     &bn,
	})

	if _, err := f.svc.RescheduleGroup(ctx, bn, []booking.NewBooking{appointment(p1, u1, "2024-06-05", "09:00")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.calendar.deleted) != 1 || f.calendar.deleted[0] != withEvent.ID {
		t.Errorf("expected calendar delete for %s only, got %v", withEvent.ID, f.calendar.deleted)
	}
}

func TestRescheduleGroup_Validation(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()
	seedGroup(f, p1, u1, "BK100", "2024-06-01", 2)

	blocked := booking.NewBooking{
		PractitionerID: p1.String(),
		Date:           "2024-06-10",
		Time:           "09:00",
		ServiceType:    booking.ServiceBlocked,
	}
	badDate := appointment(p1, u1, "2024-13-01", "09:00")

	tests := []struct {
		name       string
		bookNumber string
		rows       []booking.NewBooking
		field      string
	}{
		{"missing book number", "", []booking.NewBooking{appointment(p1, u1, "2024-06-10", "09:00")}, "book_number"},
		{"no rows", "BK100", nil, "reschedule_data"},
		{"blocked row", "BK100", []booking.NewBooking{blocked}, "reschedule_data[0].service_type"},
		{"invalid row", "BK100", []booking.NewBooking{appointment(p1, u1, "2024-06-10", "09:00"), badDate}, "reschedule_data[1].date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RescheduleGroup(ctx, tt.bookNumber, tt.rows)
			var ve *booking.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}

	listed, _ := f.svc.ListBookings(ctx, booking.ListQuery{BookNumber: "BK100"})
	if len(listed) != 2 {
		t.Errorf("validation failures must not touch the group, got %d rows", len(listed))
	}
}

func TestRescheduleGroup_BusyGroup(t *testing.T) {
	f := newFixture(t, config.Config{})
	p1, u1 := uuid.New(), uuid.New()
	seedGroup(f, p1, u1, "BK100", "2024-06-01", 1)

	f.locker.held["group:BK100"] = true

	_, err := f.svc.RescheduleGroup(context.Background(), "BK100", []booking.NewBooking{appointment(p1, u1, "2024-06-10", "09:00")})
	if !errors.Is(err, booking.ErrGroupBusy) {
		t.Fatalf("expected ErrGroupBusy, got %v", err)
	}
	if len(f.repo.All()) != 1 {
		t.Error("busy group must not be modified")
	}
}

// ────────────────────────────────────────────────
// Cancel
// ────────────────────────────────────────────────

func TestCancel_ByGroupRemovesAllAndOnly(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, u1 := uuid.New(), uuid.New()

	seedGroup(f, p1, u1, "BK100", "2024-06-01", 2)
	keep := seedGroup(f, p1, u1, "BK101", "2024-06-02", 3)

	res, err := f.svc.Cancel(ctx, "BK100", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cancelled) != 2 {
		t.Errorf("expected 2 cancelled, got %d", len(res.Cancelled))
	}
	if res.Message != "2 booking(s) cancelled" {
		t.Errorf("unexpected message %q", res.Message)
	}

	listed, _ := f.svc.ListBookings(ctx, booking.ListQuery{BookNumber: "BK100"})
	if len(listed) != 0 {
		t.Errorf("expected group to be empty, got %d", len(listed))
	}
	if len(f.repo.All()) != len(keep) {
		t.Errorf("expected other group to survive, got %d rows", len(f.repo.All()))
	}
}

func TestCancel_ByIDRemovesExactlyOne(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1 := uuid.New()

	blocked, err := f.svc.CreateBooking(ctx, booking.NewBooking{
		PractitionerID: p1.String(),
		Date:           "2024-06-01",
		Time:           "11:00",
		ServiceType:    booking.ServiceBlocked,
	})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}
	f.repo.Seed(booking.Booking{PractitionerID: p1, Date: "2024-06-01", Time: "12:00", ServiceType: booking.ServiceBlocked})

	res, err := f.svc.Cancel(ctx, "", blocked.ID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cancelled) != 1 || res.Cancelled[0].ID != blocked.ID {
		t.Fatalf("expected exactly the blocked row, got %+v", res.Cancelled)
	}
	if len(f.repo.All()) != 1 {
		t.Errorf("expected one row left, got %d", len(f.repo.All()))
	}
	if len(f.calendar.deleted) != 0 {
		t.Error("blocked slots have no calendar event to delete")
	}
}

func TestCancel_ByIDRefusesGroupRow(t *testing.T) {
	f := newFixture(t, config.Config{})
	rows := seedGroup(f, uuid.New(), uuid.New(), "BK300", "2024-06-01", 3)

	res, err := f.svc.Cancel(context.Background(), "", rows[1].ID.String())
	if !booking.IsValidation(err) {
		t.Fatalf("expected ValidationError, got res=%+v err=%v", res, err)
	}

	listed, _ := f.svc.ListBookings(context.Background(), booking.ListQuery{BookNumber: "BK300"})
	if len(listed) != 3 {
		t.Errorf("expected the group to stay whole, got %d rows", len(listed))
	}
	if len(f.repo.Events()) != 0 {
		t.Errorf("refused cancel must not be logged, got %d events", len(f.repo.Events()))
	}
}

func TestCancel_DeletesCalendarEvents(t *testing.T) {
	f := newFixture(t, config.Config{})
	bn := "BK500"
	b := f.repo.Seed(booking.Booking{
		PractitionerID:  uuid.New(),
		Date:            "2024-06-01",
		Time:            "09:00",
		ServiceType:     "massage",
		BookNumber:      &bn,
		CalendarEventID: strPtr("evt-1"),
	})

	if _, err := f.svc.Cancel(context.Background(), bn, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.calendar.deleted) != 1 || f.calendar.deleted[0] != b.ID {
		t.Errorf("expected calendar delete for %s, got %v", b.ID, f.calendar.deleted)
	}
}

func TestCancel_RequiresExactlyOneIdentifier(t *testing.T) {
	f := newFixture(t, config.Config{})

	for _, tc := range []struct{ bookNumber, id string }{
		{"", ""},
		{"BK100", uuid.NewString()},
		{"", "not-a-uuid"},
	} {
		_, err := f.svc.Cancel(context.Background(), tc.bookNumber, tc.id)
		if !booking.IsValidation(err) {
			t.Errorf("Cancel(%q, %q): expected ValidationError, got %v", tc.bookNumber, tc.id, err)
		}
	}
}

func TestCancel_UnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t, config.Config{})

	_, err := f.svc.Cancel(context.Background(), "", uuid.NewString())
	if !errors.Is(err, booking.ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestCancel_StoreFailure(t *testing.T) {
	f := newFixture(t, config.Config{})
	f.repo.FailWith = errors.New("timeout")

	_, err := f.svc.Cancel(context.Background(), "BK100", "")
	if !booking.IsStoreError(err) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

// ────────────────────────────────────────────────
// ListBookings
// ────────────────────────────────────────────────

func TestListBookings_FiltersAndOrder(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()
	p1, p2, u1 := uuid.New(), uuid.New(), uuid.New()

	f.repo.AddProfile(booking.Party{ID: p1, FullName: gofakeit.Name()})
	f.repo.AddProfile(booking.Party{ID: u1, FullName: gofakeit.Name()})

	for _, in := range []booking.NewBooking{
		appointment(p1, u1, "2024-06-03", "09:00"),
		appointment(p1, u1, "2024-06-01", "15:00"),
		appointment(p1, u1, "2024-06-01", "08:30"),
		appointment(p2, u1, "2024-06-02", "10:00"),
	} {
		if _, err := f.svc.CreateBooking(ctx, in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rows, err := f.svc.ListBookings(ctx, booking.ListQuery{PractitionerID: p1.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2024-06-01 08:30", "2024-06-01 15:00", "2024-06-03 09:00"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, r := range rows {
		if got := r.Date + " " + r.Time; got != want[i] {
			t.Errorf("row %d: expected %s, got %s", i, want[i], got)
		}
		if r.Practitioner == nil || r.Practitioner.ID != p1 {
			t.Errorf("row %d: expected practitioner summary", i)
		}
		if r.Patient == nil || r.Patient.ID != u1 {
			t.Errorf("row %d: expected patient summary", i)
		}
	}

	ranged, err := f.svc.ListBookings(ctx, booking.ListQuery{StartDate: "2024-06-02", EndDate: "2024-06-03"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("expected 2 rows in range, got %d", len(ranged))
	}

	empty, err := f.svc.ListBookings(ctx, booking.ListQuery{Date: "2025-01-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}

func TestListBookings_RejectsBadFilters(t *testing.T) {
	f := newFixture(t, config.Config{})

	for _, q := range []booking.ListQuery{
		{PractitionerID: "x"},
		{PatientID: "x"},
		{Date: "2024-02-31"},
		{StartDate: "yesterday"},
		{Status: "pending"},
	} {
		if _, err := f.svc.ListBookings(context.Background(), q); !booking.IsValidation(err) {
			t.Errorf("%+v: expected ValidationError, got %v", q, err)
		}
	}
}

func TestService_WritesEventLog(t *testing.T) {
	f := newFixture(t, config.Config{})
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, appointment(uuid.New(), uuid.New(), "2024-06-01", "10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, "", b.ID.String()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	events := f.repo.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != booking.EventBookingCreated || events[1].EventType != booking.EventBookingCancelled {
		t.Errorf("unexpected events %s, %s", events[0].EventType, events[1].EventType)
	}
}
