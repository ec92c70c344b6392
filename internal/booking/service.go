package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/logger"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingUpdated   = "BOOKING_UPDATED"
	EventGroupRescheduled = "GROUP_RESCHEDULED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

// CalendarSync receives committed booking changes. Implementations must
// return immediately; the outcome never reaches the caller of the service.
type CalendarSync interface {
	BookingCreated(b Booking)
	BookingUpdated(b Booking)
	BookingDeleted(b Booking)
}

type noopCalendar struct{}

func (noopCalendar) BookingCreated(Booking) {}
func (noopCalendar) BookingUpdated(Booking) {}
func (noopCalendar) BookingDeleted(Booking) {}

// ListQuery is the raw list filter as received from a caller.
type ListQuery struct {
	PractitionerID string
	PatientID      string
	BookNumber     string
	Date           string
	StartDate      string
	EndDate        string
	Status         string
}

type UpdateInput struct {
	ID     string
	Status *string
	Reason *string
}

type CancelResult struct {
	Message   string    `json:"message"`
	Cancelled []Booking `json:"cancelledBookings"`
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	calendar  CalendarSync
	validator *Validator
	log       *logger.Logger
	cfg       config.Config
}

func NewService(repo Repository, locker redisclient.Locker, calendar CalendarSync, log *logger.Logger, cfg config.Config) *Service {
	if calendar == nil {
		calendar = noopCalendar{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		calendar:  calendar,
		validator: NewValidator(),
		log:       log,
		cfg:       cfg,
	}
}

// CreateBooking books one slot. The store's unique slot index decides
// conflicts; there is no pre-check here.
func (s *Service) CreateBooking(ctx context.Context, in NewBooking) (*Booking, error) {
	b, err := s.validator.Build(s.validator.Normalize(in))
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Insert(ctx, b)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.log.Info("slot conflict",
				"practitioner_id", b.PractitionerID,
				"date", b.Date,
				"time", b.Time,
			)
			return nil, err
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logEvent(ctx, EventBookingCreated, &created.ID, created.BookNumber, map[string]any{
		"practitioner_id": created.PractitionerID.String(),
		"date":            created.Date,
		"time":            created.Time,
		"service_type":    created.ServiceType,
	})

	if !created.IsBlocked() {
		s.calendar.BookingCreated(*created)
	}

	return created, nil
}

// UpdateBooking changes status and/or reason of a single booking. It is not
// used for rescheduling.
func (s *Service) UpdateBooking(ctx context.Context, in UpdateInput) (*Booking, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, invalid("id", "is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(in.ID))
	if err != nil {
		return nil, invalid("id", "must be a valid UUID")
	}

	var u BookingUpdate
	if in.Status != nil {
		st, err := ParseStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		u.Status = &st
	}
	if in.Reason != nil {
		reason := strings.TrimSpace(*in.Reason)
		u.Reason = &reason
	}

	updated, err := s.repo.Update(ctx, id, u)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrBookingCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}

	payload := map[string]any{"status": string(updated.Status)}
	if u.Reason != nil {
		payload["reason"] = *u.Reason
	}
	s.logEvent(ctx, EventBookingUpdated, &updated.ID, updated.BookNumber, payload)

	if updated.HasCalendarEvent() {
		s.calendar.BookingUpdated(*updated)
	}

	return updated, nil
}

// RescheduleGroup replaces every booking in a group with rows. The number of
// rows may differ from the current group size.
//
// Unless AtomicReschedule is set, the delete and the insert commit
// separately: if the insert fails the old rows stay deleted and the group is
// empty. The insert itself is all-or-nothing.
func (s *Service) RescheduleGroup(ctx context.Context, bookNumber string, rows []NewBooking) (*BookingGroup, error) {
	bookNumber = strings.TrimSpace(bookNumber)
	if bookNumber == "" {
		return nil, invalid("book_number", "is required")
	}
	if len(rows) == 0 {
		return nil, invalid("reschedule_data", "must contain at least one booking")
	}

	newRows := make([]Booking, 0, len(rows))
	for i, in := range rows {
		in.BookNumber = bookNumber
		in = s.validator.Normalize(in)
		if in.ServiceType == ServiceBlocked {
			return nil, invalid(fmt.Sprintf("reschedule_data[%d].service_type", i), "blocked slots cannot belong to a group")
		}
		b, err := s.validator.Build(in)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, invalid(fmt.Sprintf("reschedule_data[%d].%s", i, ve.Field), ve.Message)
			}
			return nil, err
		}
		newRows = append(newRows, b)
	}

	var deleted, inserted []Booking
	err := s.withGroupLock(ctx, bookNumber, func(ctx context.Context) error {
		var err error
		if s.cfg.AtomicReschedule {
			deleted, inserted, err = s.repo.ReplaceGroup(ctx, bookNumber, newRows)
			return err
		}

		deleted, err = s.repo.DeleteByGroup(ctx, bookNumber)
		if err != nil {
			return err
		}

		inserted, err = s.repo.InsertGroup(ctx, newRows)
		if err != nil {
			s.log.Warn("reschedule insert failed, group left empty",
				"book_number", bookNumber,
				"removed", len(deleted),
				"error", err,
			)
		}
		return err
	})

	// Old rows that are gone from the store lose their calendar events even
	// when the replacement insert failed.
	for _, b := range deleted {
		if b.HasCalendarEvent() {
			s.calendar.BookingDeleted(b)
		}
	}

	if err != nil {
		if errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrGroupBusy) || IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reschedule group %s: %w", bookNumber, err)
	}

	s.logEvent(ctx, EventGroupRescheduled, nil, &bookNumber, map[string]any{
		"removed":  len(deleted),
		"inserted": len(inserted),
	})

	for _, b := range inserted {
		if !b.IsBlocked() {
			s.calendar.BookingCreated(b)
		}
	}

	return &BookingGroup{BookNumber: bookNumber, Bookings: inserted}, nil
}

// Cancel deletes either a whole group or a single booking. Exactly one of
// bookNumber and id must be set.
func (s *Service) Cancel(ctx context.Context, bookNumber, id string) (*CancelResult, error) {
	bookNumber = strings.TrimSpace(bookNumber)
	id = strings.TrimSpace(id)

	switch {
	case bookNumber != "" && id != "":
		return nil, invalid("", "provide either book_number or id, not both")
	case bookNumber != "":
		return s.CancelGroup(ctx, bookNumber)
	case id != "":
		return s.CancelOne(ctx, id)
	default:
		return nil, invalid("", "book_number or id is required")
	}
}

func (s *Service) CancelGroup(ctx context.Context, bookNumber string) (*CancelResult, error) {
	if bookNumber == "" {
		return nil, invalid("book_number", "is required")
	}

	var deleted []Booking
	err := s.withGroupLock(ctx, bookNumber, func(ctx context.Context) error {
		var err error
		deleted, err = s.repo.DeleteByGroup(ctx, bookNumber)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrGroupBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel group %s: %w", bookNumber, err)
	}

	s.logEvent(ctx, EventBookingCancelled, nil, &bookNumber, map[string]any{
		"cancelled": len(deleted),
	})

	return s.finishCancel(deleted), nil
}

// CancelOne deletes a booking that has no book number, typically a blocked
// slot. Group rows are refused so a group is never split.
func (s *Service) CancelOne(ctx context.Context, rawID string) (*CancelResult, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, invalid("id", "must be a valid UUID")
	}

	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) || IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel booking %s: %w", id, err)
	}

	s.logEvent(ctx, EventBookingCancelled, &deleted.ID, deleted.BookNumber, map[string]any{
		"cancelled": 1,
	})

	return s.finishCancel([]Booking{*deleted}), nil
}

func (s *Service) finishCancel(deleted []Booking) *CancelResult {
	for _, b := range deleted {
		if b.HasCalendarEvent() {
			s.calendar.BookingDeleted(b)
		}
	}

	if deleted == nil {
		deleted = []Booking{}
	}
	return &CancelResult{
		Message:   fmt.Sprintf("%d booking(s) cancelled", len(deleted)),
		Cancelled: deleted,
	}
}

// ListBookings returns bookings matching q, ordered by date and time.
func (s *Service) ListBookings(ctx context.Context, q ListQuery) ([]BookingDetail, error) {
	f, err := parseListQuery(q)
	if err != nil {
		return nil, err
	}

	bookings, err := s.repo.Query(ctx, f)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []BookingDetail{}
	}
	return bookings, nil
}

func parseListQuery(q ListQuery) (Filter, error) {
	var f Filter

	parseID := func(field, raw string) (*uuid.UUID, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, invalid(field, "must be a valid UUID")
		}
		return &id, nil
	}
	parseDate := func(field, raw string) (*string, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		if _, err := ParseDate(raw); err != nil {
			return nil, invalid(field, "must be a real calendar date in YYYY-MM-DD form")
		}
		return &raw, nil
	}

	var err error
	if f.PractitionerID, err = parseID("practitioner_id", q.PractitionerID); err != nil {
		return f, err
	}
	if f.PatientID, err = parseID("patient_id", q.PatientID); err != nil {
		return f, err
	}
	if f.Date, err = parseDate("date", q.Date); err != nil {
		return f, err
	}
	if f.StartDate, err = parseDate("start_date", q.StartDate); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDate("end_date", q.EndDate); err != nil {
		return f, err
	}
	if bn := strings.TrimSpace(q.BookNumber); bn != "" {
		f.BookNumber = &bn
	}
	if strings.TrimSpace(q.Status) != "" {
		st, err := ParseStatus(q.Status)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}

	return f, nil
}

func (s *Service) withGroupLock(ctx context.Context, bookNumber string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, "group:"+bookNumber, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrGroupBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, eventType string, bookingID *uuid.UUID, bookNumber *string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	ev := EventLog{
		EventType:  eventType,
		BookingID:  bookingID,
		BookNumber: bookNumber,
		Payload:    data,
		CreatedAt:  time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("failed to insert event log", "event_type", eventType, "error", err)
	}
}
