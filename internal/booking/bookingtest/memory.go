// Package bookingtest provides an in-memory booking.Repository with the same
// slot-conflict and group semantics as the Postgres store.
package bookingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/booking"
)

type MemoryRepository struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]booking.Booking
	profiles map[uuid.UUID]booking.Party
	events   []booking.EventLog

	// FailWith, when set, is returned by every write as a store error.
	FailWith error
	// FailInsertGroupWith, when set, is returned by InsertGroup only.
	FailInsertGroupWith error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[uuid.UUID]booking.Booking),
		profiles: make(map[uuid.UUID]booking.Party),
	}
}

func (m *MemoryRepository) AddProfile(p booking.Party) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Seed stores b as-is, bypassing the conflict check.
func (m *MemoryRepository) Seed(b booking.Booking) booking.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = booking.StatusConfirmed
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	m.rows[b.ID] = b
	return b
}

func (m *MemoryRepository) All() []booking.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(booking.Filter{})
}

func (m *MemoryRepository) Events() []booking.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]booking.EventLog(nil), m.events...)
}

func (m *MemoryRepository) sorted(f booking.Filter) []booking.Booking {
	var out []booking.Booking
	for _, b := range m.rows {
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryRepository) slotTaken(s booking.Slot, pending []booking.Booking) bool {
	for _, b := range m.rows {
		if b.Status == booking.StatusConfirmed && b.Slot() == s {
			return true
		}
	}
	for _, b := range pending {
		if b.Status == booking.StatusConfirmed && b.Slot() == s {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) fail(op string) error {
	if m.FailWith != nil {
		return &booking.StoreError{Op: op, Err: m.FailWith}
	}
	return nil
}

// insertLocked validates rows against the store and each other, then writes
// them all or none.
func (m *MemoryRepository) insertLocked(rows []booking.Booking) ([]booking.Booking, error) {
	now := time.Now()
	pending := make([]booking.Booking, 0, len(rows))
	for _, b := range rows {
		if b.Status == "" {
			b.Status = booking.StatusConfirmed
		}
		if m.slotTaken(b.Slot(), pending) {
			return nil, booking.ErrSlotConflict
		}
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.CreatedAt, b.UpdatedAt = now, now
		pending = append(pending, b)
	}
	for _, b := range pending {
		m.rows[b.ID] = b
	}
	return pending, nil
}

func (m *MemoryRepository) Query(_ context.Context, f booking.Filter) ([]booking.BookingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []booking.BookingDetail
	for _, b := range m.sorted(f) {
		d := booking.BookingDetail{Booking: b}
		if p, ok := m.profiles[b.PractitionerID]; ok {
			p := p
			d.Practitioner = &p
		}
		if b.PatientID != nil {
			if p, ok := m.profiles[*b.PatientID]; ok {
				p := p
				d.Patient = &p
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// GetByID is a test accessor; the service never reads a single row back.
func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.rows[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return &b, nil
}

func (m *MemoryRepository) Insert(_ context.Context, b booking.Booking) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("insert booking"); err != nil {
		return nil, err
	}
	created, err := m.insertLocked([]booking.Booking{b})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

func (m *MemoryRepository) InsertGroup(_ context.Context, rows []booking.Booking) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("insert group"); err != nil {
		return nil, err
	}
	if m.FailInsertGroupWith != nil {
		return nil, &booking.StoreError{Op: "insert group", Err: m.FailInsertGroupWith}
	}
	return m.insertLocked(rows)
}

func (m *MemoryRepository) Update(_ context.Context, id uuid.UUID, u booking.BookingUpdate) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("update booking"); err != nil {
		return nil, err
	}
	b, ok := m.rows[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	if b.Status == booking.StatusCancelled {
		return nil, booking.ErrBookingCancelled
	}
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.Reason != nil {
		b.Reason = *u.Reason
	}
	b.UpdatedAt = time.Now()
	m.rows[id] = b
	return &b, nil
}

func (m *MemoryRepository) SetCalendarEventID(_ context.Context, id uuid.UUID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.rows[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	b.CalendarEventID = &eventID
	b.UpdatedAt = time.Now()
	m.rows[id] = b
	return nil
}

func (m *MemoryRepository) deleteGroupLocked(bookNumber string) []booking.Booking {
	deleted := m.sorted(booking.Filter{BookNumber: &bookNumber})
	for _, b := range deleted {
		delete(m.rows, b.ID)
	}
	return deleted
}

func (m *MemoryRepository) DeleteByGroup(_ context.Context, bookNumber string) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("delete group"); err != nil {
		return nil, err
	}
	return m.deleteGroupLocked(bookNumber), nil
}

func (m *MemoryRepository) DeleteByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("delete booking"); err != nil {
		return nil, err
	}
	b, ok := m.rows[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	if b.BookNumber != nil {
		return nil, booking.GroupedRowError(*b.BookNumber)
	}
	delete(m.rows, id)
	return &b, nil
}

func (m *MemoryRepository) ReplaceGroup(_ context.Context, bookNumber string, rows []booking.Booking) ([]booking.Booking, []booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("replace group"); err != nil {
		return nil, nil, err
	}

	snapshot := make(map[uuid.UUID]booking.Booking, len(m.rows))
	for id, b := range m.rows {
		snapshot[id] = b
	}

	deleted := m.deleteGroupLocked(bookNumber)
	inserted, err := m.insertLocked(rows)
	if err == nil && m.FailInsertGroupWith != nil {
		err = &booking.StoreError{Op: "insert group", Err: m.FailInsertGroupWith}
	}
	if err != nil {
		m.rows = snapshot
		return nil, nil, err
	}
	return deleted, inserted, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev booking.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}
