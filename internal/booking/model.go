package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

const (
	// ServiceBlocked marks a slot the practitioner has taken out for personal time.
	ServiceBlocked = "blocked"

	DefaultBlockedReason = "Personal appointment"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Slot is the atomic bookable unit. At most one confirmed booking may hold a
// given slot.
type Slot struct {
	PractitionerID uuid.UUID
	Date           string // YYYY-MM-DD
	Time           string // HH:MM, practitioner local
}

type Booking struct {
	ID              uuid.UUID  `json:"id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	PatientID       *uuid.UUID `json:"patient_id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	ServiceType     string     `json:"service_type"`
	Price           *float64   `json:"price"`
	Reason          string     `json:"reason"`
	BookNumber      *string    `json:"book_number"`
	Status          Status     `json:"status"`
	CalendarEventID *string    `json:"calendar_event_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (b Booking) Slot() Slot {
	return Slot{PractitionerID: b.PractitionerID, Date: b.Date, Time: b.Time}
}

func (b Booking) IsBlocked() bool {
	return b.ServiceType == ServiceBlocked
}

// HasCalendarEvent reports whether a calendar event was confirmed for this
// booking and should be kept in sync.
func (b Booking) HasCalendarEvent() bool {
	return !b.IsBlocked() && b.CalendarEventID != nil && *b.CalendarEventID != ""
}

// Party is the profile summary attached to listed bookings.
type Party struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    *string   `json:"email,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
}

type BookingDetail struct {
	Booking
	Patient      *Party `json:"patient"`
	Practitioner *Party `json:"practitioner"`
}

// BookingGroup is the set of rows sharing a book_number. Reschedule and
// group cancel operate on the whole group.
type BookingGroup struct {
	BookNumber string    `json:"book_number"`
	Bookings   []Booking `json:"bookings"`
}

func (g BookingGroup) Count() int {
	return len(g.Bookings)
}

// Filter narrows a booking query. Zero values are ignored.
type Filter struct {
	PractitionerID *uuid.UUID
	PatientID      *uuid.UUID
	BookNumber     *string
	Date           *string
	StartDate      *string
	EndDate        *string
	Status         *Status
}

// Matches reports whether b satisfies every set field of f.
func (f Filter) Matches(b Booking) bool {
	if f.PractitionerID != nil && b.PractitionerID != *f.PractitionerID {
		return false
	}
	if f.PatientID != nil && (b.PatientID == nil || *b.PatientID != *f.PatientID) {
		return false
	}
	if f.BookNumber != nil && (b.BookNumber == nil || *b.BookNumber != *f.BookNumber) {
		return false
	}
	if f.Date != nil && b.Date != *f.Date {
		return false
	}
	// YYYY-MM-DD sorts lexically
	if f.StartDate != nil && b.Date < *f.StartDate {
		return false
	}
	if f.EndDate != nil && b.Date > *f.EndDate {
		return false
	}
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	return true
}

// NewBooking is the caller-supplied shape of a booking to create. Identifiers
// arrive as strings and are parsed once validation passes.
type NewBooking struct {
	PractitionerID string   `json:"practitioner_id" validate:"required,uuid"`
	PatientID      string   `json:"patient_id" validate:"required_unless=ServiceType blocked,omitempty,uuid"`
	Date           string   `json:"date" validate:"required,slotdate"`
	Time           string   `json:"time" validate:"required,slottime"`
	ServiceType    string   `json:"service_type" validate:"required,max=100"`
	Price          *float64 `json:"price" validate:"required_unless=ServiceType blocked,omitempty,gte=0"`
	Reason         string   `json:"reason" validate:"max=1000"`
	BookNumber     string   `json:"book_number" validate:"max=100"`
}

// BookingUpdate carries the only fields a caller may change after creation.
type BookingUpdate struct {
	Status *Status
	Reason *string
}

type EventLog struct {
	ID         int64
	EventType  string
	BookingID  *uuid.UUID
	BookNumber *string
	Payload    []byte
	CreatedAt  time.Time
}
