package booking

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the booking store. It is the only authority on the slot
// conflict check: Insert, InsertGroup and ReplaceGroup must refuse a row whose
// slot is already held by a confirmed booking with ErrSlotConflict, atomically
// with the write. Any other failure is reported as a *StoreError.
type Repository interface {
	Query(ctx context.Context, f Filter) ([]BookingDetail, error)

	Insert(ctx context.Context, b Booking) (*Booking, error)
	// InsertGroup inserts all rows or none.
	InsertGroup(ctx context.Context, rows []Booking) ([]Booking, error)

	// Update applies the set fields and refreshes updated_at. A cancelled
	// booking is refused with ErrBookingCancelled.
	Update(ctx context.Context, id uuid.UUID, u BookingUpdate) (*Booking, error)
	SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error

	DeleteByGroup(ctx context.Context, bookNumber string) ([]Booking, error)
	// DeleteByID removes one booking without a book number. A row that belongs
	// to a group is refused with the ValidationError from GroupedRowError.
	DeleteByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ReplaceGroup deletes the group and inserts rows in one transaction.
	// On failure the old rows are left untouched.
	ReplaceGroup(ctx context.Context, bookNumber string, rows []Booking) (deleted, inserted []Booking, err error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
