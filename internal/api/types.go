package api

import "github.com/hackgods/practitioner-booking/internal/booking"

// UpdateBookingRequest is the PUT /bookings body. It either targets one
// booking by id or replaces a whole group by book_number.
type UpdateBookingRequest struct {
	ID             string               `json:"id"`
	Status         *string              `json:"status"`
	Reason         *string              `json:"reason"`
	BookNumber     string               `json:"book_number"`
	RescheduleData []booking.NewBooking `json:"reschedule_data"`
}

func (r UpdateBookingRequest) isReschedule() bool {
	return r.BookNumber != "" || r.RescheduleData != nil
}

type RescheduleResponse struct {
	Count    int               `json:"count"`
	Bookings []booking.Booking `json:"bookings"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
