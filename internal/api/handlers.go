package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/logger"
)

const maxBodyBytes = 1 << 20

// BookingService is what the HTTP layer needs from the booking service.
type BookingService interface {
	ListBookings(ctx context.Context, q booking.ListQuery) ([]booking.BookingDetail, error)
	CreateBooking(ctx context.Context, in booking.NewBooking) (*booking.Booking, error)
	UpdateBooking(ctx context.Context, in booking.UpdateInput) (*booking.Booking, error)
	RescheduleGroup(ctx context.Context, bookNumber string, rows []booking.NewBooking) (*booking.BookingGroup, error)
	Cancel(ctx context.Context, bookNumber, id string) (*booking.CancelResult, error)
}

func listBookingsHandler(svc BookingService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		bookings, err := svc.ListBookings(r.Context(), booking.ListQuery{
			PractitionerID: q.Get("practitioner_id"),
			PatientID:      q.Get("patient_id"),
			BookNumber:     q.Get("book_number"),
			Date:           q.Get("date"),
			StartDate:      q.Get("start_date"),
			EndDate:        q.Get("end_date"),
			Status:         q.Get("status"),
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, bookings)
	}
}

func createBookingHandler(svc BookingService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req booking.NewBooking
		if !decodeBody(w, r, &req) {
			return
		}

		b, err := svc.CreateBooking(r.Context(), req)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, b)
	}
}

func updateBookingHandler(svc BookingService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}

		req.ID = strings.TrimSpace(req.ID)
		req.BookNumber = strings.TrimSpace(req.BookNumber)

		switch {
		case req.isReschedule() && req.ID != "":
			writeError(w, http.StatusBadRequest, "validation_error", "provide either id or book_number, not both")

		case req.isReschedule():
			group, err := svc.RescheduleGroup(r.Context(), req.BookNumber, req.RescheduleData)
			if err != nil {
				handleError(w, r, log, err)
				return
			}
			writeJSON(w, http.StatusOK, RescheduleResponse{
				Count:    group.Count(),
				Bookings: group.Bookings,
			})

		case req.ID != "":
			b, err := svc.UpdateBooking(r.Context(), booking.UpdateInput{
				ID:     req.ID,
				Status: req.Status,
				Reason: req.Reason,
			})
			if err != nil {
				handleError(w, r, log, err)
				return
			}
			writeJSON(w, http.StatusOK, b)

		default:
			writeError(w, http.StatusBadRequest, "validation_error", "id or book_number is required")
		}
	}
}

func cancelBookingHandler(svc BookingService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		res, err := svc.Cancel(r.Context(), q.Get("book_number"), q.Get("id"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func handleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var ve *booking.ValidationError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrGroupBusy):
		writeError(w, http.StatusConflict, "group_busy", err.Error())
	case errors.Is(err, booking.ErrBookingCancelled):
		writeError(w, http.StatusConflict, "booking_cancelled", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	default:
		code := "internal_error"
		if booking.IsStoreError(err) {
			code = "store_error"
		}
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, code, "internal server error")
	}
}
