package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Validator checks and normalizes caller input before it reaches the store.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Both registrations use static functions and valid tags, so they cannot fail.
	_ = v.RegisterValidation("slotdate", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("slottime", func(fl validator.FieldLevel) bool {
		_, err := NormalizeTime(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v}
}

// ParseDate parses a date-only value and rejects impossible calendar dates.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// NormalizeTime accepts HH:MM or HH:MM:SS and returns HH:MM.
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", fmt.Errorf("invalid time %q", s)
}

// Normalize applies the blocked-slot shape and trims free text. It runs
// before validation so a blocked slot never fails on fields it ignores.
func (v *Validator) Normalize(in NewBooking) NewBooking {
	in.PractitionerID = strings.TrimSpace(in.PractitionerID)
	in.PatientID = strings.TrimSpace(in.PatientID)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	in.ServiceType = strings.TrimSpace(in.ServiceType)
	in.Reason = strings.TrimSpace(in.Reason)
	in.BookNumber = strings.TrimSpace(in.BookNumber)

	if in.ServiceType == ServiceBlocked {
		in.PatientID = ""
		in.Price = nil
		in.BookNumber = ""
		in.Reason = DefaultBlockedReason
	}
	return in
}

// Build validates a normalized input and converts it into a Booking ready for
// insertion. The returned booking has a fresh id and confirmed status.
func (v *Validator) Build(in NewBooking) (Booking, error) {
	if err := v.validate.Struct(in); err != nil {
		return Booking{}, toValidationError(err)
	}

	practitionerID, err := uuid.Parse(in.PractitionerID)
	if err != nil {
		return Booking{}, invalid("practitioner_id", "must be a valid UUID")
	}

	slotTime, err := NormalizeTime(in.Time)
	if err != nil {
		return Booking{}, invalid("time", "must be HH:MM")
	}

	b := Booking{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Date:           in.Date,
		Time:           slotTime,
		ServiceType:    in.ServiceType,
		Price:          in.Price,
		Reason:         in.Reason,
		Status:         StatusConfirmed,
	}

	if in.PatientID != "" {
		patientID, err := uuid.Parse(in.PatientID)
		if err != nil {
			return Booking{}, invalid("patient_id", "must be a valid UUID")
		}
		b.PatientID = &patientID
	}
	if in.BookNumber != "" {
		bn := in.BookNumber
		b.BookNumber = &bn
	}

	return b, nil
}

// ParseStatus validates a caller-supplied status value.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalid("status", fmt.Sprintf("must be one of %s, %s", StatusConfirmed, StatusCancelled))
	}
	return st, nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("", err.Error())
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "required_unless":
		return invalid(fe.Field(), "is required")
	case "uuid":
		return invalid(fe.Field(), "must be a valid UUID")
	case "slotdate":
		return invalid(fe.Field(), "must be a real calendar date in YYYY-MM-DD form")
	case "slottime":
		return invalid(fe.Field(), "must be a time of day in HH:MM form")
	case "gte":
		return invalid(fe.Field(), "must not be negative")
	case "max":
		return invalid(fe.Field(), fmt.Sprintf("must be at most %s characters", fe.Param()))
	default:
		return invalid(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}
