package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-booking/internal/booking"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is the booking snapshot sent to the calendar service. BookingID is
// the key for all three operations; a deleted booking can no longer be looked
// up, so the snapshot travels with the call.
type Event struct {
	BookingID      uuid.UUID  `json:"booking_id"`
	EventID        string     `json:"event_id,omitempty"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	Date           string     `json:"date"`
	Time           string     `json:"time"`
	ServiceType    string     `json:"service_type"`
	Reason         string     `json:"reason,omitempty"`
	BookNumber     *string    `json:"book_number,omitempty"`
	Status         string     `json:"status"`
}

func EventFromBooking(b booking.Booking) Event {
	ev := Event{
		BookingID:      b.ID,
		PractitionerID: b.PractitionerID,
		PatientID:      b.PatientID,
		Date:           b.Date,
		Time:           b.Time,
		ServiceType:    b.ServiceType,
		Reason:         b.Reason,
		BookNumber:     b.BookNumber,
		Status:         string(b.Status),
	}
	if b.CalendarEventID != nil {
		ev.EventID = *b.CalendarEventID
	}
	return ev
}

// Gateway is the external calendar. CreateEvent returns the id of the event it
// created.
type Gateway interface {
	CreateEvent(ctx context.Context, ev Event) (string, error)
	UpdateEvent(ctx context.Context, ev Event) error
	DeleteEvent(ctx context.Context, ev Event) error
}

// Error is a failed calendar call. It is logged and queued for retry, never
// returned to a booking caller.
type Error struct {
	Op        Op
	BookingID uuid.UUID
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("calendar %s event for booking %s: %v", e.Op, e.BookingID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NoopGateway is used when no calendar endpoint is configured.
type NoopGateway struct{}

func (NoopGateway) CreateEvent(context.Context, Event) (string, error) { return "", nil }
func (NoopGateway) UpdateEvent(context.Context, Event) error           { return nil }
func (NoopGateway) DeleteEvent(context.Context, Event) error           { return nil }

// HTTPGateway talks JSON to the calendar sync service.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type createEventResponse struct {
	EventID string `json:"event_id"`
}

func (g *HTTPGateway) CreateEvent(ctx context.Context, ev Event) (string, error) {
	body, err := g.do(ctx, http.MethodPost, "/events", ev)
	if err != nil {
		return "", err
	}

	var resp createEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode create event response: %w", err)
	}
	if resp.EventID == "" {
		return "", fmt.Errorf("calendar service returned no event_id")
	}
	return resp.EventID, nil
}

func (g *HTTPGateway) UpdateEvent(ctx context.Context, ev Event) error {
	_, err := g.do(ctx, http.MethodPut, "/events/"+ev.BookingID.String(), ev)
	return err
}

func (g *HTTPGateway) DeleteEvent(ctx context.Context, ev Event) error {
	_, err := g.do(ctx, http.MethodDelete, "/events/"+ev.BookingID.String(), ev)
	return err
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal calendar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read calendar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar service %s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
