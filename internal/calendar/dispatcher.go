package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/logger"
	redisclient "github.com/hackgods/practitioner-booking/internal/redis"
)

// EventRecorder stores the calendar event id once the gateway confirms it.
type EventRecorder interface {
	SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error
}

// Queue holds failed jobs for the retry worker.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context) ([]byte, error)
}

// Job is one calendar call. ID stays the same across retries.
type Job struct {
	ID        string `json:"id"`
	Op        Op     `json:"op"`
	Event     Event  `json:"event"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

func newJob(op Op, ev Event) Job {
	return Job{ID: uuid.NewString(), Op: op, Event: ev}
}

type DispatcherConfig struct {
	Timeout     time.Duration
	Concurrency int
	MaxAttempts int
}

// Dispatcher runs calendar calls off the request path. Each call gets its
// own goroutine, detached from the caller's context and bounded by Timeout.
// At most Concurrency calls are in flight; a call that finds no free slot is
// sent straight to the retry queue.
type Dispatcher struct {
	gateway  Gateway
	recorder EventRecorder
	queue    Queue
	log      *logger.Logger
	cfg      DispatcherConfig
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

var errSaturated = errors.New("calendar dispatcher saturated")

func NewDispatcher(gateway Gateway, recorder EventRecorder, queue Queue, log *logger.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		gateway:  gateway,
		recorder: recorder,
		queue:    queue,
		log:      log,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

func (d *Dispatcher) BookingCreated(b booking.Booking) {
	if b.IsBlocked() {
		return
	}
	d.dispatch(newJob(OpCreate, EventFromBooking(b)))
}

func (d *Dispatcher) BookingUpdated(b booking.Booking) {
	if !b.HasCalendarEvent() {
		return
	}
	d.dispatch(newJob(OpUpdate, EventFromBooking(b)))
}

func (d *Dispatcher) BookingDeleted(b booking.Booking) {
	if !b.HasCalendarEvent() {
		return
	}
	d.dispatch(newJob(OpDelete, EventFromBooking(b)))
}

// Wait blocks until every dispatched call has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(job Job) {
	if !d.sem.TryAcquire(1) {
		d.log.Warn("calendar dispatcher saturated, deferring to retry queue",
			"op", job.Op,
			"booking_id", job.Event.BookingID,
		)
		d.requeue(job, errSaturated)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		job.Attempts++
		if err := d.Run(context.Background(), job); err != nil {
			d.log.Warn("calendar sync failed",
				"op", job.Op,
				"booking_id", job.Event.BookingID,
				"attempt", job.Attempts,
				"error", err,
			)
			d.requeue(job, err)
		}
	}()
}

// Run performs one calendar call for job and, for creates, records the
// returned event id on the booking.
func (d *Dispatcher) Run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var err error
	switch job.Op {
	case OpCreate:
		var eventID string
		eventID, err = d.gateway.CreateEvent(ctx, job.Event)
		if err == nil && eventID != "" {
			if errors.Is(d.recordEventID(ctx, job.Event.BookingID, eventID), booking.ErrBookingNotFound) {
				ev := job.Event
				ev.EventID = eventID
				d.removeOrphan(ctx, ev)
			}
		}
	case OpUpdate:
		err = d.gateway.UpdateEvent(ctx, job.Event)
	case OpDelete:
		err = d.gateway.DeleteEvent(ctx, job.Event)
	default:
		err = fmt.Errorf("unknown op %q", job.Op)
	}

	if err != nil {
		return &Error{Op: job.Op, BookingID: job.Event.BookingID, Err: err}
	}
	return nil
}

// The event exists on the calendar at this point, so a failure to record its
// id is logged and not retried: replaying the create would duplicate it.
func (d *Dispatcher) recordEventID(ctx context.Context, bookingID uuid.UUID, eventID string) error {
	if d.recorder == nil {
		return nil
	}
	err := d.recorder.SetCalendarEventID(ctx, bookingID, eventID)
	switch {
	case err == nil:
	case errors.Is(err, booking.ErrBookingNotFound):
		d.log.Info("booking removed before calendar event id was recorded",
			"booking_id", bookingID,
			"event_id", eventID,
		)
	default:
		d.log.Error("failed to record calendar event id",
			"booking_id", bookingID,
			"event_id", eventID,
			"error", err,
		)
	}
	return err
}

// removeOrphan deletes an event whose booking was cancelled while the create
// was in flight. The create's deadline may already be spent, so the delete
// gets its own.
func (d *Dispatcher) removeOrphan(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	if err := d.gateway.DeleteEvent(ctx, ev); err != nil {
		d.log.Warn("failed to delete orphaned calendar event",
			"booking_id", ev.BookingID,
			"event_id", ev.EventID,
			"error", err,
		)
		d.requeue(newJob(OpDelete, ev), &Error{Op: OpDelete, BookingID: ev.BookingID, Err: err})
	}
}

func (d *Dispatcher) requeue(job Job, cause error) {
	if job.Attempts >= d.cfg.MaxAttempts {
		d.log.Error("calendar sync abandoned",
			"op", job.Op,
			"booking_id", job.Event.BookingID,
			"attempts", job.Attempts,
			"error", cause,
		)
		return
	}
	if d.queue == nil {
		return
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.LastError = cause.Error()
	data, err := json.Marshal(job)
	if err != nil {
		d.log.Error("failed to marshal calendar job", "booking_id", job.Event.BookingID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.queue.Push(ctx, data); err != nil {
		d.log.Error("failed to queue calendar retry", "booking_id", job.Event.BookingID, "error", err)
	}
}

// Drain replays up to limit queued jobs synchronously and returns how many
// were taken off the queue. A job that fails again goes straight back on the
// queue until it runs out of attempts. The pass ends when it pops a job it
// already ran, since everything queued before the pass has then been seen.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (int, error) {
	if d.queue == nil {
		return 0, nil
	}

	seen := make(map[string]struct{})
	processed := 0
	for processed < limit {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		data, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, redisclient.ErrQueueEmpty) {
				return processed, nil
			}
			return processed, fmt.Errorf("pop calendar job: %w", err)
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			processed++
			d.log.Error("dropping malformed calendar job", "error", err)
			continue
		}

		if _, ok := seen[job.ID]; ok {
			if err := d.pushBack(data); err != nil {
				return processed, err
			}
			return processed, nil
		}
		processed++

		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.Attempts++
		if err := d.Run(ctx, job); err != nil {
			d.log.Warn("calendar retry failed",
				"op", job.Op,
				"booking_id", job.Event.BookingID,
				"attempt", job.Attempts,
				"error", err,
			)
			seen[job.ID] = struct{}{}
			d.requeue(job, err)
		}
	}

	return processed, nil
}

// pushBack returns a popped job to the queue untouched.
func (d *Dispatcher) pushBack(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.queue.Push(ctx, data); err != nil {
		return fmt.Errorf("push back calendar job: %w", err)
	}
	return nil
}
