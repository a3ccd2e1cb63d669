// Package scheduling is the public operation set of the clinic scheduler:
// slot queries, bookings and appointment status changes.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/availability"
	"github.com/hackgods/clinic-slot-scheduling/internal/booking"
	"github.com/hackgods/clinic-slot-scheduling/internal/directory"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventBookingConflict      = "BOOKING_CONFLICT"
)

var (
	ErrBookingBusy             = errors.New("doctor's schedule is busy, please retry")
	ErrDoctorInactive          = errors.New("doctor is not accepting appointments")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

const closeOutBatch = 100

var tracer = otel.Tracer("clinic.internal.scheduling")

type Options struct {
	Directory directory.Directory
	Store     appointment.Store
	Locker    redisclient.Locker
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	// Now returns clinic-local time. Defaults to time.Now.
	Now            func() time.Time
	BookingTimeout time.Duration
}

type Service struct {
	directory      directory.Directory
	store          appointment.Store
	index          *availability.Index
	arbiter        *booking.Arbiter
	locker         redisclient.Locker
	logger         *zap.Logger
	metrics        *metrics.Collector
	now            func() time.Time
	bookingTimeout time.Duration
}

func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BookingTimeout <= 0 {
		opts.BookingTimeout = 5 * time.Second
	}

	index := availability.New(opts.Store)
	return &Service{
		directory:      opts.Directory,
		store:          opts.Store,
		index:          index,
		arbiter:        booking.NewArbiter(opts.Directory, index, opts.Now),
		locker:         opts.Locker,
		logger:         opts.Logger.Named("scheduling"),
		metrics:        opts.Metrics,
		now:            opts.Now,
		bookingTimeout: opts.BookingTimeout,
	}
}

// ListAvailableSlots returns the open slots of a doctor's day. It never
// waits on bookings; the booking path re-validates whatever it returns.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID string, date slots.Date) ([]slots.Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.list_available_slots", trace.WithAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.date", date.String()),
	))
	defer span.End()

	open, err := s.listAvailable(ctx, doctorID, date)
	if err != nil {
		s.metrics.ObserveSlotQuery(queryResult(err))
		fail(span, err)
		return nil, err
	}
	s.metrics.ObserveSlotQuery("ok")
	span.SetAttributes(attribute.Int("clinic.slots", len(open)))
	return open, nil
}

func (s *Service) listAvailable(ctx context.Context, doctorID string, date slots.Date) ([]slots.Slot, error) {
	doc, err := s.directory.Doctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor %s: %w", doctorID, err)
	}
	if !doc.Active {
		return nil, ErrDoctorInactive
	}

	open, err := s.arbiter.Suggest(ctx, doc, date)
	if errors.Is(err, slots.ErrInvalidScheduleConfig) {
		s.logger.Error("doctor has malformed working hours",
			zap.String("doctor_id", doctorID),
			zap.Error(err),
		)
	}
	return open, err
}

func queryResult(err error) string {
	switch {
	case errors.Is(err, directory.ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrDoctorInactive):
		return "doctor_inactive"
	case errors.Is(err, slots.ErrInvalidScheduleConfig):
		return "invalid_schedule"
	default:
		return "error"
	}
}

// Book runs the arbiter for req while holding the (doctor, date) lock. A
// business answer is always an Outcome; errors mean the attempt could not be
// decided and may be retried.
func (s *Service) Book(ctx context.Context, req booking.Request) (booking.Outcome, error) {
	ctx, span := tracer.Start(ctx, "scheduling.book", trace.WithAttributes(
		attribute.String("clinic.doctor_id", req.DoctorID),
		attribute.String("clinic.date", req.Date.String()),
		attribute.String("clinic.time", req.Time),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.bookingTimeout)
	defer cancel()

	var outcome booking.Outcome
	waitStart := time.Now()
	err := s.locker.WithDayLock(ctx, req.DoctorID, req.Date, func(lockCtx context.Context) error {
		s.metrics.ObserveLockWait("acquired", time.Since(waitStart).Seconds())

		out, err := s.arbiter.Decide(lockCtx, req)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.ObserveLockWait("timeout", time.Since(waitStart).Seconds())
		s.logger.Warn("doctor day lock busy",
			zap.String("doctor_id", req.DoctorID),
			zap.String("date", req.Date.String()),
		)
		fail(span, ErrBookingBusy)
		return nil, ErrBookingBusy
	}
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("book %s: %w", req.Key(), err)
	}

	span.SetAttributes(attribute.String("clinic.outcome", string(outcome.State())))
	s.recordOutcome(ctx, req, outcome)
	return outcome, nil
}

func (s *Service) recordOutcome(ctx context.Context, req booking.Request, outcome booking.Outcome) {
	fields := []zap.Field{
		zap.String("doctor_id", req.DoctorID),
		zap.String("date", req.Date.String()),
		zap.String("time", req.Time),
	}

	switch o := outcome.(type) {
	case booking.Granted:
		s.metrics.ObserveBooking(string(o.State()), "")
		if o.Existing {
			s.logger.Info("booking reconciled with existing appointment",
				append(fields, zap.String("appointment_id", o.Appointment.ID.String()))...)
			return
		}
		s.logger.Info("appointment booked",
			append(fields, zap.String("appointment_id", o.Appointment.ID.String()))...)
		s.logEvent(ctx, &o.Appointment.ID, EventAppointmentCreated, map[string]any{
			"doctor_id":   req.DoctorID,
			"date":        req.Date.String(),
			"time":        req.Time,
			"patient_ref": req.PatientRef,
		})
	case booking.Conflicted:
		s.metrics.ObserveBooking(string(o.State()), string(o.Reason))
		s.logger.Info("booking conflicted",
			append(fields, zap.Int("suggested", len(o.Suggested)))...)
		s.logEvent(ctx, nil, EventBookingConflict, map[string]any{
			"doctor_id": req.DoctorID,
			"date":      req.Date.String(),
			"time":      req.Time,
			"suggested": len(o.Suggested),
		})
	case booking.Rejected:
		s.metrics.ObserveBooking(string(o.State()), string(o.Reason))
		s.logger.Debug("booking rejected", append(fields, zap.String("reason", string(o.Reason)))...)
	}
}

// Cancel moves an appointment to cancelled and frees its slot. Cancelling a
// cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel", trace.WithAttributes(
		attribute.String("clinic.appointment_id", id.String()),
	))
	defer span.End()

	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch appt.Status {
	case appointment.StatusCancelled:
		return appt, nil
	case appointment.StatusCompleted:
		return nil, ErrInvalidStatusTransition
	}

	released, err := s.index.Release(ctx, appt.Key(), appt.ID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if released == nil {
		// Someone else moved it first; answer from its current state.
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if current.Status == appointment.StatusCancelled {
			return current, nil
		}
		return nil, ErrInvalidStatusTransition
	}

	s.metrics.ObserveStatusChange(string(released.Status))
	s.logEvent(ctx, &released.ID, EventAppointmentCancelled, map[string]any{
		"previous_status": string(appt.Status),
	})
	return released, nil
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.transition(ctx, id, appointment.StatusPending, appointment.StatusConfirmed, EventAppointmentConfirmed)
}

// Complete marks a confirmed appointment as completed, freeing the slot.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.transition(ctx, id, appointment.StatusConfirmed, appointment.StatusCompleted, EventAppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to appointment.AppointmentStatus, event string) (*appointment.Appointment, error) {
	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == to {
		return appt, nil
	}
	if appt.Status != from {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.index.Transition(ctx, id, from, to)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, ErrInvalidStatusTransition
	}
	if err != nil {
		return nil, fmt.Errorf("%s appointment: %w", to, err)
	}

	s.metrics.ObserveStatusChange(string(to))
	s.logEvent(ctx, &updated.ID, event, map[string]any{})
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ClampPage applies the listing defaults: limit 20 when unset, at most 100,
// and no negative offset.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientRef string, limit, offset int) ([]appointment.Appointment, error) {
	limit, offset = ClampPage(limit, offset)

	appointments, err := s.store.ListByPatient(ctx, patientRef, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctor is the doctor's book for the portals: every
// appointment of doctorID in schedule order, on date or on all dates when
// date is zero. Inactive doctors can still see their book.
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID string, date slots.Date, limit, offset int) ([]appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.list_by_doctor", trace.WithAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.String("clinic.date", date.String()),
	))
	defer span.End()

	if _, err := s.directory.Doctor(ctx, doctorID); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("load doctor %s: %w", doctorID, err)
	}

	limit, offset = ClampPage(limit, offset)
	appointments, err := s.store.ListByDoctor(ctx, doctorID, date, limit, offset)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

type CloseOutResult struct {
	Cancelled int
	Completed int
	Failed    int
}

// CloseOutPastAppointments settles appointments dated before today: pending
// ones were never confirmed and are cancelled, confirmed ones are completed.
// It is intended to be called by the worker periodically.
func (s *Service) CloseOutPastAppointments(ctx context.Context) (CloseOutResult, error) {
	ctx, span := tracer.Start(ctx, "scheduling.close_out")
	defer span.End()

	var res CloseOutResult
	today := slots.DateOf(s.now())

	for {
		batch, err := s.store.ListActiveBefore(ctx, today, closeOutBatch)
		if err != nil {
			fail(span, err)
			return res, fmt.Errorf("find past active appointments: %w", err)
		}

		progress := 0
		for _, appt := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			to, event := appointment.StatusCancelled, EventAppointmentCancelled
			if appt.Status == appointment.StatusConfirmed {
				to, event = appointment.StatusCompleted, EventAppointmentCompleted
			}

			_, err := s.index.Transition(ctx, appt.ID, appt.Status, to)
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				continue
			}
			if err != nil {
				res.Failed++
				s.logger.Error("close out appointment failed",
					zap.String("appointment_id", appt.ID.String()),
					zap.Error(err),
				)
				continue
			}

			progress++
			if to == appointment.StatusCompleted {
				res.Completed++
			} else {
				res.Cancelled++
			}
			s.metrics.ObserveStatusChange(string(to))
			s.logEvent(ctx, &appt.ID, event, map[string]any{
				"reason": "past_date",
			})
		}

		if len(batch) < closeOutBatch || progress == 0 {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("clinic.cancelled", res.Cancelled),
		attribute.Int("clinic.completed", res.Completed),
	)
	return res, nil
}

// logEvent appends to the audit log. Failures are logged and never fail the
// calling operation.
func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Error(err),
		)
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
