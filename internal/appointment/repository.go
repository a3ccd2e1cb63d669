package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("slot already has an active appointment")
)

// Store is the persisted appointment record. Implementations must make
// InsertIfAbsent atomic: at most one pending or confirmed appointment per
// SlotKey, whatever the interleaving.
type Store interface {
	// InsertIfAbsent writes a new active appointment or returns ErrSlotTaken.
	InsertIfAbsent(ctx context.Context, a Appointment) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetActive returns the pending or confirmed appointment holding key.
	GetActive(ctx context.Context, key SlotKey) (*Appointment, error)
	// ListActive returns pending and confirmed appointments of a doctor's day.
	ListActive(ctx context.Context, doctorID string, date slots.Date) ([]Appointment, error)

	// UpdateStatus moves id from one status to another; ErrAppointmentNotFound
	// when id is missing or no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// ReleaseActive cancels id if it is still pending or confirmed.
	ReleaseActive(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]Appointment, error)
	// ListByDoctor returns a doctor's appointments of every status in
	// schedule order. A zero date lists all dates.
	ListByDoctor(ctx context.Context, doctorID string, date slots.Date, limit, offset int) ([]Appointment, error)
	// ListActiveBefore returns active appointments dated before date, oldest first.
	ListActiveBefore(ctx context.Context, date slots.Date, limit int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
