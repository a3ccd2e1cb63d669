// Package availability answers which (doctor, date, time) triples are taken
// and is the only writer of appointment status.
package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var ErrAlreadyTaken = errors.New("slot already taken")

// Index is a view over the appointment store. Only pending and confirmed
// appointments count as taken; the store row is the index entry.
type Index struct {
	store appointment.Store
}

func New(store appointment.Store) *Index {
	return &Index{store: store}
}

func (ix *Index) IsTaken(ctx context.Context, key appointment.SlotKey) (bool, error) {
	holder, err := ix.Holder(ctx, key)
	if err != nil {
		return false, err
	}
	return holder != nil, nil
}

// Holder returns the active appointment occupying key, or nil when free.
func (ix *Index) Holder(ctx context.Context, key appointment.SlotKey) (*appointment.Appointment, error) {
	a, err := ix.store.GetActive(ctx, key)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup slot %s: %w", key, err)
	}
	return a, nil
}

// Taken returns the start times held on a doctor's day.
func (ix *Index) Taken(ctx context.Context, doctorID string, date slots.Date) (map[string]struct{}, error) {
	active, err := ix.store.ListActive(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list taken slots: %w", err)
	}

	taken := make(map[string]struct{}, len(active))
	for _, a := range active {
		taken[a.Time] = struct{}{}
	}
	return taken, nil
}

// Reserve inserts a pending appointment for a's triple. It is all or nothing:
// either the appointment exists afterwards or ErrAlreadyTaken/another error
// is returned and nothing was written.
func (ix *Index) Reserve(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	a.Status = appointment.StatusPending
	created, err := ix.store.InsertIfAbsent(ctx, a)
	if errors.Is(err, appointment.ErrSlotTaken) {
		return nil, ErrAlreadyTaken
	}
	if err != nil {
		return nil, fmt.Errorf("reserve slot %s: %w", a.Key(), err)
	}
	return created, nil
}

// Release cancels the appointment id holding key. It returns nil, nil when
// that appointment no longer holds the slot, so a stale release never frees
// a later booking of the same triple.
func (ix *Index) Release(ctx context.Context, key appointment.SlotKey, id uuid.UUID) (*appointment.Appointment, error) {
	holder, err := ix.Holder(ctx, key)
	if err != nil {
		return nil, err
	}
	if holder == nil || holder.ID != id {
		return nil, nil
	}

	released, err := ix.store.ReleaseActive(ctx, id)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release slot %s: %w", key, err)
	}
	return released, nil
}

// Transition moves id between statuses. Moving out of the active set frees
// the triple.
func (ix *Index) Transition(ctx context.Context, id uuid.UUID, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	return ix.store.UpdateStatus(ctx, id, from, to)
}
