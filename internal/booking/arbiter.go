// Package booking decides whether a requested slot is granted, conflicted
// or rejected.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/availability"
	"github.com/hackgods/clinic-slot-scheduling/internal/directory"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type Request struct {
	DoctorID   string
	Date       slots.Date
	Time       string
	PatientRef string
}

func (r Request) Key() appointment.SlotKey {
	return appointment.SlotKey{DoctorID: r.DoctorID, Date: r.Date, Time: r.Time}
}

type Arbiter struct {
	directory directory.Directory
	index     *availability.Index
	now       func() time.Time
}

// NewArbiter builds an arbiter. now must return clinic-local time; nil means
// time.Now.
func NewArbiter(dir directory.Directory, index *availability.Index, now func() time.Time) *Arbiter {
	if now == nil {
		now = time.Now
	}
	return &Arbiter{directory: dir, index: index, now: now}
}

// Offered returns the slots a doctor offers on date, before removing taken
// ones. A day the doctor does not work offers nothing.
func Offered(doc *directory.Doctor, date slots.Date, now time.Time) ([]slots.Slot, error) {
	if !doc.WorksOn(date) {
		if err := doc.WorkingHours.Validate(); err != nil {
			return nil, fmt.Errorf("doctor %s: %w", doc.ID, err)
		}
		return []slots.Slot{}, nil
	}
	offered, err := slots.Generate(doc.WorkingHours, date, now)
	if err != nil {
		return nil, fmt.Errorf("doctor %s: %w", doc.ID, err)
	}
	return offered, nil
}

// Decide runs validation and, when the request is sound, reserves the slot.
// Errors are reserved for infrastructure and configuration failures; every
// business answer is an Outcome.
func (a *Arbiter) Decide(ctx context.Context, req Request) (Outcome, error) {
	doc, err := a.directory.Doctor(ctx, req.DoctorID)
	if errors.Is(err, directory.ErrDoctorNotFound) {
		return reject(ReasonDoctorNotFound, fmt.Sprintf("doctor %q does not exist", req.DoctorID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doc.Active {
		return reject(ReasonDoctorInactive, "doctor is not accepting appointments"), nil
	}

	now := a.now()
	if req.Date.Before(slots.DateOf(now)) {
		return reject(ReasonInvalidDate, "appointment date is in the past"), nil
	}

	offered, err := Offered(doc, req.Date, now)
	if err != nil {
		return nil, err
	}
	holder, err := a.index.Holder(ctx, req.Key())
	if err != nil {
		return nil, err
	}

	if !slots.Contains(offered, req.Time) {
		// A retry can arrive after its slot slid inside the look-ahead; the
		// patient still holds it.
		if samePatient(holder, req) {
			return Granted{Appointment: holder, Existing: true}, nil
		}
		return reject(ReasonSlotNotOffered, fmt.Sprintf("%s on %s is not an offered slot", req.Time, req.Date)), nil
	}
	if holder != nil {
		return a.settleHeld(ctx, doc, req, holder)
	}

	created, err := a.index.Reserve(ctx, appointment.Appointment{
		DoctorID:   req.DoctorID,
		Date:       req.Date,
		Time:       req.Time,
		PatientRef: req.PatientRef,
	})
	if errors.Is(err, availability.ErrAlreadyTaken) {
		// Lost the race between Holder and Reserve; the insert is authoritative.
		holder, err = a.index.Holder(ctx, req.Key())
		if err != nil {
			return nil, err
		}
		return a.settleHeld(ctx, doc, req, holder)
	}
	if err != nil {
		return nil, err
	}
	return Granted{Appointment: created}, nil
}

// settleHeld answers a request whose slot is already occupied. holder may be
// nil if the occupant went away in between; that still counts as a conflict.
func (a *Arbiter) settleHeld(ctx context.Context, doc *directory.Doctor, req Request, holder *appointment.Appointment) (Outcome, error) {
	if samePatient(holder, req) {
		return Granted{Appointment: holder, Existing: true}, nil
	}

	suggested, err := a.Suggest(ctx, doc, req.Date)
	if err != nil {
		return nil, err
	}
	return Conflicted{
		Reason:    ReasonSlotBooked,
		Message:   fmt.Sprintf("%s on %s was just booked by another patient", req.Time, req.Date),
		Suggested: suggested,
	}, nil
}

func samePatient(holder *appointment.Appointment, req Request) bool {
	return holder != nil && req.PatientRef != "" && holder.PatientRef == req.PatientRef
}

// Suggest returns the slots still open for doc on date, computed from a
// fresh clock reading and the current taken set.
func (a *Arbiter) Suggest(ctx context.Context, doc *directory.Doctor, date slots.Date) ([]slots.Slot, error) {
	offered, err := Offered(doc, date, a.now())
	if err != nil {
		return nil, err
	}
	taken, err := a.index.Taken(ctx, doc.ID, date)
	if err != nil {
		return nil, err
	}
	return slots.Without(offered, taken), nil
}
