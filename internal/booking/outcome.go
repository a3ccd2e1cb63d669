package booking

import (
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type State string

const (
	StateGranted    State = "granted"
	StateConflicted State = "conflicted"
	StateRejected   State = "rejected"
)

type Reason string

const (
	ReasonDoctorNotFound Reason = "DOCTOR_NOT_FOUND"
	ReasonDoctorInactive Reason = "DOCTOR_INACTIVE"
	ReasonInvalidDate    Reason = "INVALID_DATE"
	ReasonSlotNotOffered Reason = "SLOT_NOT_OFFERED"
	ReasonSlotBooked     Reason = "SLOT_BOOKED"
)

// Outcome is one of Granted, Conflicted or Rejected. The set is closed.
type Outcome interface {
	State() State
	sealed()
}

// Granted carries the appointment holding the slot. Existing is set when the
// same patient already held it, e.g. after a client retry.
type Granted struct {
	Appointment *appointment.Appointment
	Existing    bool
}

// Conflicted means the slot was taken by someone else. Suggested is the
// current open list for the same doctor and date and may be empty.
type Conflicted struct {
	Reason    Reason
	Message   string
	Suggested []slots.Slot
}

// Rejected means the request itself cannot be served.
type Rejected struct {
	Reason  Reason
	Message string
}

func (Granted) State() State    { return StateGranted }
func (Conflicted) State() State { return StateConflicted }
func (Rejected) State() State   { return StateRejected }

func (Granted) sealed()    {}
func (Conflicted) sealed() {}
func (Rejected) sealed()   {}

func reject(reason Reason, msg string) Rejected {
	return Rejected{Reason: reason, Message: msg}
}
