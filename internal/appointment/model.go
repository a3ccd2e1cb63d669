package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether an appointment in this status occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// SlotKey identifies one bookable start time of one doctor.
type SlotKey struct {
	DoctorID string
	Date     slots.Date
	Time     string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DoctorID, k.Date, k.Time)
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    string
	Date        slots.Date
	Time        string
	PatientRef  string
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
}

func (a *Appointment) Key() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

// Number is the short reference shown to patients, e.g. "APT-3F9A1C".
func (a *Appointment) Number() string {
	hex := strings.ReplaceAll(a.ID.String(), "-", "")
	return "APT-" + strings.ToUpper(hex[len(hex)-6:])
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
