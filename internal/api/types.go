package api

import (
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type CreateAppointmentRequest struct {
	DoctorID   string `json:"doctorId"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	PatientRef string `json:"patientRef"`
}

type SlotsResponse struct {
	DoctorID string       `json:"doctorId"`
	Date     slots.Date   `json:"date"`
	Slots    []slots.Slot `json:"slots"`
}

type BookingResponse struct {
	AppointmentID     string     `json:"appointmentId"`
	AppointmentNumber string     `json:"appointmentNumber"`
	DoctorID          string     `json:"doctorId"`
	Date              slots.Date `json:"date"`
	Time              string     `json:"time"`
	Status            string     `json:"status"`
}

// ConflictResponse tells the caller the slot was just taken. UIs replace
// their slot list with SuggestedSlots as is.
type ConflictResponse struct {
	Reason         string       `json:"reason"`
	Message        string       `json:"message"`
	SuggestedSlots []slots.Slot `json:"suggestedSlots"`
}

type RejectionResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type AppointmentResponse struct {
	ID          string     `json:"id"`
	Number      string     `json:"appointmentNumber"`
	DoctorID    string     `json:"doctorId"`
	Date        slots.Date `json:"date"`
	Time        string     `json:"time"`
	PatientRef  string     `json:"patientRef"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentList(list []appointment.Appointment, limit, offset int) AppointmentListResponse {
	resp := AppointmentListResponse{
		Appointments: make([]AppointmentResponse, 0, len(list)),
		Limit:        limit,
		Offset:       offset,
	}
	for i := range list {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&list[i]))
	}
	return resp
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID.String(),
		Number:      a.Number(),
		DoctorID:    a.DoctorID,
		Date:        a.Date,
		Time:        a.Time,
		PatientRef:  a.PatientRef,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ConfirmedAt: a.ConfirmedAt,
		CancelledAt: a.CancelledAt,
	}
}

func toBookingResponse(a *appointment.Appointment) BookingResponse {
	return BookingResponse{
		AppointmentID:     a.ID.String(),
		AppointmentNumber: a.Number(),
		DoctorID:          a.DoctorID,
		Date:              a.Date,
		Time:              a.Time,
		Status:            string(a.Status),
	}
}
