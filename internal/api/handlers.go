package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/booking"
	"github.com/hackgods/clinic-slot-scheduling/internal/directory"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

const maxBodyBytes = 1 << 16

func listSlotsHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "doctorID")

		date, err := slots.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		open, err := svc.ListAvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: open})
	}
}

func createAppointmentHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.DoctorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId is required")
			return
		}
		if req.PatientRef == "" {
			writeError(w, http.StatusBadRequest, "invalid_patient_ref", "patientRef is required")
			return
		}
		date, err := slots.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		clock, err := slots.ParseClock(req.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "time must be HH:MM")
			return
		}

		outcome, err := svc.Book(r.Context(), booking.Request{
			DoctorID:   req.DoctorID,
			Date:       date,
			Time:       clock.String(),
			PatientRef: req.PatientRef,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		switch o := outcome.(type) {
		case booking.Granted:
			status := http.StatusCreated
			if o.Existing {
				status = http.StatusOK
			}
			writeJSON(w, status, toBookingResponse(o.Appointment))
		case booking.Conflicted:
			writeJSON(w, http.StatusConflict, ConflictResponse{
				Reason:         string(o.Reason),
				Message:        o.Message,
				SuggestedSlots: o.Suggested,
			})
		case booking.Rejected:
			writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
				Reason:  string(o.Reason),
				Message: o.Message,
			})
		default:
			handleServiceError(w, r, logger, errors.New("unknown booking outcome"))
		}
	}
}

func getAppointmentHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return appointmentAction(svc.GetAppointment, logger)
}

func cancelAppointmentHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return appointmentAction(svc.Cancel, logger)
}

func confirmAppointmentHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return appointmentAction(svc.Confirm, logger)
}

func completeAppointmentHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return appointmentAction(svc.Complete, logger)
}

// appointmentAction serves the /appointments/{id} family, which all take an
// id and answer with the resulting appointment.
func appointmentAction(action func(context.Context, uuid.UUID) (*appointment.Appointment, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := action(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		patientRef := q.Get("patient_ref")
		if patientRef == "" {
			writeError(w, http.StatusBadRequest, "invalid_patient_ref", "patient_ref is required")
			return
		}

		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}

		list, err := svc.ListAppointmentsByPatient(r.Context(), patientRef, limit, offset)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(list, limit, offset))
	}
}

// listDoctorAppointmentsHandler serves a doctor's book, optionally for one date.
func listDoctorAppointmentsHandler(svc SchedulingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := chi.URLParam(r, "doctorID")

		var date slots.Date
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := slots.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}

		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}

		list, err := svc.ListAppointmentsByDoctor(r.Context(), doctorID, date, limit, offset)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(list, limit, offset))
	}
}

// pageParams reads limit and offset and clamps them the way the service
// does, so responses echo the page actually served.
func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", "limit must be an integer")
		return 0, 0, false
	}
	offset, err = intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", "offset must be an integer")
		return 0, 0, false
	}
	limit, offset = scheduling.ClampPage(limit, offset)
	return limit, offset, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, directory.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrDoctorInactive):
		writeError(w, http.StatusConflict, "doctor_inactive", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrBookingBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "booking_busy", err.Error())
	case errors.Is(err, directory.ErrDirectoryUnavailable):
		logger.Warn("doctor directory unavailable", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "directory_unavailable", "doctor directory is unavailable")
	case errors.Is(err, slots.ErrInvalidScheduleConfig):
		logger.Error("invalid schedule config", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invalid_schedule_config", "doctor's working hours are misconfigured")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out, please retry")
	default:
		logger.Error("request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
