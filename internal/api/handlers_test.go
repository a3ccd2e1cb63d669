package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/directory"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var monday = time.Date(2025, time.June, 9, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T, limiter *RateLimiter, checks ...Check) *testServer {
	t.Helper()
	inactive := directory.Doctor{
		ID:           "D2",
		WorkingHours: slots.WorkingHours{Start: "09:00", End: "10:00", ConsultationMinutes: 30},
	}
	dir := directory.NewStatic(directory.Doctor{
		ID:           "D1",
		Name:         "Dr. Asha Rao",
		WorkingHours: slots.WorkingHours{Start: "09:00", End: "10:00", ConsultationMinutes: 30},
		Active:       true,
	}, inactive)

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	svc := scheduling.NewService(scheduling.Options{
		Directory: dir,
		Store:     appointment.NewMemoryRepository(),
		Locker:    scheduling.NewLocalLocker(time.Second),
		Metrics:   m,
		Now:       func() time.Time { return monday },
	})

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:   svc,
			Logger:    zap.NewNop(),
			Metrics:   m,
			Gatherer:  reg,
			Checks:    checks,
			RateLimit: limiter,
			Env:       "test",
			Version:   "dev",
		}),
		reg: reg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bookBody(hhmm, patient string) CreateAppointmentRequest {
	return CreateAppointmentRequest{DoctorID: "D1", Date: "2025-06-10", Time: hhmm, PatientRef: patient}
}

func TestListSlots(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/doctors/D1/slots?date=2025-06-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SlotsResponse](t, rec)
	require.Len(t, resp.Slots, 2)
	assert.Equal(t, "09:00", resp.Slots[0].Time)
	assert.Equal(t, "9:00 AM", resp.Slots[0].Label)
	assert.Equal(t, "09:30", resp.Slots[1].Time)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListSlotsErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/doctors/D1/slots?date=10-06-2025", http.StatusBadRequest, "invalid_date"},
		{"/doctors/D1/slots", http.StatusBadRequest, "invalid_date"},
		{"/doctors/D9/slots?date=2025-06-10", http.StatusNotFound, "doctor_not_found"},
		{"/doctors/D2/slots?date=2025-06-10", http.StatusConflict, "doctor_inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAppointmentGrantThenConflict(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "alice"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decode[BookingResponse](t, rec)
	assert.NotEmpty(t, granted.AppointmentID)
	assert.Regexp(t, `^APT-[0-9A-F]{6}$`, granted.AppointmentNumber)
	assert.Equal(t, "D1", granted.DoctorID)
	assert.Equal(t, "09:00", granted.Time)
	assert.Equal(t, "pending", granted.Status)

	// The same patient retrying gets the same appointment back.
	rec = srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, granted.AppointmentID, decode[BookingResponse](t, rec).AppointmentID)

	rec = srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "bob"))
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ConflictResponse](t, rec)
	assert.Equal(t, "SLOT_BOOKED", conflict.Reason)
	assert.NotEmpty(t, conflict.Message)
	require.Len(t, conflict.SuggestedSlots, 1)
	assert.Equal(t, "09:30", conflict.SuggestedSlots[0].Time)
}

func TestCreateAppointmentRejections(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/appointments", bookBody("08:00", "alice"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rejected := decode[RejectionResponse](t, rec)
	assert.Equal(t, "SLOT_NOT_OFFERED", rejected.Reason)
	assert.NotContains(t, rec.Body.String(), "suggestedSlots")

	past := bookBody("09:00", "alice")
	past.Date = "2025-06-02"
	rec = srv.do(t, http.MethodPost, "/appointments", past)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_DATE", decode[RejectionResponse](t, rec).Reason)

	unknown := bookBody("09:00", "alice")
	unknown.DoctorID = "D9"
	rec = srv.do(t, http.MethodPost, "/appointments", unknown)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DOCTOR_NOT_FOUND", decode[RejectionResponse](t, rec).Reason)
}

func TestCreateAppointmentValidatesBody(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"not json", "nope", "invalid_request_body"},
		{"missing doctor", CreateAppointmentRequest{Date: "2025-06-10", Time: "09:00", PatientRef: "p"}, "invalid_doctor_id"},
		{"missing patient", CreateAppointmentRequest{DoctorID: "D1", Date: "2025-06-10", Time: "09:00"}, "invalid_patient_ref"},
		{"bad date", CreateAppointmentRequest{DoctorID: "D1", Date: "June 10", Time: "09:00", PatientRef: "p"}, "invalid_date"},
		{"bad time", CreateAppointmentRequest{DoctorID: "D1", Date: "2025-06-10", Time: "9am", PatientRef: "p"}, "invalid_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestConcurrentBookingsOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)

	codes := make([]int, 6)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := srv.do(t, http.MethodPost, "/appointments", bookBody("09:30", "patient-"+string(rune('a'+i))))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
			continue
		}
		assert.Equal(t, http.StatusConflict, c)
	}
	assert.Equal(t, 1, created)
}

func TestAppointmentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "alice"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[BookingResponse](t, rec).AppointmentID

	rec = srv.do(t, http.MethodGet, "/appointments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[AppointmentResponse](t, rec).PatientRef)

	rec = srv.do(t, http.MethodPost, "/appointments/"+id+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/appointments/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)

	for i := 0; i < 2; i++ {
		rec = srv.do(t, http.MethodPost, "/appointments/"+id+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)
	}

	rec = srv.do(t, http.MethodGet, "/doctors/D1/slots?date=2025-06-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[SlotsResponse](t, rec).Slots, 2)

	rec = srv.do(t, http.MethodGet, "/appointments?patient_ref=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, id, list.Appointments[0].ID)
}

func TestListDoctorAppointments(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, hhmm := range []string{"09:30", "09:00"} {
		rec := srv.do(t, http.MethodPost, "/appointments", bookBody(hhmm, "p-"+hhmm))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := srv.do(t, http.MethodGet, "/doctors/D1/appointments?date=2025-06-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	require.Len(t, list.Appointments, 2)
	assert.Equal(t, "09:00", list.Appointments[0].Time)
	assert.Equal(t, "p-09:30", list.Appointments[1].PatientRef)
	assert.Equal(t, 20, list.Limit)
	assert.Equal(t, 0, list.Offset)

	rec = srv.do(t, http.MethodGet, "/doctors/D1/appointments?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[AppointmentListResponse](t, rec)
	require.Len(t, list.Appointments, 1)
	assert.Equal(t, "09:30", list.Appointments[0].Time)

	rec = srv.do(t, http.MethodGet, "/doctors/D1/appointments?date=2025-06-11", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[AppointmentListResponse](t, rec).Appointments)

	rec = srv.do(t, http.MethodGet, "/doctors/D2/appointments", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "inactive doctors keep their book")

	rec = srv.do(t, http.MethodGet, "/doctors/D9/appointments", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "doctor_not_found", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/doctors/D1/appointments?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decode[ErrorResponse](t, rec).Error)
}

func TestListEchoesPageServed(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		query                 string
		wantLimit, wantOffset int
	}{
		{"", 20, 0},
		{"&limit=0&offset=-4", 20, 0},
		{"&limit=500&offset=3", 100, 3},
		{"&limit=5", 5, 0},
	}
	for _, tt := range tests {
		rec := srv.do(t, http.MethodGet, "/appointments?patient_ref=alice"+tt.query, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[AppointmentListResponse](t, rec)
		assert.Equal(t, tt.wantLimit, list.Limit, tt.query)
		assert.Equal(t, tt.wantOffset, list.Offset, tt.query)
	}
}

func TestAppointmentLookupErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/appointments/6f1c7a52-3f0e-4d9b-9d59-0f9f2f0c6a11/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/appointments?patient_ref=alice&limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_pagination", decode[ErrorResponse](t, rec).Error)
}

func TestRateLimitOnWrites(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(0.001, 2, zap.NewNop()))

	for i := 0; i < 2; i++ {
		rec := srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "alice"))
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/appointments", bookBody("09:00", "alice"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	rec = srv.do(t, http.MethodGet, "/doctors/D1/slots?date=2025-06-10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil,
		Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }},
	)

	rec := srv.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)

	rec = srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_http_requests_total{method="GET",route="/health/ready",status="200"} 1`)
}

func TestReadinessFailsOnCriticalDependency(t *testing.T) {
	srv := newTestServer(t, nil,
		Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("down") }},
	)

	rec := srv.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[ReadinessResponse](t, rec).Status)
}
