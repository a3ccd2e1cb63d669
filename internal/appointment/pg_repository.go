package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

const uniqueViolation = "23505"

// DBTX is the part of *pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, doctor_id, to_char(appt_date, 'YYYY-MM-DD'), appt_time, patient_ref, status,
		       created_at, updated_at, confirmed_at, cancelled_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a    Appointment
		date string
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&date,
		&a.Time,
		&a.PatientRef,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date, err = slots.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Interface methods

// InsertIfAbsent relies on the partial unique index over active rows, so the
// check and the insert are one statement.
func (r *PgRepository) InsertIfAbsent(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, appt_date, appt_time, patient_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, appt_date, appt_time) WHERE status IN ('pending', 'confirmed')
		DO NOTHING
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.Date.String(), a.Time, a.PatientRef, string(a.Status))

	created, err := scanAppointment(row)
	switch {
	case errors.Is(err, ErrAppointmentNotFound), isUniqueViolation(err):
		return nil, ErrSlotTaken
	case err != nil:
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetActive(ctx context.Context, key SlotKey) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2::date
		  AND appt_time = $3
		  AND status IN ('pending', 'confirmed')
	`, key.DoctorID, key.Date.String(), key.Time)
	return scanAppointment(row)
}

func (r *PgRepository) ListActive(ctx context.Context, doctorID string, date slots.Date) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2::date
		  AND status IN ('pending', 'confirmed')
		ORDER BY appt_time
	`, doctorID, date.String())
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now(),
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) ReleaseActive(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now(),
		    cancelled_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns,
		id)

	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_ref = $1
		ORDER BY appt_date DESC, appt_time DESC
		LIMIT $2 OFFSET $3
	`, patientRef, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID string, date slots.Date, limit, offset int) ([]Appointment, error) {
	var day any
	if !date.IsZero() {
		day = date.String()
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::date IS NULL OR appt_date = $2::date)
		ORDER BY appt_date, appt_time, created_at
		LIMIT $3 OFFSET $4
	`, doctorID, day, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveBefore(ctx context.Context, date slots.Date, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date < $1::date
		  AND status IN ('pending', 'confirmed')
		ORDER BY appt_date, appt_time
		LIMIT $2
	`, date.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list past active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
