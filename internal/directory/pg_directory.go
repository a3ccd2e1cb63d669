package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDirectory reads doctors from the clinic's doctors table.
type PgDirectory struct {
	db rowQuerier
}

func NewPgDirectory(db rowQuerier) *PgDirectory {
	return &PgDirectory{db: db}
}

func (r *PgDirectory) Doctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, working_start, working_end, consultation_minutes,
		       available_days, leave_dates, active
		FROM doctors
		WHERE id = $1
	`, id)

	var (
		d         Doctor
		specialty *string
		days      []int32
		leaves    []time.Time
	)
	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.WorkingHours.Start,
		&d.WorkingHours.End,
		&d.WorkingHours.ConsultationMinutes,
		&days,
		&leaves,
		&d.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor %s: %w", id, err)
	}

	if specialty != nil {
		d.Specialty = *specialty
	}
	for _, day := range days {
		d.AvailableDays = append(d.AvailableDays, time.Weekday(day))
	}
	for _, leave := range leaves {
		d.LeaveDates = append(d.LeaveDates, slots.DateOf(leave))
	}
	return &d, nil
}
