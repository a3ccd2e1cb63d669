package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var consultationLengths = []int{15, 20, 30, 45, 60}

type doctorRow struct {
	id, name, specialty string
	start, end          string
	minutes             int
	days                []int32
	leaves              []time.Time
	active              bool
}

func main() {
	count := flag.Int("doctors", 100, "number of fake doctors to create")
	seed := flag.Int64("seed", 0, "random seed (0 = time based)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(*seed))

	doctors := []doctorRow{fixtureDoctor()}
	today := slots.DateOf(cfg.Now())
	for i := 1; i <= *count; i++ {
		doctors = append(doctors, fakeDoctor(faker, i, today))
	}

	if err := insertDoctors(ctx, pool, doctors, logger); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	logger.Info("seed complete", zap.Int("doctors", len(doctors)), zap.Int64("seed", *seed))
}

// fixtureDoctor is the well-known doctor the simulator and manual testing use.
func fixtureDoctor() doctorRow {
	return doctorRow{
		id:        "D1",
		name:      "Dr. Asha Rao",
		specialty: "General Practice",
		start:     "09:00",
		end:       "10:00",
		minutes:   30,
		days:      []int32{0, 1, 2, 3, 4, 5, 6},
		leaves:    []time.Time{},
		active:    true,
	}
}

func fakeDoctor(f *gofakeit.Faker, n int, today slots.Date) doctorRow {
	startHour := f.Number(7, 10)
	endHour := startHour + f.Number(4, 9)

	days := []int32{1, 2, 3, 4, 5}
	if f.Bool() {
		days = append(days, 6)
	}

	// leave_dates is NOT NULL and pgx sends a nil slice as NULL.
	leaves := []time.Time{}
	for i := 0; i < f.Number(0, 3); i++ {
		d := today.AddDays(f.Number(1, 60))
		leaves = append(leaves, d.In(time.UTC))
	}

	return doctorRow{
		id:        fmt.Sprintf("D%04d", n),
		name:      "Dr. " + f.Name(),
		specialty: specialties[f.Number(0, len(specialties)-1)],
		start:     fmt.Sprintf("%02d:00", startHour),
		end:       fmt.Sprintf("%02d:00", endHour),
		minutes:   consultationLengths[f.Number(0, len(consultationLengths)-1)],
		days:      days,
		leaves:    leaves,
		active:    f.Number(1, 10) > 1,
	}
}

// args binds d in column order of the doctors insert.
func (d doctorRow) args() []any {
	return []any{d.id, d.name, d.specialty, d.start, d.end, d.minutes, d.days, d.leaves, d.active}
}

func insertDoctors(ctx context.Context, pool *pgxpool.Pool, doctors []doctorRow, logger *zap.Logger) error {
	const batchSize = 200

	for offset := 0; offset < len(doctors); offset += batchSize {
		end := min(offset+batchSize, len(doctors))

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for _, d := range doctors[offset:end] {
				_, err := tx.Exec(ctx, `
					INSERT INTO doctors (id, name, specialty, working_start, working_end, consultation_minutes,
					                     available_days, leave_dates, active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
					ON CONFLICT (id) DO UPDATE
					SET name = EXCLUDED.name,
					    specialty = EXCLUDED.specialty,
					    working_start = EXCLUDED.working_start,
					    working_end = EXCLUDED.working_end,
					    consultation_minutes = EXCLUDED.consultation_minutes,
					    available_days = EXCLUDED.available_days,
					    leave_dates = EXCLUDED.leave_dates,
					    active = EXCLUDED.active,
					    updated_at = now()
				`, d.args()...)
				if err != nil {
					return fmt.Errorf("insert doctor %s: %w", d.id, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("doctors seeded", zap.Int("done", end), zap.Int("total", len(doctors)))
	}
	return nil
}
