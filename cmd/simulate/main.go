package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	DoctorLimit  int
	Patients     int
	Days         int
	// HotRatio is the share of bookings aimed at the first open slot of a
	// doctor's day, which makes workers collide on purpose.
	HotRatio float64
}

type DataPool struct {
	Doctors  []string
	Patients []string
	Dates    []slots.Date

	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(f *gofakeit.Faker) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[f.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type result int

const (
	resultSuccess result = iota
	resultConflict
	resultRejected
	resultError
)

func (om *OperationMetrics) Record(latency time.Duration, r result) {
	atomic.AddInt64(&om.Total, 1)
	switch r {
	case resultSuccess:
		atomic.AddInt64(&om.Success, 1)
	case resultConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case resultRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95), pct(99)
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ListSlots     OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	ListByDoctor  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, slots.DateOf(baseCfg.Now()))
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("doctors", len(dataPool.Doctors)),
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("dates", len(dataPool.Dates)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	doubles, err := findDoubleBookings(verifyCtx, pgPool)
	if err != nil {
		logger.Fatal("verify bookings", zap.Error(err))
	}
	if len(doubles) > 0 {
		for _, d := range doubles {
			fmt.Println("DOUBLE BOOKED:", d)
		}
		os.Exit(1)
	}
	fmt.Println("Double-booking check passed: no slot holds more than one active appointment")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
		Patients:     getInt("SIM_PATIENTS", 2000),
		Days:         getInt("SIM_DAYS", 7),
		HotRatio:     getFloat("SIM_HOT_RATIO", 0.3),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_DAYS and SIM_PATIENTS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, today slots.Date) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM doctors WHERE active ORDER BY id LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no active doctors loaded; run cmd/seed first")
	}

	faker := gofakeit.New(0)
	for i := 0; i < cfg.Patients; i++ {
		dataPool.Patients = append(dataPool.Patients, "PAT-"+faker.Numerify("########"))
	}

	for d := 1; d <= cfg.Days; d++ {
		dataPool.Dates = append(dataPool.Dates, today.AddDays(d))
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for ctx.Err() == nil {
		r := faker.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, faker)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, faker)
		default:
			switch faker.Number(0, 3) {
			case 0:
				s.doListSlots(ctx, faker)
			case 1:
				s.doReadByID(ctx, faker)
			case 2:
				s.doListByPatient(ctx, faker)
			case 3:
				s.doListByDoctor(ctx, faker)
			}
		}
	}
}

func (s *Simulator) pickDoctorDay(f *gofakeit.Faker) (string, slots.Date) {
	doctor := s.pool.Doctors[f.Number(0, len(s.pool.Doctors)-1)]
	date := s.pool.Dates[f.Number(0, len(s.pool.Dates)-1)]
	return doctor, date
}

func (s *Simulator) fetchSlots(ctx context.Context, doctor string, date slots.Date) ([]slots.Slot, int, error) {
	u := fmt.Sprintf("%s/doctors/%s/slots?date=%s", s.config.APIBaseURL, url.PathEscape(doctor), date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var body struct {
		Slots []slots.Slot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, resp.StatusCode, err
	}
	return body.Slots, resp.StatusCode, nil
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	doctor, date := s.pickDoctorDay(f)

	open, _, err := s.fetchSlots(ctx, doctor, date)
	if err != nil || len(open) == 0 {
		return
	}

	slot := open[0]
	if f.Float64() >= s.config.HotRatio {
		slot = open[f.Number(0, len(open)-1)]
	}
	patient := s.pool.Patients[f.Number(0, len(s.pool.Patients)-1)]

	body, _ := json.Marshal(map[string]string{
		"doctorId":   doctor,
		"date":       date.String(),
		"time":       slot.Time,
		"patientRef": patient,
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, resultError)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var granted struct {
			AppointmentID string `json:"appointmentId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&granted); err == nil && granted.AppointmentID != "" {
			s.pool.AddAppointment(granted.AppointmentID)
		}
		s.metrics.Booking.Record(latency, resultSuccess)
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, resultConflict)
	case http.StatusUnprocessableEntity:
		s.metrics.Booking.Record(latency, resultRejected)
	default:
		s.metrics.Booking.Record(latency, resultError)
	}
}

func (s *Simulator) doCancel(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	s.simpleCall(ctx, &s.metrics.Cancel, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id))
}

func (s *Simulator) doListSlots(ctx context.Context, f *gofakeit.Faker) {
	doctor, date := s.pickDoctorDay(f)

	start := time.Now()
	_, status, err := s.fetchSlots(ctx, doctor, date)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	if err != nil || status != http.StatusOK {
		s.metrics.ListSlots.Record(latency, resultError)
		return
	}
	s.metrics.ListSlots.Record(latency, resultSuccess)
}

func (s *Simulator) doReadByID(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	s.simpleCall(ctx, &s.metrics.ReadByID, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, id))
}

func (s *Simulator) doListByPatient(ctx context.Context, f *gofakeit.Faker) {
	patient := s.pool.Patients[f.Number(0, len(s.pool.Patients)-1)]
	s.simpleCall(ctx, &s.metrics.ListByPatient, http.MethodGet,
		fmt.Sprintf("%s/appointments?patient_ref=%s&limit=20", s.config.APIBaseURL, url.QueryEscape(patient)))
}

func (s *Simulator) doListByDoctor(ctx context.Context, f *gofakeit.Faker) {
	doctor, date := s.pickDoctorDay(f)
	s.simpleCall(ctx, &s.metrics.ListByDoctor, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/appointments?date=%s", s.config.APIBaseURL, url.PathEscape(doctor), date))
}

func (s *Simulator) simpleCall(ctx context.Context, om *OperationMetrics, method, u string) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, resultError)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		om.Record(latency, resultSuccess)
	case http.StatusConflict:
		om.Record(latency, resultConflict)
	default:
		om.Record(latency, resultError)
	}
}

// findDoubleBookings lists every (doctor, date, time) held by more than one
// active appointment. It must always come back empty.
func findDoubleBookings(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT doctor_id, to_char(appt_date, 'YYYY-MM-DD'), appt_time, count(*)
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		GROUP BY doctor_id, appt_date, appt_time
		HAVING count(*) > 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var doctor, date, hhmm string
		var n int64
		if err := rows.Scan(&doctor, &date, &hhmm, &n); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s %s %s x%d", doctor, date, hhmm, n))
	}
	return out, rows.Err()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
