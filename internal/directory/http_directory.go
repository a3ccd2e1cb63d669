package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

const doctorsPath = "/api/v1/user/doctors"

// HTTPDirectory reads doctors from the clinic REST backend. The backend
// only exposes the full doctor list, so the list is cached for CacheTTL,
// concurrent misses share a single in-flight request and a circuit breaker
// stops hammering the backend when it fails.
type HTTPDirectory struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	cacheTTL time.Duration
	group    singleflight.Group
	breaker  *gobreaker.CircuitBreaker[[]Doctor]
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cached   []Doctor
	cachedAt time.Time
}

type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
	// CacheTTL is how long a fetched doctor list is served without asking
	// the backend again. Zero means 30s; negative disables the cache.
	CacheTTL time.Duration
}

func NewHTTPDirectory(opts HTTPOptions, log *zap.Logger) *HTTPDirectory {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &HTTPDirectory{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   opts.Client,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
		log:      log,
		now:      time.Now,
	}
	d.breaker = gobreaker.NewCircuitBreaker[[]Doctor](gobreaker.Settings{
		Name:        "doctor-directory",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return d
}

func (d *HTTPDirectory) Doctor(ctx context.Context, id string) (*Doctor, error) {
	doctors, err := d.list(ctx)
	if err != nil {
		return nil, err
	}
	for i := range doctors {
		if doctors[i].ID == id {
			doc := doctors[i]
			return &doc, nil
		}
	}
	return nil, ErrDoctorNotFound
}

func (d *HTTPDirectory) cachedList() ([]Doctor, bool) {
	if d.cacheTTL < 0 {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cached == nil || d.now().Sub(d.cachedAt) >= d.cacheTTL {
		return nil, false
	}
	return d.cached, true
}

func (d *HTTPDirectory) store(doctors []Doctor) {
	d.mu.Lock()
	d.cached = doctors
	d.cachedAt = d.now()
	d.mu.Unlock()
}

func (d *HTTPDirectory) list(ctx context.Context) ([]Doctor, error) {
	if doctors, ok := d.cachedList(); ok {
		return doctors, nil
	}

	ch := d.group.DoChan("doctors", func() (any, error) {
		// Detached so one caller giving up does not fail everyone sharing the call.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		doctors, err := d.breaker.Execute(func() ([]Doctor, error) {
			return d.fetch(fetchCtx)
		})
		if err != nil {
			return nil, err
		}
		d.store(doctors)
		return doctors, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, gobreaker.ErrOpenState) || errors.Is(res.Err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, res.Err)
			}
			return nil, res.Err
		}
		return res.Val.([]Doctor), nil
	}
}

type doctorsResponse struct {
	Success bool         `json:"success"`
	Doctors []wireDoctor `json:"doctors"`
}

type wireHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type wireDoctor struct {
	ID                   string     `json:"id"`
	FirstName            string     `json:"firstName"`
	LastName             string     `json:"lastName"`
	Specialization       string     `json:"specialization"`
	WorkingHours         *wireHours `json:"workingHours"`
	ConsultationDuration int        `json:"consultationDuration"`
	AvailableDays        []int      `json:"availableDays"`
	LeaveDates           []string   `json:"leaveDates"`
	IsActive             *bool      `json:"isActive"`
}

func (d *HTTPDirectory) fetch(ctx context.Context) ([]Doctor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+doctorsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDirectoryUnavailable, resp.StatusCode)
	}

	var body doctorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode doctors: %v", ErrDirectoryUnavailable, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: backend reported failure", ErrDirectoryUnavailable)
	}

	out := make([]Doctor, 0, len(body.Doctors))
	for _, w := range body.Doctors {
		out = append(out, w.toDoctor(d.log))
	}
	return out, nil
}

// toDoctor copies what the backend sent. Missing working hours stay empty
// and fail slot generation as a config error.
func (w wireDoctor) toDoctor(log *zap.Logger) Doctor {
	doc := Doctor{
		ID:        w.ID,
		Name:      strings.TrimSpace(w.FirstName + " " + w.LastName),
		Specialty: w.Specialization,
		Active:    w.IsActive == nil || *w.IsActive,
	}
	if w.WorkingHours != nil {
		doc.WorkingHours.Start = w.WorkingHours.Start
		doc.WorkingHours.End = w.WorkingHours.End
	}
	doc.WorkingHours.ConsultationMinutes = w.ConsultationDuration

	for _, day := range w.AvailableDays {
		if day >= 0 && day <= 6 {
			doc.AvailableDays = append(doc.AvailableDays, time.Weekday(day))
		}
	}
	for _, raw := range w.LeaveDates {
		// Accept full timestamps as well as bare dates; only the date part counts.
		if len(raw) > 10 {
			raw = raw[:10]
		}
		date, err := slots.ParseDate(raw)
		if err != nil {
			log.Warn("skipping unparseable leave date", zap.String("doctor_id", w.ID), zap.String("value", raw))
			continue
		}
		doc.LeaveDates = append(doc.LeaveDates, date)
	}
	return doc
}
