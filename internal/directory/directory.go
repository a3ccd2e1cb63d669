// Package directory is the read-only view of doctors the scheduler needs:
// working hours, working days and whether the doctor takes bookings at all.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var (
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrDirectoryUnavailable = errors.New("doctor directory unavailable")
)

// Directory looks doctors up by id. A missing doctor is ErrDoctorNotFound,
// never a zero-value Doctor.
type Directory interface {
	Doctor(ctx context.Context, id string) (*Doctor, error)
}

type Doctor struct {
	ID            string
	Name          string
	Specialty     string
	WorkingHours  slots.WorkingHours
	AvailableDays []time.Weekday // empty means Monday to Friday
	LeaveDates    []slots.Date
	Active        bool
}

var defaultWorkingDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// WorksOn reports whether the doctor sees patients on date.
func (d *Doctor) WorksOn(date slots.Date) bool {
	for _, leave := range d.LeaveDates {
		if leave == date {
			return false
		}
	}

	days := d.AvailableDays
	if len(days) == 0 {
		days = defaultWorkingDays
	}
	wd := date.Weekday()
	for _, day := range days {
		if day == wd {
			return true
		}
	}
	return false
}

// Static is a fixed in-memory directory.
type Static struct {
	mu      sync.RWMutex
	doctors map[string]Doctor
}

func NewStatic(doctors ...Doctor) *Static {
	s := &Static{doctors: make(map[string]Doctor, len(doctors))}
	for _, d := range doctors {
		s.doctors[d.ID] = d
	}
	return s
}

// Put adds or replaces a doctor.
func (s *Static) Put(d Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Static) Doctor(_ context.Context, id string) (*Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}
