package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

// MemoryRepository is a process-local Store. The active map is the
// double-booking guard, checked and written under the same lock.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Appointment
	active map[SlotKey]uuid.UUID
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]*Appointment),
		active: make(map[SlotKey]uuid.UUID),
		now:    time.Now,
	}
}

func (m *MemoryRepository) InsertIfAbsent(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.Key()
	if _, taken := m.active[key]; taken {
		return nil, ErrSlotTaken
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now

	stored := a
	m.byID[a.ID] = &stored
	if a.Status.Active() {
		m.active[key] = a.ID
	}
	return &a, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) GetActive(_ context.Context, key SlotKey) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[key]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryRepository) ListActive(_ context.Context, doctorID string, date slots.Date) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Appointment{}
	for key, id := range m.active {
		if key.DoctorID == doctorID && key.Date == date {
			out = append(out, *m.byID[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	m.setStatus(a, to)
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) ReleaseActive(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok || !a.Status.Active() {
		return nil, ErrAppointmentNotFound
	}
	m.setStatus(a, StatusCancelled)
	cp := *a
	return &cp, nil
}

// setStatus must be called with mu held.
func (m *MemoryRepository) setStatus(a *Appointment, to AppointmentStatus) {
	now := m.now()
	a.Status = to
	a.UpdatedAt = now
	switch to {
	case StatusConfirmed:
		a.ConfirmedAt = &now
	case StatusCancelled:
		a.CancelledAt = &now
	}

	key := a.Key()
	if to.Active() {
		m.active[key] = a.ID
	} else if m.active[key] == a.ID {
		delete(m.active, key)
	}
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientRef string, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Appointment
	for _, a := range m.byID {
		if a.PatientRef == patientRef {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[j].Date.Before(all[i].Date)
		}
		return all[i].Time > all[j].Time
	})
	return page(all, limit, offset), nil
}

func (m *MemoryRepository) ListByDoctor(_ context.Context, doctorID string, date slots.Date, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Appointment
	for _, a := range m.byID {
		if a.DoctorID == doctorID && (date.IsZero() || a.Date == date) {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date.Before(all[j].Date)
		}
		if all[i].Time != all[j].Time {
			return all[i].Time < all[j].Time
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (m *MemoryRepository) ListActiveBefore(_ context.Context, date slots.Date, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Appointment
	for key, id := range m.active {
		if key.Date.Before(date) {
			all = append(all, *m.byID[id])
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].Time < all[j].Time
	})
	return page(all, limit, 0), nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func page(all []Appointment, limit, offset int) []Appointment {
	if offset >= len(all) {
		return []Appointment{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
