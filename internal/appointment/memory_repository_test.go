package appointment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var june10 = slots.Date{Year: 2025, Month: time.June, Day: 10}

func newAppt(doctor, hhmm, patient string) Appointment {
	return Appointment{DoctorID: doctor, Date: june10, Time: hhmm, PatientRef: patient}
}

func TestMemoryInsertIfAbsentRejectsSecondActive(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := repo.InsertIfAbsent(ctx, newAppt("D1", "09:00", "p1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	_, err = repo.InsertIfAbsent(ctx, newAppt("D1", "09:00", "p2"))
	assert.ErrorIs(t, err, ErrSlotTaken)

	// Different time, doctor or date do not collide.
	_, err = repo.InsertIfAbsent(ctx, newAppt("D1", "09:30", "p2"))
	assert.NoError(t, err)
	_, err = repo.InsertIfAbsent(ctx, newAppt("D2", "09:00", "p2"))
	assert.NoError(t, err)
}

func TestMemoryInsertIfAbsentUnderContention(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.InsertIfAbsent(ctx, newAppt("D1", "09:00", "p")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryReleaseFreesSlot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a, err := repo.InsertIfAbsent(ctx, newAppt("D1", "09:00", "p1"))
	require.NoError(t, err)

	released, err := repo.ReleaseActive(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, released.Status)
	assert.NotNil(t, released.CancelledAt)

	_, err = repo.ReleaseActive(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	active, err := repo.ListActive(ctx, "D1", june10)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = repo.InsertIfAbsent(ctx, newAppt("D1", "09:00", "p2"))
	assert.NoError(t, err)
}

func TestMemoryUpdateStatusGuardsFrom(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a, err := repo.InsertIfAbsent(ctx, newAppt("D1", "10:00", "p1"))
	require.NoError(t, err)

	_, err = repo.UpdateStatus(ctx, a.ID, StatusConfirmed, StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	confirmed, err := repo.UpdateStatus(ctx, a.ID, StatusPending, StatusConfirmed)
	require.NoError(t, err)
	assert.NotNil(t, confirmed.ConfirmedAt)

	held, err := repo.GetActive(ctx, a.Key())
	require.NoError(t, err)
	assert.Equal(t, a.ID, held.ID)

	_, err = repo.UpdateStatus(ctx, a.ID, StatusConfirmed, StatusCompleted)
	require.NoError(t, err)
	_, err = repo.GetActive(ctx, a.Key())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryListings(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, hhmm := range []string{"11:00", "09:00", "10:00"} {
		_, err := repo.InsertIfAbsent(ctx, newAppt("D1", hhmm, "p1"))
		require.NoError(t, err)
	}
	earlier := newAppt("D1", "09:00", "p1")
	earlier.Date = june10.AddDays(-3)
	_, err := repo.InsertIfAbsent(ctx, earlier)
	require.NoError(t, err)

	active, err := repo.ListActive(ctx, "D1", june10)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "09:00", active[0].Time)
	assert.Equal(t, "11:00", active[2].Time)

	mine, err := repo.ListByPatient(ctx, "p1", 2, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "11:00", mine[0].Time)

	rest, err := repo.ListByPatient(ctx, "p1", 10, 2)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, earlier.Date, rest[1].Date)

	past, err := repo.ListActiveBefore(ctx, june10, 10)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, earlier.Date, past[0].Date)
}

func TestMemoryListByDoctor(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, hhmm := range []string{"10:00", "09:00"} {
		_, err := repo.InsertIfAbsent(ctx, newAppt("D1", hhmm, "p-"+hhmm))
		require.NoError(t, err)
	}
	next := newAppt("D1", "08:30", "p3")
	next.Date = june10.AddDays(1)
	_, err := repo.InsertIfAbsent(ctx, next)
	require.NoError(t, err)
	_, err = repo.InsertIfAbsent(ctx, newAppt("D2", "09:00", "p4"))
	require.NoError(t, err)

	cancelled, err := repo.GetActive(ctx, SlotKey{DoctorID: "D1", Date: june10, Time: "10:00"})
	require.NoError(t, err)
	_, err = repo.ReleaseActive(ctx, cancelled.ID)
	require.NoError(t, err)

	day, err := repo.ListByDoctor(ctx, "D1", june10, 10, 0)
	require.NoError(t, err)
	require.Len(t, day, 2, "cancelled appointments stay in the doctor's book")
	assert.Equal(t, "09:00", day[0].Time)
	assert.Equal(t, StatusCancelled, day[1].Status)

	all, err := repo.ListByDoctor(ctx, "D1", slots.Date{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, next.Date, all[2].Date)

	paged, err := repo.ListByDoctor(ctx, "D1", slots.Date{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "10:00", paged[0].Time)

	none, err := repo.ListByDoctor(ctx, "D9", slots.Date{}, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAppointmentNumber(t *testing.T) {
	repo := NewMemoryRepository()
	a, err := repo.InsertIfAbsent(context.Background(), newAppt("D1", "09:00", "p1"))
	require.NoError(t, err)

	n := a.Number()
	assert.Len(t, n, len("APT-")+6)
	assert.Regexp(t, `^APT-[0-9A-F]{6}$`, n)
}
