package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var day = slots.Date{Year: 2025, Month: time.June, Day: 10}

func key(hhmm string) appointment.SlotKey {
	return appointment.SlotKey{DoctorID: "D1", Date: day, Time: hhmm}
}

func book(hhmm, patient string) appointment.Appointment {
	return appointment.Appointment{DoctorID: "D1", Date: day, Time: hhmm, PatientRef: patient}
}

func TestReserveEnforcesSingleHolder(t *testing.T) {
	ix := New(appointment.NewMemoryRepository())
	ctx := context.Background()

	taken, err := ix.IsTaken(ctx, key("09:00"))
	require.NoError(t, err)
	assert.False(t, taken)

	first, err := ix.Reserve(ctx, book("09:00", "p1"))
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, first.Status)

	_, err = ix.Reserve(ctx, book("09:00", "p2"))
	assert.ErrorIs(t, err, ErrAlreadyTaken)

	holder, err := ix.Holder(ctx, key("09:00"))
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "p1", holder.PatientRef)

	set, err := ix.Taken(ctx, "D1", day)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"09:00": {}}, set)
}

func TestReleaseIsKeyedByAppointment(t *testing.T) {
	ix := New(appointment.NewMemoryRepository())
	ctx := context.Background()

	first, err := ix.Reserve(ctx, book("09:00", "p1"))
	require.NoError(t, err)

	released, err := ix.Release(ctx, key("09:00"), first.ID)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.Equal(t, appointment.StatusCancelled, released.Status)

	second, err := ix.Reserve(ctx, book("09:00", "p2"))
	require.NoError(t, err)

	// A repeated release for the first booking must not free the second.
	again, err := ix.Release(ctx, key("09:00"), first.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	holder, err := ix.Holder(ctx, key("09:00"))
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, second.ID, holder.ID)

	none, err := ix.Release(ctx, key("09:30"), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTransitionOutOfActiveFreesSlot(t *testing.T) {
	ix := New(appointment.NewMemoryRepository())
	ctx := context.Background()

	a, err := ix.Reserve(ctx, book("10:00", "p1"))
	require.NoError(t, err)

	_, err = ix.Transition(ctx, a.ID, appointment.StatusPending, appointment.StatusConfirmed)
	require.NoError(t, err)
	taken, err := ix.IsTaken(ctx, key("10:00"))
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = ix.Transition(ctx, a.ID, appointment.StatusConfirmed, appointment.StatusCompleted)
	require.NoError(t, err)
	taken, err = ix.IsTaken(ctx, key("10:00"))
	require.NoError(t, err)
	assert.False(t, taken)
}

type failingStore struct {
	appointment.Store
}

var errStorage = errors.New("connection reset")

func (failingStore) GetActive(context.Context, appointment.SlotKey) (*appointment.Appointment, error) {
	return nil, errStorage
}

func (failingStore) InsertIfAbsent(context.Context, appointment.Appointment) (*appointment.Appointment, error) {
	return nil, errStorage
}

func TestStorageErrorsAreNotTreatedAsFree(t *testing.T) {
	ix := New(failingStore{})
	ctx := context.Background()

	_, err := ix.IsTaken(ctx, key("09:00"))
	assert.ErrorIs(t, err, errStorage)

	_, err = ix.Reserve(ctx, book("09:00", "p1"))
	assert.ErrorIs(t, err, errStorage)
	assert.NotErrorIs(t, err, ErrAlreadyTaken)
}
