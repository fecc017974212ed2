package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

type memoryFixture struct {
	store    *Memory
	doctorID uuid.UUID
	clinicID uuid.UUID
	date     time.Time
}

func newMemoryFixture(t *testing.T) memoryFixture {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()

	doc := &appointment.Doctor{ID: uuid.New(), Name: "Dr. Ada"}
	clinic := &appointment.Clinic{ID: uuid.New(), Name: "North"}
	require.NoError(t, m.CreateDoctor(ctx, doc))
	require.NoError(t, m.CreateClinic(ctx, clinic))

	return memoryFixture{
		store:    m,
		doctorID: doc.ID,
		clinicID: clinic.ID,
		date:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func (f memoryFixture) slot(t *testing.T, clock string) appointment.Slot {
	t.Helper()
	created, err := f.store.InsertSlotsIfAbsent(context.Background(), []appointment.Slot{{
		DoctorID:        f.doctorID,
		ClinicID:        f.clinicID,
		Date:            f.date,
		Time:            clock,
		DurationMinutes: 30,
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func (f memoryFixture) claim(s appointment.Slot) appointment.SlotClaim {
	return appointment.SlotClaim{SlotID: s.ID, DoctorID: f.doctorID, ClinicID: f.clinicID}
}

func TestMemory_InsertSlotsIfAbsentSkipsExistingKeys(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	first := f.slot(t, "09:00")
	_, err := f.store.ClaimSlot(ctx, f.claim(first))
	require.NoError(t, err)

	created, err := f.store.InsertSlotsIfAbsent(ctx, []appointment.Slot{
		{DoctorID: f.doctorID, ClinicID: f.clinicID, Date: f.date, Time: "09:00", DurationMinutes: 30},
		{DoctorID: f.doctorID, ClinicID: f.clinicID, Date: f.date, Time: "09:30", DurationMinutes: 30},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "09:30", created[0].Time)

	got, err := f.store.GetSlotByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.SlotBooked, got.Status, "existing slot must keep its status")
}

func TestMemory_ClaimSlotOnlyOnce(t *testing.T) {
	f := newMemoryFixture(t)
	s := f.slot(t, "10:00")

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.store.ClaimSlot(context.Background(), f.claim(s)); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemory_ClaimSlotChecksOwnership(t *testing.T) {
	f := newMemoryFixture(t)
	s := f.slot(t, "11:00")
	ctx := context.Background()

	wrongDoctor := f.claim(s)
	wrongDoctor.DoctorID = uuid.New()
	_, err := f.store.ClaimSlot(ctx, wrongDoctor)
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	room := uuid.New()
	pinned := f.claim(s)
	pinned.RoomID = &room
	_, err = f.store.ClaimSlot(ctx, pinned)
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	got, err := f.store.GetSlotByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.SlotAvailable, got.Status)
}

func TestMemory_ClaimSlotRequiresTheSlotsRoom(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	room := uuid.New()
	created, err := f.store.InsertSlotsIfAbsent(ctx, []appointment.Slot{{
		DoctorID:        f.doctorID,
		ClinicID:        f.clinicID,
		RoomID:          &room,
		Date:            f.date,
		Time:            "11:30",
		DurationMinutes: 30,
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	s := created[0]

	_, err = f.store.ClaimSlot(ctx, f.claim(s))
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable, "claim without the room")

	other := uuid.New()
	wrongRoom := f.claim(s)
	wrongRoom.RoomID = &other
	_, err = f.store.ClaimSlot(ctx, wrongRoom)
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)

	rightRoom := f.claim(s)
	rightRoom.RoomID = &room
	claimed, err := f.store.ClaimSlot(ctx, rightRoom)
	require.NoError(t, err)
	assert.Equal(t, appointment.SlotBooked, claimed.Status)
}

func TestMemory_ReleaseSlotRefusesWhileAppointmentIsLive(t *testing.T) {
	f := newMemoryFixture(t)
	s := f.slot(t, "12:00")
	ctx := context.Background()

	_, err := f.store.ClaimSlot(ctx, f.claim(s))
	require.NoError(t, err)

	appt := &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  f.doctorID,
		ClinicID:  f.clinicID,
		SlotID:    s.ID,
		Status:    appointment.StatusBooked,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateAppointment(ctx, appt, &appointment.PaymentRecord{ID: uuid.New(), AppointmentID: appt.ID}))

	released, err := f.store.ReleaseSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, released)

	second := *appt
	second.ID = uuid.New()
	assert.Error(t, f.store.CreateAppointment(ctx, &second, &appointment.PaymentRecord{ID: uuid.New()}))

	_, err = f.store.TransitionAppointment(ctx, appt.ID,
		[]appointment.AppointmentStatus{appointment.StatusBooked},
		appointment.Transition{To: appointment.StatusCancelled, At: time.Now()})
	require.NoError(t, err)

	released, err = f.store.ReleaseSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestMemory_TransitionRequiresSourceState(t *testing.T) {
	f := newMemoryFixture(t)
	s := f.slot(t, "13:00")
	ctx := context.Background()

	appt := &appointment.Appointment{ID: uuid.New(), SlotID: s.ID, DoctorID: f.doctorID, Status: appointment.StatusBooked}
	require.NoError(t, f.store.CreateAppointment(ctx, appt, &appointment.PaymentRecord{ID: uuid.New()}))

	_, err := f.store.TransitionAppointment(ctx, appt.ID,
		[]appointment.AppointmentStatus{appointment.StatusConfirmed},
		appointment.Transition{To: appointment.StatusCompleted, At: time.Now()})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)

	_, err = f.store.TransitionAppointment(ctx, uuid.New(), nil, appointment.Transition{To: appointment.StatusCancelled})
	assert.ErrorIs(t, err, appointment.ErrNotFound)
}

func TestMemory_FindOrphanedSlots(t *testing.T) {
	f := newMemoryFixture(t)
	orphan := f.slot(t, "14:00")
	backed := f.slot(t, "14:30")
	ctx := context.Background()

	_, err := f.store.ClaimSlot(ctx, f.claim(orphan))
	require.NoError(t, err)
	_, err = f.store.ClaimSlot(ctx, f.claim(backed))
	require.NoError(t, err)
	appt := &appointment.Appointment{ID: uuid.New(), SlotID: backed.ID, Status: appointment.StatusBooked}
	require.NoError(t, f.store.CreateAppointment(ctx, appt, &appointment.PaymentRecord{ID: uuid.New()}))

	got, err := f.store.FindOrphanedSlots(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, orphan.ID, got[0].ID)

	got, err = f.store.FindOrphanedSlots(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_CreateRatingOncePerAppointment(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	apptID := uuid.New()

	require.NoError(t, m.CreateRating(ctx, &appointment.Rating{ID: uuid.New(), AppointmentID: apptID, Score: 4}))
	err := m.CreateRating(ctx, &appointment.Rating{ID: uuid.New(), AppointmentID: apptID, Score: 5})
	assert.ErrorIs(t, err, appointment.ErrAlreadyRated)
}

func TestMemory_ListAppointmentsPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	patient := uuid.New()
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		a := &appointment.Appointment{
			ID:        uuid.New(),
			PatientID: patient,
			SlotID:    uuid.New(),
			Status:    appointment.StatusBooked,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, m.CreateAppointment(ctx, a, &appointment.PaymentRecord{ID: uuid.New()}))
	}

	page, err := m.ListAppointments(ctx, appointment.ListQuery{PatientID: &patient, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, base.Add(3*time.Minute), page[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Minute), page[1].CreatedAt)

	page, err = m.ListAppointments(ctx, appointment.ListQuery{PatientID: &patient, Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}
