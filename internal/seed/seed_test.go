package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	"github.com/hackgods/clinic-slot-booking/internal/store"
)

func TestSeeder_Run(t *testing.T) {
	mem := store.NewMemory()
	schedules := schedule.NewService(mem, nil, nil, nil, 92)

	res, err := New(mem, schedules, nil).Run(context.Background(), Options{
		Clinics:        2,
		RoomsPerClinic: 2,
		Doctors:        3,
		Patients:       5,
		Days:           7,
		From:           time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Seed:           42,
	})
	require.NoError(t, err)

	assert.Len(t, res.ClinicIDs, 2)
	assert.Len(t, res.DoctorIDs, 3)
	assert.Len(t, res.PatientIDs, 5)

	for _, id := range res.DoctorIDs {
		days, err := mem.ListSchedule(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, days, 5)
	}
	for _, id := range res.PatientIDs {
		_, err := mem.GetPatientByID(context.Background(), id)
		require.NoError(t, err)
	}
}

func TestSeeder_RejectsEmptyOptions(t *testing.T) {
	mem := store.NewMemory()
	_, err := New(mem, schedule.NewService(mem, nil, nil, nil, 92), nil).Run(context.Background(), Options{})
	assert.Error(t, err)
}
