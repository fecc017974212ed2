package schedule

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error)
	GetClinicByID(ctx context.Context, id uuid.UUID) (*appointment.Clinic, error)
	GetRoomByID(ctx context.Context, id uuid.UUID) (*appointment.Room, error)

	// ReplaceSchedule swaps the doctor's rows for days in one step.
	ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []ScheduleDay) error
	ListSchedule(ctx context.Context, doctorID uuid.UUID) ([]ScheduleDay, error)

	// InsertSlotsIfAbsent inserts every candidate whose (doctor, clinic, date,
	// time) key is not taken yet and returns the ones it created. Existing
	// slots are left untouched whatever their status.
	InsertSlotsIfAbsent(ctx context.Context, slots []appointment.Slot) ([]appointment.Slot, error)
}
