package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotClaim identifies the slot a patient wants. RoomID nil only matches a
// slot without a room.
type SlotClaim struct {
	SlotID   uuid.UUID
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	RoomID   *uuid.UUID
}

// Matches reports whether the claim names s exactly. The room must match too:
// a slot with a room needs that room, and a slot without one takes none.
func (c SlotClaim) Matches(s Slot) bool {
	if s.ID != c.SlotID || s.DoctorID != c.DoctorID || s.ClinicID != c.ClinicID {
		return false
	}
	if s.RoomID == nil || c.RoomID == nil {
		return s.RoomID == nil && c.RoomID == nil
	}
	return *s.RoomID == *c.RoomID
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, status *SlotStatus) ([]Slot, error)

	// ClaimSlot flips the matching slot from available to booked in one
	// conditional write and returns it. Zero affected rows is ErrSlotUnavailable.
	ClaimSlot(ctx context.Context, c SlotClaim) (*Slot, error)

	// ReleaseSlot flips a booked slot back to available, but only while no
	// live (non-cancelled) appointment references it. It reports whether the
	// slot changed.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error)

	// CreateAppointment stores the appointment and its payment mirror
	// together. A second live appointment for the same slot is rejected by the
	// store.
	CreateAppointment(ctx context.Context, a *Appointment, p *PaymentRecord) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, q ListQuery) ([]Appointment, error)

	// TransitionAppointment applies t only while the appointment is in one of
	// the from states; otherwise ErrInvalidTransition.
	TransitionAppointment(ctx context.Context, id uuid.UUID, from []AppointmentStatus, t Transition) (*Appointment, error)

	// Expiry and reconciliation sweeps
	FindUnconfirmedBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)
	FindOrphanedSlots(ctx context.Context, bookedBefore time.Time) ([]Slot, error)

	// CreateRating inserts r unless a rating for the appointment already
	// exists, in which case ErrAlreadyRated.
	CreateRating(ctx context.Context, r *Rating) error
	ListRatingsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Rating, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// SlotCache caches available-slot listings per doctor and date. Entries are
// invalidated whenever a slot for that doctor and date changes state.
//
// Every listing has a version that Invalidate bumps. A reader takes the
// version before it reads the store and hands it to SetAvailable, which
// drops the write if an invalidation happened in between.
type SlotCache interface {
	GetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, bool, error)
	Version(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error)
	SetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, version int64, slots []Slot) error
	Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...time.Time) error
}

type noopCache struct{}

func (noopCache) GetAvailable(context.Context, uuid.UUID, time.Time) ([]Slot, bool, error) {
	return nil, false, nil
}

func (noopCache) Version(context.Context, uuid.UUID, time.Time) (int64, error) { return 0, nil }

func (noopCache) SetAvailable(context.Context, uuid.UUID, time.Time, int64, []Slot) error {
	return nil
}

func (noopCache) Invalidate(context.Context, uuid.UUID, ...time.Time) error { return nil }

// NoopCache disables slot caching.
func NoopCache() SlotCache { return noopCache{} }
