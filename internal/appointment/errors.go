package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error taxonomy. Everything the booking core returns wraps one of these.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrSlotUnavailable    = errors.New("slot is no longer available")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyRated       = errors.New("appointment has already been rated")
	ErrInconsistentState  = errors.New("inconsistent state")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrClinicNotFound      = fmt.Errorf("clinic %w", ErrNotFound)
	ErrRoomNotFound        = fmt.Errorf("room %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	ErrNotRatable = fmt.Errorf("only completed appointments can be rated: %w", ErrInvalidTransition)
)

// Invalidf builds an ErrInvalidRequest with a caller-facing reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// StorageError marks err as a store fault. Domain sentinels pass through untouched.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrInvalidRequest, ErrSlotUnavailable, ErrInvalidTransition, ErrAlreadyRated, ErrStorageUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// InconsistencyError reports a slot that was claimed while the appointment
// write behind it failed.
type InconsistencyError struct {
	SlotID        uuid.UUID
	AppointmentID uuid.UUID
	SlotReleased  bool
	Err           error
}

func (e *InconsistencyError) Error() string {
	state := "still booked"
	if e.SlotReleased {
		state = "released"
	}
	return fmt.Sprintf("slot %s claimed but appointment %s was not recorded (slot %s): %v",
		e.SlotID, e.AppointmentID, state, e.Err)
}

func (e *InconsistencyError) Unwrap() []error {
	return []error{ErrInconsistentState, e.Err}
}
