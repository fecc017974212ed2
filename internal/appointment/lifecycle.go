package appointment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/auth"
)

const (
	CancelReasonConfirmTimeout = "confirmation_timeout"
	maxReasonLength            = 500
)

// Confirm moves a booked appointment to confirmed. Only the appointment's doctor may do it.
func (s *Service) Confirm(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.doctorTransition(ctx, actor, id, StatusConfirmed, EventAppointmentConfirmed)
}

// Complete marks a confirmed visit finished, which is what makes it ratable.
func (s *Service) Complete(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.doctorTransition(ctx, actor, id, StatusCompleted, EventAppointmentCompleted)
}

func (s *Service) doctorTransition(ctx context.Context, actor auth.Principal, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	if err := requireRole(actor, auth.RoleDoctor); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, StorageError("load appointment", err)
	}
	if appt.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if !appt.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, to)
	}

	by := actor.ID
	updated, err := s.repo.TransitionAppointment(ctx, id, sourcesOf(to), Transition{To: to, At: s.now(), By: &by})
	if err != nil {
		return nil, StorageError("transition appointment", err)
	}

	s.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logEvent(ctx, &updated.ID, &updated.SlotID, event, map[string]any{
		"from": string(appt.Status),
		"by":   actor.ID.String(),
	})
	return updated, nil
}

// Cancel cancels a booked or confirmed appointment on behalf of its patient
// or its doctor, then releases the slot when the release policy is on.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	if actor.IsZero() {
		return nil, ErrUnauthorized
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, Invalidf("reason must be at most %d characters", maxReasonLength)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, StorageError("load appointment", err)
	}
	if !canSee(actor, appt) {
		return nil, ErrForbidden
	}

	by := actor.ID
	return s.cancel(ctx, appt, sourcesOf(StatusCancelled), Transition{To: StatusCancelled, At: s.now(), By: &by, Reason: reason})
}

// cancel moves appt to cancelled, but only while the stored appointment is
// still in one of from. The check against appt is a fast path; the store
// re-checks it in the same write.
func (s *Service) cancel(ctx context.Context, appt *Appointment, from []AppointmentStatus, t Transition) (*Appointment, error) {
	if !slices.Contains(from, appt.Status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, StatusCancelled)
	}

	updated, err := s.repo.TransitionAppointment(ctx, appt.ID, from, t)
	if err != nil {
		return nil, StorageError("cancel appointment", err)
	}
	s.metrics.TransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()

	payload := map[string]any{"from": string(appt.Status), "reason": t.Reason}
	if t.By != nil {
		payload["by"] = t.By.String()
	}
	s.logEvent(ctx, &updated.ID, &updated.SlotID, EventAppointmentCancelled, payload)

	if s.opts.ReleaseSlotOnCancel {
		s.releaseSlot(ctx, updated)
	}
	return updated, nil
}

// releaseSlot reopens the slot of a cancelled appointment. The appointment is
// already cancelled at this point, so a failure here only strands the slot;
// the reconciliation sweep reports it.
func (s *Service) releaseSlot(ctx context.Context, appt *Appointment) {
	released, err := s.repo.ReleaseSlot(ctx, appt.SlotID)
	if err != nil {
		s.log.Error("release slot after cancellation",
			zap.Stringer("appointment_id", appt.ID),
			zap.Stringer("slot_id", appt.SlotID),
			zap.Error(err))
		return
	}
	if !released {
		return
	}
	s.invalidate(ctx, appt.DoctorID, appt.SlotDate)
	s.logEvent(ctx, &appt.ID, &appt.SlotID, EventSlotReleased, map[string]any{"reason": "cancelled"})
}

// ExpireUnconfirmed cancels booked appointments left unconfirmed longer than
// the confirmation timeout. It is called by the expiry worker. Only booked
// appointments are eligible, so one confirmed after the scan is left alone.
func (s *Service) ExpireUnconfirmed(ctx context.Context) (int, error) {
	if s.opts.ConfirmTimeout <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.opts.ConfirmTimeout)
	candidates, err := s.repo.FindUnconfirmedBefore(ctx, cutoff)
	if err != nil {
		return 0, StorageError("find unconfirmed appointments", err)
	}

	expired := 0
	for i := range candidates {
		appt := &candidates[i]
		_, err := s.cancel(ctx, appt, []AppointmentStatus{StatusBooked},
			Transition{To: StatusCancelled, At: s.now(), Reason: CancelReasonConfirmTimeout})
		if err != nil {
			// Confirmed or cancelled by someone else since the scan.
			s.log.Info("skip expiring appointment", zap.Stringer("appointment_id", appt.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// FindOrphanedSlots reports booked slots that no live appointment references
// and that have been booked longer than grace. Repairing them is left to an
// operator.
func (s *Service) FindOrphanedSlots(ctx context.Context, grace time.Duration) ([]Slot, error) {
	orphans, err := s.repo.FindOrphanedSlots(ctx, s.now().Add(-grace))
	if err != nil {
		return nil, StorageError("find orphaned slots", err)
	}

	s.metrics.OrphanedSlots.Set(float64(len(orphans)))
	for _, slot := range orphans {
		s.log.Warn("booked slot without appointment",
			zap.Stringer("slot_id", slot.ID),
			zap.Stringer("doctor_id", slot.DoctorID),
			zap.String("date", slot.Date.Format(time.DateOnly)),
			zap.String("time", slot.Time),
			zap.Time("booked_at", slot.UpdatedAt))
	}
	return orphans, nil
}
