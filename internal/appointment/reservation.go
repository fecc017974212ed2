package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/auth"
)

const (
	maxNotesLength      = 2000
	compensationTimeout = 5 * time.Second
)

// BookRequest carries the caller-supplied identifiers as received so that
// malformed input is reported as ErrInvalidRequest by the engine itself.
// The patient is never part of the request; it comes from the session.
type BookRequest struct {
	DoctorID      string
	ClinicID      string
	RoomID        string
	SlotID        string
	PaymentAmount int64
	PaymentMethod string
	Notes         string
}

type bookCommand struct {
	claim  SlotClaim
	amount int64
	method PaymentMethod
	notes  string
}

func (r BookRequest) validate() (bookCommand, error) {
	var cmd bookCommand
	var err error

	if cmd.claim.DoctorID, err = parseID("doctorId", r.DoctorID); err != nil {
		return cmd, err
	}
	if cmd.claim.ClinicID, err = parseID("clinicId", r.ClinicID); err != nil {
		return cmd, err
	}
	if cmd.claim.SlotID, err = parseID("slotId", r.SlotID); err != nil {
		return cmd, err
	}
	if r.RoomID != "" {
		roomID, err := parseID("roomId", r.RoomID)
		if err != nil {
			return cmd, err
		}
		cmd.claim.RoomID = &roomID
	}

	if r.PaymentAmount < 0 {
		return cmd, Invalidf("paymentAmount must not be negative")
	}
	cmd.amount = r.PaymentAmount

	cmd.method = PaymentMethod(strings.ToLower(strings.TrimSpace(r.PaymentMethod)))
	if !cmd.method.IsValid() {
		return cmd, Invalidf("paymentMethod must be one of cash, card, online, insurance")
	}

	cmd.notes = strings.TrimSpace(r.Notes)
	if len(cmd.notes) > maxNotesLength {
		return cmd, Invalidf("notes must be at most %d characters", maxNotesLength)
	}
	return cmd, nil
}

// Book grants a slot to the acting patient. The claim is one conditional
// write in the store, so of N concurrent requests for a slot exactly one gets
// past ClaimSlot and the rest receive ErrSlotUnavailable. Only the winner
// writes the appointment and its payment mirror.
func (s *Service) Book(ctx context.Context, actor auth.Principal, req BookRequest) (*Appointment, error) {
	if err := requireRole(actor, auth.RolePatient); err != nil {
		return nil, err
	}

	cmd, err := req.validate()
	if err != nil {
		s.metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, actor.ID); err != nil {
		return nil, StorageError("load patient", err)
	}

	slot, err := s.repo.ClaimSlot(ctx, cmd.claim)
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			return nil, s.explainUnavailable(ctx, cmd.claim)
		}
		s.metrics.BookingsTotal.WithLabelValues("error").Inc()
		return nil, StorageError("claim slot", err)
	}

	now := s.now()
	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: actor.ID,
		DoctorID:  slot.DoctorID,
		ClinicID:  slot.ClinicID,
		RoomID:    slot.RoomID,
		SlotID:    slot.ID,
		SlotDate:  slot.Date,
		SlotTime:  slot.Time,
		Status:    StatusBooked,
		Payment: Payment{
			Amount:        cmd.amount,
			Method:        cmd.method,
			Status:        PaymentPending,
			TransactionID: "txn_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Timestamp:     now,
		},
		Notes:     cmd.notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record := &PaymentRecord{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Payment:       appt.Payment,
		CreatedAt:     now,
	}

	if err := s.repo.CreateAppointment(ctx, appt, record); err != nil {
		return nil, s.compensate(ctx, slot, appt.ID, err)
	}

	s.metrics.BookingsTotal.WithLabelValues("booked").Inc()
	s.metrics.TransitionsTotal.WithLabelValues(string(StatusBooked)).Inc()
	s.invalidate(ctx, slot.DoctorID, slot.Date)
	s.logEvent(ctx, &appt.ID, &slot.ID, EventAppointmentBooked, map[string]any{
		"patient_id":     appt.PatientID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"date":           slot.Date.Format(time.DateOnly),
		"time":           slot.Time,
		"payment_method": string(appt.Payment.Method),
		"payment_amount": appt.Payment.Amount,
	})

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", appt.ID),
		zap.Stringer("slot_id", slot.ID),
		zap.Stringer("patient_id", appt.PatientID))

	return appt, nil
}

// explainUnavailable runs after a failed claim, so it never decides who gets
// the slot. It only tells a missing or mismatched slot apart from a taken one.
func (s *Service) explainUnavailable(ctx context.Context, c SlotClaim) error {
	slot, err := s.repo.GetSlotByID(ctx, c.SlotID)
	switch {
	case errors.Is(err, ErrSlotNotFound):
		s.metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return ErrSlotNotFound
	case err != nil:
		// The claim outcome is already known; a failing lookup does not change it.
		s.log.Warn("lookup slot after failed claim", zap.Stringer("slot_id", c.SlotID), zap.Error(err))
	case c.RoomID == nil && slot.RoomID != nil && slot.DoctorID == c.DoctorID && slot.ClinicID == c.ClinicID:
		s.metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return Invalidf("roomId is required for slot %s", c.SlotID)
	case !c.Matches(*slot):
		s.metrics.BookingsTotal.WithLabelValues("invalid").Inc()
		return ErrSlotNotFound
	}
	s.metrics.BookingsTotal.WithLabelValues("slot_unavailable").Inc()
	return ErrSlotUnavailable
}

// compensate handles a claimed slot whose appointment write failed. It tries
// to hand the slot back; ReleaseSlot refuses if the write did land after all,
// so a lost response can never free a slot that has a live appointment.
func (s *Service) compensate(ctx context.Context, slot *Slot, appointmentID uuid.UUID, cause error) error {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	released, relErr := s.repo.ReleaseSlot(relCtx, slot.ID)
	if released {
		s.invalidate(relCtx, slot.DoctorID, slot.Date)
	}

	s.metrics.BookingsTotal.WithLabelValues("inconsistent").Inc()
	s.metrics.InconsistenciesTotal.Inc()

	fields := []zap.Field{
		zap.Stringer("slot_id", slot.ID),
		zap.Stringer("appointment_id", appointmentID),
		zap.Bool("slot_released", released),
		zap.Error(cause),
	}
	if relErr != nil {
		fields = append(fields, zap.NamedError("release_error", relErr))
	}
	s.log.Error("slot claimed but appointment write failed", fields...)

	s.logEvent(relCtx, nil, &slot.ID, EventInconsistentState, map[string]any{
		"appointment_id": appointmentID.String(),
		"slot_released":  released,
		"error":          cause.Error(),
	})

	return &InconsistencyError{
		SlotID:        slot.ID,
		AppointmentID: appointmentID,
		SlotReleased:  released,
		Err:           cause,
	}
}
