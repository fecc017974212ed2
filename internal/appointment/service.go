package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentRated     = "APPOINTMENT_RATED"
	EventSlotReleased         = "SLOT_RELEASED"
	EventInconsistentState    = "INCONSISTENT_STATE"
)

type Options struct {
	// ReleaseSlotOnCancel makes a cancelled appointment's slot bookable again.
	ReleaseSlotOnCancel bool
	// ConfirmTimeout is how long a booked appointment may stay unconfirmed
	// before the expiry sweep cancels it. Zero disables the sweep.
	ConfirmTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Service struct {
	repo    Repository
	cache   SlotCache
	log     *zap.Logger
	metrics *metrics.Collector
	opts    Options
}

func NewService(repo Repository, cache SlotCache, log *zap.Logger, m *metrics.Collector, opts Options) *Service {
	if cache == nil {
		cache = NoopCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector("booking")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		log:     log,
		metrics: m,
		opts:    opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

func requireRole(actor auth.Principal, role auth.Role) error {
	if actor.IsZero() {
		return ErrUnauthorized
	}
	if actor.Role != role {
		return fmt.Errorf("%w: requires role %s", ErrForbidden, role)
	}
	return nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, Invalidf("%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, Invalidf("%s must be a valid UUID", field)
	}
	return id, nil
}

// GetAppointment returns an appointment visible to actor: its patient or its doctor.
func (s *Service) GetAppointment(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	if actor.IsZero() {
		return nil, ErrUnauthorized
	}
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, StorageError("get appointment", err)
	}
	if !canSee(actor, appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListAppointments lists the actor's own appointments. Patients see the ones
// they booked, doctors the ones booked with them.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Principal, q ListQuery) ([]Appointment, error) {
	switch {
	case actor.IsZero():
		return nil, ErrUnauthorized
	case actor.Role == auth.RolePatient:
		q.PatientID, q.DoctorID = &actor.ID, nil
	case actor.Role == auth.RoleDoctor:
		q.DoctorID, q.PatientID = &actor.ID, nil
	default:
		return nil, ErrForbidden
	}
	if q.Status != nil && !q.Status.IsValid() {
		return nil, Invalidf("unknown status %q", *q.Status)
	}
	if q.Limit <= 0 {
		q.Limit = 20 // default
	}
	if q.Limit > 100 {
		q.Limit = 100 // max
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	appts, err := s.repo.ListAppointments(ctx, q)
	if err != nil {
		return nil, StorageError("list appointments", err)
	}
	return appts, nil
}

func canSee(actor auth.Principal, a *Appointment) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.ID
	case auth.RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

func (s *Service) logEvent(ctx context.Context, appointmentID, slotID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log", zap.String("event", eventType), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if err := s.cache.Invalidate(ctx, doctorID, date); err != nil {
		s.log.Warn("invalidate slot cache",
			zap.Stringer("doctor_id", doctorID),
			zap.String("date", date.Format(time.DateOnly)),
			zap.Error(err))
	}
}
