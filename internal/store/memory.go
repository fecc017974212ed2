// Package store holds the booking repositories: Postgres for deployments and
// an in-process store for tests, demos and the simulate command.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// Directory writes the reference entities owned by other services. Only the
// seed command and tests create them.
type Directory interface {
	CreatePatient(ctx context.Context, p *appointment.Patient) error
	CreateDoctor(ctx context.Context, d *appointment.Doctor) error
	CreateClinic(ctx context.Context, c *appointment.Clinic) error
	CreateRoom(ctx context.Context, r *appointment.Room) error
}

var (
	_ appointment.Repository = (*Memory)(nil)
	_ schedule.Repository    = (*Memory)(nil)
	_ Directory              = (*Memory)(nil)
)

// Memory keeps everything behind one mutex, which gives ClaimSlot, the live
// appointment check and the rating key the same atomicity the Postgres
// statements get from row locks and unique indexes.
type Memory struct {
	mu sync.Mutex

	patients  map[uuid.UUID]appointment.Patient
	doctors   map[uuid.UUID]appointment.Doctor
	clinics   map[uuid.UUID]appointment.Clinic
	rooms     map[uuid.UUID]appointment.Room
	schedules map[uuid.UUID][]schedule.ScheduleDay

	slots    map[uuid.UUID]appointment.Slot
	slotKeys map[appointment.SlotKey]uuid.UUID

	appointments map[uuid.UUID]appointment.Appointment
	liveBySlot   map[uuid.UUID]uuid.UUID
	payments     map[uuid.UUID]appointment.PaymentRecord
	ratings      map[uuid.UUID]appointment.Rating // by appointment id

	events []appointment.EventLog
	nextEv int64
}

func NewMemory() *Memory {
	return &Memory{
		patients:     make(map[uuid.UUID]appointment.Patient),
		doctors:      make(map[uuid.UUID]appointment.Doctor),
		clinics:      make(map[uuid.UUID]appointment.Clinic),
		rooms:        make(map[uuid.UUID]appointment.Room),
		schedules:    make(map[uuid.UUID][]schedule.ScheduleDay),
		slots:        make(map[uuid.UUID]appointment.Slot),
		slotKeys:     make(map[appointment.SlotKey]uuid.UUID),
		appointments: make(map[uuid.UUID]appointment.Appointment),
		liveBySlot:   make(map[uuid.UUID]uuid.UUID),
		payments:     make(map[uuid.UUID]appointment.PaymentRecord),
		ratings:      make(map[uuid.UUID]appointment.Rating),
	}
}

// Directory

func (m *Memory) CreatePatient(_ context.Context, p *appointment.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.patients[p.ID]; ok {
		return fmt.Errorf("patient %s already exists", p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.patients[p.ID] = *p
	return nil
}

func (m *Memory) CreateDoctor(_ context.Context, d *appointment.Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doctors[d.ID]; ok {
		return fmt.Errorf("doctor %s already exists", d.ID)
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	m.doctors[d.ID] = *d
	return nil
}

func (m *Memory) CreateClinic(_ context.Context, c *appointment.Clinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clinics[c.ID]; ok {
		return fmt.Errorf("clinic %s already exists", c.ID)
	}
	c.CreatedAt = time.Now().UTC()
	m.clinics[c.ID] = *c
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, r *appointment.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clinics[r.ClinicID]; !ok {
		return appointment.ErrClinicNotFound
	}
	if _, ok := m.rooms[r.ID]; ok {
		return fmt.Errorf("room %s already exists", r.ID)
	}
	r.CreatedAt = time.Now().UTC()
	m.rooms[r.ID] = *r
	return nil
}

func (m *Memory) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (m *Memory) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (m *Memory) GetClinicByID(_ context.Context, id uuid.UUID) (*appointment.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clinics[id]
	if !ok {
		return nil, appointment.ErrClinicNotFound
	}
	return &c, nil
}

func (m *Memory) GetRoomByID(_ context.Context, id uuid.UUID) (*appointment.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return nil, appointment.ErrRoomNotFound
	}
	return &r, nil
}

// Schedule

func (m *Memory) ReplaceSchedule(_ context.Context, doctorID uuid.UUID, days []schedule.ScheduleDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[doctorID] = append([]schedule.ScheduleDay(nil), days...)
	return nil
}

func (m *Memory) ListSchedule(_ context.Context, doctorID uuid.UUID) ([]schedule.ScheduleDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]schedule.ScheduleDay(nil), m.schedules[doctorID]...), nil
}

func (m *Memory) InsertSlotsIfAbsent(_ context.Context, slots []appointment.Slot) ([]appointment.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var created []appointment.Slot
	for _, s := range slots {
		key := s.Key()
		if _, ok := m.slotKeys[key]; ok {
			continue
		}
		s.ID = uuid.New()
		s.Status = appointment.SlotAvailable
		s.CreatedAt, s.UpdatedAt = now, now
		m.slots[s.ID] = s
		m.slotKeys[key] = s.ID
		created = append(created, s)
	}
	return created, nil
}

// Slots

func (m *Memory) GetSlotByID(_ context.Context, id uuid.UUID) (*appointment.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, appointment.ErrSlotNotFound
	}
	return &s, nil
}

func (m *Memory) ListSlots(_ context.Context, doctorID uuid.UUID, date time.Time, status *appointment.SlotStatus) ([]appointment.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Slot
	for _, s := range m.slots {
		if s.DoctorID != doctorID || !s.Date.Equal(date) {
			continue
		}
		if status != nil && s.Status != *status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *Memory) ClaimSlot(_ context.Context, c appointment.SlotClaim) (*appointment.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[c.SlotID]
	if !ok || !c.Matches(s) || s.Status != appointment.SlotAvailable {
		return nil, appointment.ErrSlotUnavailable
	}

	s.Status = appointment.SlotBooked
	s.UpdatedAt = time.Now().UTC()
	m.slots[s.ID] = s
	return &s, nil
}

func (m *Memory) ReleaseSlot(_ context.Context, slotID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok || s.Status != appointment.SlotBooked {
		return false, nil
	}
	if _, live := m.liveBySlot[slotID]; live {
		return false, nil
	}

	s.Status = appointment.SlotAvailable
	s.UpdatedAt = time.Now().UTC()
	m.slots[slotID] = s
	return true, nil
}

func (m *Memory) FindOrphanedSlots(_ context.Context, bookedBefore time.Time) ([]appointment.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Slot
	for _, s := range m.slots {
		if s.Status != appointment.SlotBooked || !s.UpdatedAt.Before(bookedBefore) {
			continue
		}
		if _, live := m.liveBySlot[s.ID]; live {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Appointments

func (m *Memory) CreateAppointment(_ context.Context, a *appointment.Appointment, p *appointment.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if other, live := m.liveBySlot[a.SlotID]; live {
		return fmt.Errorf("slot %s already has live appointment %s", a.SlotID, other)
	}
	if _, ok := m.appointments[a.ID]; ok {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}

	m.appointments[a.ID] = *a
	if a.Status != appointment.StatusCancelled {
		m.liveBySlot[a.SlotID] = a.ID
	}
	m.payments[p.ID] = *p
	return nil
}

func (m *Memory) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Memory) ListAppointments(_ context.Context, q appointment.ListQuery) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range m.appointments {
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if q.DoctorID != nil && a.DoctorID != *q.DoctorID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) TransitionAppointment(_ context.Context, id uuid.UUID, from []appointment.AppointmentStatus, t appointment.Transition) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	allowed := false
	for _, s := range from {
		if a.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: appointment %s is %s", appointment.ErrInvalidTransition, id, a.Status)
	}

	at := t.At
	a.Status = t.To
	a.UpdatedAt = at
	switch t.To {
	case appointment.StatusConfirmed:
		a.ConfirmedAt = &at
	case appointment.StatusCompleted:
		a.CompletedAt = &at
	case appointment.StatusCancelled:
		a.CancelledAt = &at
		a.CancelledBy = t.By
		a.CancellationReason = t.Reason
		if m.liveBySlot[a.SlotID] == a.ID {
			delete(m.liveBySlot, a.SlotID)
		}
	}
	m.appointments[id] = a
	return &a, nil
}

func (m *Memory) FindUnconfirmedBefore(_ context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range m.appointments {
		if a.Status == appointment.StatusBooked && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Ratings

func (m *Memory) CreateRating(_ context.Context, r *appointment.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ratings[r.AppointmentID]; ok {
		return appointment.ErrAlreadyRated
	}
	m.ratings[r.AppointmentID] = *r
	return nil
}

func (m *Memory) ListRatingsByDoctor(_ context.Context, doctorID uuid.UUID) ([]appointment.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []appointment.Rating
	for _, r := range m.ratings {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Events

func (m *Memory) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEv++
	ev.ID = m.nextEv
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded event log, oldest first.
func (m *Memory) Events() []appointment.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]appointment.EventLog(nil), m.events...)
}

// LiveAppointmentsBySlot counts non-cancelled appointments per slot. The
// simulate command uses it to audit a booking race.
func (m *Memory) LiveAppointmentsBySlot() map[uuid.UUID]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID]int)
	for _, a := range m.appointments {
		if a.Status != appointment.StatusCancelled {
			out[a.SlotID]++
		}
	}
	return out
}
