package appointment

import (
	"time"

	"github.com/google/uuid"
)

// State transitions:
//
//	booked → confirmed → completed
//	booked → cancelled
//	confirmed → cancelled
type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "booked"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusBooked, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusBooked:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCancelled: {},
	StatusCompleted: {},
}

// sourcesOf lists the states that may move to target.
func sourcesOf(target AppointmentStatus) []AppointmentStatus {
	var from []AppointmentStatus
	for src, targets := range transitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	return from
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentOnline    PaymentMethod = "online"
	PaymentInsurance PaymentMethod = "insurance"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentOnline, PaymentInsurance:
		return true
	}
	return false
}

// PaymentStatus is a passive label; nothing in the booking core settles payments.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	CreatedAt time.Time
}

type Room struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Slot is one concrete bookable unit. Date is a calendar date held at UTC
// midnight; Time is the local time-of-day as "15:04".
type Slot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	RoomID          *uuid.UUID
	Date            time.Time
	Time            string
	DurationMinutes int
	Status          SlotStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key is the generator's uniqueness key for the slot.
func (s Slot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, ClinicID: s.ClinicID, Date: s.Date.Format(time.DateOnly), Time: s.Time}
}

type SlotKey struct {
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	Date     string
	Time     string
}

type Payment struct {
	Amount        int64 // minor currency units
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	Timestamp     time.Time
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	RoomID    *uuid.UUID
	SlotID    uuid.UUID
	SlotDate  time.Time
	SlotTime  string
	Status    AppointmentStatus
	Payment   Payment
	Notes     string

	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancelledBy        *uuid.UUID
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) CanTransitionTo(next AppointmentStatus) bool {
	for _, s := range transitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// PaymentRecord mirrors Appointment.Payment for reporting. It is never read
// back by the booking core.
type PaymentRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Payment
	CreatedAt time.Time
}

type Rating struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Score         int
	Comment       string
	CreatedAt     time.Time
}

type RatingSummary struct {
	DoctorID uuid.UUID
	Count    int
	Average  float64
	Ratings  []Rating
}

// Transition describes a status change applied by the repository together
// with its bookkeeping columns.
type Transition struct {
	To     AppointmentStatus
	At     time.Time
	By     *uuid.UUID
	Reason string
}

type ListQuery struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	Limit     int
	Offset    int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
