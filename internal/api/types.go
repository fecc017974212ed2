package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type BookAppointmentRequest struct {
	DoctorID      string `json:"doctorId"`
	ClinicID      string `json:"clinicId"`
	RoomID        string `json:"roomId,omitempty"`
	SlotID        string `json:"slotId"`
	PaymentAmount int64  `json:"paymentAmount"`
	PaymentMethod string `json:"paymentMethod"`
	Notes         string `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RateAppointmentRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

type ScheduleDayRequest struct {
	DayOfWeek           int    `json:"dayOfWeek"`
	ClinicID            string `json:"clinicId"`
	RoomID              string `json:"roomId,omitempty"`
	StartTime           string `json:"startTime"`
	EndTime             string `json:"endTime"`
	SlotDurationMinutes int    `json:"slotDurationMinutes"`
	IsActive            *bool  `json:"isActive,omitempty"` // defaults to true
}

type SaveScheduleRequest struct {
	Days []ScheduleDayRequest `json:"days"`
}

type GenerateSlotsRequest struct {
	FromDate string `json:"fromDate"`
	ToDate   string `json:"toDate"`
}

type GenerateSlotsResponse struct {
	CreatedCount int `json:"createdCount"`
}

type PaymentResponse struct {
	Amount        int64     `json:"amount"`
	Method        string    `json:"method"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patientId"`
	DoctorID           uuid.UUID       `json:"doctorId"`
	ClinicID           uuid.UUID       `json:"clinicId"`
	RoomID             *uuid.UUID      `json:"roomId,omitempty"`
	SlotID             uuid.UUID       `json:"slotId"`
	Date               string          `json:"date"`
	Time               string          `json:"time"`
	Status             string          `json:"status"`
	Payment            PaymentResponse `json:"payment"`
	Notes              string          `json:"notes,omitempty"`
	ConfirmedAt        *time.Time      `json:"confirmedAt,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancelledBy        *uuid.UUID      `json:"cancelledBy,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type AppointmentEnvelope struct {
	Appointment AppointmentResponse `json:"appointment"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type SlotResponse struct {
	SlotID          uuid.UUID  `json:"slotId"`
	DoctorID        uuid.UUID  `json:"doctorId"`
	ClinicID        uuid.UUID  `json:"clinicId"`
	RoomID          *uuid.UUID `json:"roomId"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"durationMinutes"`
}

type ScheduleDayResponse struct {
	ID                  uuid.UUID  `json:"id"`
	DayOfWeek           int        `json:"dayOfWeek"`
	ClinicID            uuid.UUID  `json:"clinicId"`
	RoomID              *uuid.UUID `json:"roomId,omitempty"`
	StartTime           string     `json:"startTime"`
	EndTime             string     `json:"endTime"`
	SlotDurationMinutes int        `json:"slotDurationMinutes"`
	IsActive            bool       `json:"isActive"`
}

type RatingResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	DoctorID      uuid.UUID `json:"doctorId"`
	Score         int       `json:"score"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type RatingSummaryResponse struct {
	DoctorID uuid.UUID        `json:"doctorId"`
	Count    int              `json:"count"`
	Average  float64          `json:"average"`
	Ratings  []RatingResponse `json:"ratings"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		ClinicID:  a.ClinicID,
		RoomID:    a.RoomID,
		SlotID:    a.SlotID,
		Date:      a.SlotDate.Format(time.DateOnly),
		Time:      a.SlotTime,
		Status:    string(a.Status),
		Payment: PaymentResponse{
			Amount:        a.Payment.Amount,
			Method:        string(a.Payment.Method),
			Status:        string(a.Payment.Status),
			TransactionID: a.Payment.TransactionID,
			Timestamp:     a.Payment.Timestamp,
		},
		Notes:              a.Notes,
		ConfirmedAt:        a.ConfirmedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		SlotID:          s.ID,
		DoctorID:        s.DoctorID,
		ClinicID:        s.ClinicID,
		RoomID:          s.RoomID,
		Date:            s.Date.Format(time.DateOnly),
		Time:            s.Time,
		DurationMinutes: s.DurationMinutes,
	}
}

func toScheduleDayResponse(d schedule.ScheduleDay) ScheduleDayResponse {
	return ScheduleDayResponse{
		ID:                  d.ID,
		DayOfWeek:           int(d.DayOfWeek),
		ClinicID:            d.ClinicID,
		RoomID:              d.RoomID,
		StartTime:           d.StartTime,
		EndTime:             d.EndTime,
		SlotDurationMinutes: d.SlotDurationMinutes,
		IsActive:            d.IsActive,
	}
}

func toRatingResponse(r appointment.Rating) RatingResponse {
	return RatingResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		DoctorID:      r.DoctorID,
		Score:         r.Score,
		Comment:       r.Comment,
		CreatedAt:     r.CreatedAt,
	}
}
