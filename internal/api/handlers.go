package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appointment.Invalidf("could not parse JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, appointment.Invalidf("%s must be a valid UUID", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appointment.Invalidf("%s must be an integer", name)
	}
	return n, nil
}

// Slots and schedules

func listAvailableSlotsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slots, err := svc.ListAvailableSlots(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("date"))
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getScheduleHandler(svc *schedule.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeSchedule(w, r, svc, log, doctorID)
	}
}

func getMyScheduleHandler(svc *schedule.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := principal(r)
		switch {
		case actor.IsZero():
			respondError(w, r, log, appointment.ErrUnauthorized)
			return
		case actor.Role != auth.RoleDoctor:
			respondError(w, r, log, appointment.ErrForbidden)
			return
		}
		writeSchedule(w, r, svc, log, actor.ID)
	}
}

func writeSchedule(w http.ResponseWriter, r *http.Request, svc *schedule.Service, log *zap.Logger, doctorID uuid.UUID) {
	days, err := svc.WeeklySchedule(r.Context(), doctorID)
	if err != nil {
		respondError(w, r, log, err)
		return
	}

	resp := make([]ScheduleDayResponse, 0, len(days))
	for _, d := range days {
		resp = append(resp, toScheduleDayResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func saveMyScheduleHandler(svc *schedule.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveScheduleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		input := make([]schedule.DayInput, 0, len(req.Days))
		for _, d := range req.Days {
			active := true
			if d.IsActive != nil {
				active = *d.IsActive
			}
			input = append(input, schedule.DayInput{
				DayOfWeek:           d.DayOfWeek,
				ClinicID:            d.ClinicID,
				RoomID:              d.RoomID,
				StartTime:           d.StartTime,
				EndTime:             d.EndTime,
				SlotDurationMinutes: d.SlotDurationMinutes,
				IsActive:            active,
			})
		}

		days, err := svc.SaveWeeklySchedule(r.Context(), principal(r), input)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := make([]ScheduleDayResponse, 0, len(days))
		for _, d := range days {
			resp = append(resp, toScheduleDayResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func generateSlotsHandler(svc *schedule.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		created, err := svc.GenerateSlots(r.Context(), principal(r), req.FromDate, req.ToDate)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, GenerateSlotsResponse{CreatedCount: created})
	}
}

func doctorRatingsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		summary, err := svc.DoctorRatings(r.Context(), doctorID)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := RatingSummaryResponse{
			DoctorID: summary.DoctorID,
			Count:    summary.Count,
			Average:  summary.Average,
			Ratings:  make([]RatingResponse, 0, len(summary.Ratings)),
		}
		for _, rt := range summary.Ratings {
			resp.Ratings = append(resp.Ratings, toRatingResponse(rt))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Appointments

func bookAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		appt, err := svc.Book(r.Context(), principal(r), appointment.BookRequest{
			DoctorID:      req.DoctorID,
			ClinicID:      req.ClinicID,
			RoomID:        req.RoomID,
			SlotID:        req.SlotID,
			PaymentAmount: req.PaymentAmount,
			PaymentMethod: req.PaymentMethod,
			Notes:         req.Notes,
		})
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentEnvelope{Appointment: toAppointmentResponse(appt)})
	}
}

func listAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		offset, err := queryInt(r, "offset")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		q := appointment.ListQuery{Limit: limit, Offset: offset}
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := appointment.AppointmentStatus(raw)
			q.Status = &st
		}

		appts, err := svc.ListAppointments(r.Context(), principal(r), q)
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        limit,
			Offset:       offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), principal(r), id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AppointmentEnvelope{Appointment: toAppointmentResponse(appt)})
	}
}

func confirmAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		appt, err := svc.Confirm(r.Context(), principal(r), id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AppointmentEnvelope{Appointment: toAppointmentResponse(appt)})
	}
}

func completeAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		appt, err := svc.Complete(r.Context(), principal(r), id)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AppointmentEnvelope{Appointment: toAppointmentResponse(appt)})
	}
}

func cancelAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		// The body is optional.
		var req CancelAppointmentRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				respondError(w, r, log, err)
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), principal(r), id, req.Reason)
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, AppointmentEnvelope{Appointment: toAppointmentResponse(appt)})
	}
}

func rateAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, log, err)
			return
		}

		var req RateAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, log, err)
			return
		}

		rating, err := svc.Rate(r.Context(), principal(r), id, appointment.RateRequest{Score: req.Score, Comment: req.Comment})
		if err != nil {
			respondError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRatingResponse(*rating))
	}
}
