package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	"github.com/hackgods/clinic-slot-booking/internal/store"
)

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	tokens   *auth.Manager
	doctorID uuid.UUID
	clinicID uuid.UUID
	patients []uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	doc := &appointment.Doctor{ID: uuid.New(), Name: "Dr. Grey"}
	clinic := &appointment.Clinic{ID: uuid.New(), Name: "Central"}
	require.NoError(t, mem.CreateDoctor(ctx, doc))
	require.NoError(t, mem.CreateClinic(ctx, clinic))

	var patients []uuid.UUID
	for i := 0; i < 2; i++ {
		p := &appointment.Patient{ID: uuid.New(), Name: fmt.Sprintf("patient-%d", i)}
		require.NoError(t, mem.CreatePatient(ctx, p))
		patients = append(patients, p.ID)
	}

	m := metrics.NewCollector("test")
	appts := appointment.NewService(mem, nil, nil, m, appointment.Options{ReleaseSlotOnCancel: true})
	schedules := schedule.NewService(mem, nil, nil, m, 92)
	tokens := auth.NewManager("test-secret", "test", time.Hour)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Appointments: appts,
		Schedules:    schedules,
		Tokens:       tokens,
		Metrics:      m,
		Env:          "test",
	}))
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, tokens: tokens, doctorID: doc.ID, clinicID: clinic.ID, patients: patients}
}

func (s *testServer) token(id uuid.UUID, role auth.Role) string {
	tok, err := s.tokens.Issue(auth.Principal{ID: id, Role: role})
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any, out any) int {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// mondaySlots saves a Monday 09:00-10:00 schedule and generates 2025-06-02.
func (s *testServer) mondaySlots() []SlotResponse {
	doctor := s.token(s.doctorID, auth.RoleDoctor)

	status := s.do(http.MethodPut, "/doctors/me/schedule", doctor, SaveScheduleRequest{Days: []ScheduleDayRequest{{
		DayOfWeek:           1,
		ClinicID:            s.clinicID.String(),
		StartTime:           "09:00",
		EndTime:             "10:00",
		SlotDurationMinutes: 30,
	}}}, nil)
	require.Equal(s.t, http.StatusOK, status)

	var gen GenerateSlotsResponse
	status = s.do(http.MethodPost, "/doctors/me/slots/generate", doctor, GenerateSlotsRequest{FromDate: "2025-06-02", ToDate: "2025-06-02"}, &gen)
	require.Equal(s.t, http.StatusOK, status)
	require.Equal(s.t, 2, gen.CreatedCount)

	var slots []SlotResponse
	status = s.do(http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=2025-06-02", s.doctorID), "", nil, &slots)
	require.Equal(s.t, http.StatusOK, status)
	return slots
}

func (s *testServer) book(patient uuid.UUID, slotID uuid.UUID, out any) int {
	return s.do(http.MethodPost, "/appointments", s.token(patient, auth.RolePatient), BookAppointmentRequest{
		DoctorID:      s.doctorID.String(),
		ClinicID:      s.clinicID.String(),
		SlotID:        slotID.String(),
		PaymentAmount: 2500,
		PaymentMethod: "card",
	}, out)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)

	slots := s.mondaySlots()
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Time)
	assert.Equal(t, "09:30", slots[1].Time)

	var booked AppointmentEnvelope
	require.Equal(t, http.StatusCreated, s.book(s.patients[0], slots[0].SlotID, &booked))
	assert.Equal(t, "booked", booked.Appointment.Status)
	assert.Equal(t, s.patients[0], booked.Appointment.PatientID)
	assert.Equal(t, "pending", booked.Appointment.Payment.Status)

	var conflict ErrorResponse
	assert.Equal(t, http.StatusConflict, s.book(s.patients[1], slots[0].SlotID, &conflict))
	assert.Equal(t, "slot_unavailable", conflict.Error)

	var remaining []SlotResponse
	s.do(http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=2025-06-02", s.doctorID), "", nil, &remaining)
	require.Len(t, remaining, 1)
	assert.Equal(t, "09:30", remaining[0].Time)

	assert.Equal(t, http.StatusCreated, s.book(s.patients[1], remaining[0].SlotID, nil))
}

func TestBookingRequiresPatientToken(t *testing.T) {
	s := newTestServer(t)
	slots := s.mondaySlots()

	body := BookAppointmentRequest{DoctorID: s.doctorID.String(), ClinicID: s.clinicID.String(), SlotID: slots[0].SlotID.String(), PaymentMethod: "cash"}

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/appointments", "", body, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/appointments", "not-a-jwt", body, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/appointments", s.token(s.doctorID, auth.RoleDoctor), body, nil))
}

func TestBookingValidation(t *testing.T) {
	s := newTestServer(t)
	s.mondaySlots()

	var resp ErrorResponse
	status := s.do(http.MethodPost, "/appointments", s.token(s.patients[0], auth.RolePatient), BookAppointmentRequest{
		DoctorID:      s.doctorID.String(),
		ClinicID:      "nope",
		SlotID:        uuid.NewString(),
		PaymentMethod: "card",
	}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", resp.Error)

	status = s.book(s.patients[0], uuid.New(), &resp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Error)
}

func TestCancelReleasesSlotAndEnforcesOwnership(t *testing.T) {
	s := newTestServer(t)
	slots := s.mondaySlots()

	var booked AppointmentEnvelope
	require.Equal(t, http.StatusCreated, s.book(s.patients[0], slots[0].SlotID, &booked))
	path := fmt.Sprintf("/appointments/%s", booked.Appointment.ID)

	other := s.token(s.patients[1], auth.RolePatient)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, other, nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path+"/cancel", other, CancelAppointmentRequest{}, nil))

	var cancelled AppointmentEnvelope
	owner := s.token(s.patients[0], auth.RolePatient)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/cancel", owner, CancelAppointmentRequest{Reason: "conflict"}, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Appointment.Status)
	assert.Equal(t, "conflict", cancelled.Appointment.CancellationReason)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path+"/cancel", owner, nil, nil))

	// Released slot can be booked again.
	assert.Equal(t, http.StatusCreated, s.book(s.patients[1], slots[0].SlotID, nil))
}

func TestLifecycleAndRating(t *testing.T) {
	s := newTestServer(t)
	slots := s.mondaySlots()

	var booked AppointmentEnvelope
	require.Equal(t, http.StatusCreated, s.book(s.patients[0], slots[0].SlotID, &booked))
	path := fmt.Sprintf("/appointments/%s", booked.Appointment.ID)
	patient := s.token(s.patients[0], auth.RolePatient)
	doctor := s.token(s.doctorID, auth.RoleDoctor)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path+"/rating", patient, RateAppointmentRequest{Score: 5}, &errResp))
	assert.Equal(t, "invalid_transition", errResp.Error)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path+"/confirm", patient, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/confirm", doctor, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/complete", doctor, nil, nil))

	var rating RatingResponse
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, path+"/rating", patient, RateAppointmentRequest{Score: 4, Comment: "good"}, &rating))
	assert.Equal(t, 4, rating.Score)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path+"/rating", patient, RateAppointmentRequest{Score: 5}, &errResp))
	assert.Equal(t, "already_rated", errResp.Error)

	var summary RatingSummaryResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, fmt.Sprintf("/doctors/%s/ratings", s.doctorID), "", nil, &summary))
	assert.Equal(t, 1, summary.Count)
	assert.InDelta(t, 4.0, summary.Average, 0.001)
}

func TestListAppointmentsIsScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	slots := s.mondaySlots()

	require.Equal(t, http.StatusCreated, s.book(s.patients[0], slots[0].SlotID, nil))
	require.Equal(t, http.StatusCreated, s.book(s.patients[1], slots[1].SlotID, nil))

	var mine AppointmentListResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments", s.token(s.patients[0], auth.RolePatient), nil, &mine))
	require.Len(t, mine.Appointments, 1)
	assert.Equal(t, s.patients[0], mine.Appointments[0].PatientID)

	var doctors AppointmentListResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments?status=booked", s.token(s.doctorID, auth.RoleDoctor), nil, &doctors))
	assert.Len(t, doctors.Appointments, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/appointments?limit=x", s.token(s.doctorID, auth.RoleDoctor), nil, nil))
}

func TestScheduleEndpoints(t *testing.T) {
	s := newTestServer(t)
	doctor := s.token(s.doctorID, auth.RoleDoctor)

	var errResp ErrorResponse
	status := s.do(http.MethodPut, "/doctors/me/schedule", doctor, SaveScheduleRequest{Days: []ScheduleDayRequest{
		{DayOfWeek: 1, ClinicID: s.clinicID.String(), StartTime: "10:00", EndTime: "09:00", SlotDurationMinutes: 30},
	}}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, "/doctors/me/schedule",
		s.token(s.patients[0], auth.RolePatient), SaveScheduleRequest{}, nil))

	s.mondaySlots()

	var days []ScheduleDayResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, fmt.Sprintf("/doctors/%s/schedule", s.doctorID), "", nil, &days))
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].DayOfWeek)
	assert.True(t, days[0].IsActive)

	var gen GenerateSlotsResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/doctors/me/slots/generate", doctor,
		GenerateSlotsRequest{FromDate: "2025-06-01", ToDate: "2025-06-08"}, &gen))
	assert.Equal(t, 0, gen.CreatedCount, "regeneration must not duplicate slots")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	var live LivenessResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", "", nil, &live))
	assert.Equal(t, "ok", live.Status)

	resp, err := http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadinessReportsDependencies(t *testing.T) {
	h := NewHealthHandler([]Dependency{
		{Name: "store", Pinger: PingFunc(func(context.Context) error { return nil }), Required: true},
		{Name: "redis", Pinger: PingFunc(func(context.Context) error { return errors.New("down") })},
	}, "test", "v1")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "down", body.Dependencies["redis"])

	h = NewHealthHandler([]Dependency{
		{Name: "store", Pinger: PingFunc(func(context.Context) error { return errors.New("down") }), Required: true},
	}, "test", "v1")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.Invalidf("bad"), http.StatusBadRequest, "invalid_request"},
		{appointment.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
		{appointment.ErrSlotNotFound, http.StatusNotFound, "not_found"},
		{appointment.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{appointment.ErrNotRatable, http.StatusConflict, "invalid_transition"},
		{appointment.ErrAlreadyRated, http.StatusConflict, "already_rated"},
		{appointment.StorageError("op", errors.New("conn refused")), http.StatusServiceUnavailable, "storage_unavailable"},
		{&appointment.InconsistencyError{Err: appointment.StorageError("op", errors.New("boom"))}, http.StatusInternalServerError, "inconsistent_state"},
		{errors.New("surprise"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRespondErrorLogsServerFailuresOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	rec := httptest.NewRecorder()
	respondError(rec, httptest.NewRequest(http.MethodGet, "/appointments", nil), log, appointment.ErrSlotUnavailable)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, logs.Len())

	rec = httptest.NewRecorder()
	respondError(rec, httptest.NewRequest(http.MethodPost, "/appointments", nil), log, errors.New("db password is hunter2"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	assert.Equal(t, "internal_error", entry.ContextMap()["code"])
}
