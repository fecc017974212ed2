package main

import (
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/metrics"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(http.StatusCreated))
	assert.Equal(t, "conflict", outcome(http.StatusConflict))
	assert.Equal(t, "transport_error", outcome(0))
	assert.Equal(t, "Bad Request", outcome(http.StatusBadRequest))
}

func TestTallyCountsPerOperation(t *testing.T) {
	tl := newTally()
	tl.add("race", http.StatusCreated)
	tl.add("race", http.StatusConflict)
	tl.add("race", http.StatusConflict)
	tl.add("book", http.StatusInternalServerError)

	assert.Equal(t, map[string]int{"ok": 1, "conflict": 2}, tl.counts["race"])
	assert.Equal(t, 1, tl.counts["book"]["Internal Server Error"])
}

func TestOptionsValidate(t *testing.T) {
	base := options{raceSlots: 5, racers: 10, load: time.Second, workers: 4, patients: 20}
	require.NoError(t, base.validate())

	one := base
	one.racers = 1
	assert.Error(t, one.validate(), "a race needs two patients")

	few := base
	few.patients = 5
	assert.Error(t, few.validate())

	noWorkers := base
	noWorkers.workers = 0
	assert.Error(t, noWorkers.validate())

	noLoad := noWorkers
	noLoad.load = 0
	assert.NoError(t, noLoad.validate(), "workers are unused without a load phase")
}

func TestFixtureReleaseDrainsHeldAppointments(t *testing.T) {
	fx := &fixture{}
	a := heldAppointment{ID: uuid.New(), PatientID: uuid.New()}
	b := heldAppointment{ID: uuid.New(), PatientID: uuid.New()}
	fx.hold(a)
	fx.hold(b)

	rng := rand.New(rand.NewSource(1))
	got := map[uuid.UUID]bool{}
	for i := 0; i < 2; i++ {
		h, ok := fx.release(rng)
		require.True(t, ok)
		got[h.ID] = true
	}
	assert.Equal(t, map[uuid.UUID]bool{a.ID: true, b.ID: true}, got)

	_, ok := fx.release(rng)
	assert.False(t, ok)
}

func TestAuditResultOK(t *testing.T) {
	assert.True(t, auditResult{liveSlots: 3}.ok())
	assert.False(t, auditResult{liveSlots: 3, doubleBooked: 1}.ok())
	assert.False(t, auditResult{liveSlots: 3, orphaned: 1}.ok())
}

func TestRouteLatenciesSumsMethods(t *testing.T) {
	m := metrics.NewCollector(metricsNamespace)
	m.RequestDuration.WithLabelValues(http.MethodGet, "/appointments").Observe(0.1)
	m.RequestDuration.WithLabelValues(http.MethodPost, "/appointments").Observe(0.3)
	m.RequestDuration.WithLabelValues(http.MethodGet, "/doctors/{id}/slots").Observe(0.05)

	got := routeLatencies(m)
	require.Len(t, got, 2)

	assert.Equal(t, "/appointments", got[0].route)
	assert.Equal(t, uint64(2), got[0].count)
	assert.InDelta(t, float64(200*time.Millisecond), float64(got[0].mean), float64(time.Millisecond))

	assert.Equal(t, "/doctors/{id}/slots", got[1].route)
	assert.Equal(t, uint64(1), got[1].count)
}
