package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("booking")
	b := NewCollector("booking")

	a.BookingsTotal.WithLabelValues("booked").Inc()
	a.BookingsTotal.WithLabelValues("booked").Inc()
	b.BookingsTotal.WithLabelValues("slot_unavailable").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.BookingsTotal.WithLabelValues("booked")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BookingsTotal.WithLabelValues("booked")))
}

func TestHandler_ExposesNamespacedSeries(t *testing.T) {
	c := NewCollector("clinic")
	c.InconsistenciesTotal.Inc()
	c.OrphanedSlots.Set(3)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "clinic_booking_inconsistent_state_total 1")
	assert.Contains(t, string(body), "clinic_booking_orphaned_slots 3")
	assert.Contains(t, string(body), "go_goroutines")
}
