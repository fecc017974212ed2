package redisclient

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSlotKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a4e-8f5d-4c1b-9a7e-2d3b4c5d6e7f")
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "slots:available:6f1c2a4e-8f5d-4c1b-9a7e-2d3b4c5d6e7f:2025-06-02", slotKey(id, date))
	assert.Equal(t, "slots:version:6f1c2a4e-8f5d-4c1b-9a7e-2d3b4c5d6e7f:2025-06-02", versionKey(id, date))
}

func TestLocalLeaserRunsJob(t *testing.T) {
	ran := false
	err := LocalLeaser().WithLease(context.Background(), "expiry", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSlotCache_RoundTripAndInvalidate(t *testing.T) {
	rdb := newTestRedis(t)
	cache := NewSlotCache(rdb, time.Minute)
	ctx := context.Background()

	doctorID := uuid.New()
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	room := uuid.New()
	slots := []appointment.Slot{
		{ID: uuid.New(), DoctorID: doctorID, ClinicID: uuid.New(), RoomID: &room, Date: date, Time: "09:00", DurationMinutes: 30, Status: appointment.SlotAvailable},
	}

	_, ok, err := cache.GetAvailable(ctx, doctorID, date)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := cache.Version(ctx, doctorID, date)
	require.NoError(t, err)
	require.NoError(t, cache.SetAvailable(ctx, doctorID, date, version, slots))
	got, ok, err := cache.GetAvailable(ctx, doctorID, date)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, slots[0].ID, got[0].ID)
	assert.Equal(t, "09:00", got[0].Time)
	assert.True(t, got[0].Date.Equal(date))
	require.NotNil(t, got[0].RoomID)
	assert.Equal(t, room, *got[0].RoomID)

	require.NoError(t, cache.Invalidate(ctx, doctorID, date))
	_, ok, err = cache.GetAvailable(ctx, doctorID, date)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlotCache_FillAfterInvalidateIsDropped(t *testing.T) {
	rdb := newTestRedis(t)
	cache := NewSlotCache(rdb, time.Minute)
	ctx := context.Background()

	doctorID := uuid.New()
	date := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	stale := []appointment.Slot{{ID: uuid.New(), DoctorID: doctorID, Date: date, Time: "09:00", DurationMinutes: 30}}

	before, err := cache.Version(ctx, doctorID, date)
	require.NoError(t, err)

	// A booking lands between the reader's store read and its fill.
	require.NoError(t, cache.Invalidate(ctx, doctorID, date))
	after, err := cache.Version(ctx, doctorID, date)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	require.NoError(t, cache.SetAvailable(ctx, doctorID, date, before, stale))
	_, ok, err := cache.GetAvailable(ctx, doctorID, date)
	require.NoError(t, err)
	assert.False(t, ok, "fill with an outdated version must not be cached")

	require.NoError(t, cache.SetAvailable(ctx, doctorID, date, after, stale))
	_, ok, err = cache.GetAvailable(ctx, doctorID, date)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLeaser_SecondHolderIsRejected(t *testing.T) {
	rdb := newTestRedis(t)
	leaser := NewRedisLeaser(rdb, 5*time.Second)
	name := "test-" + uuid.NewString()

	err := leaser.WithLease(context.Background(), name, func(ctx context.Context) error {
		inner := leaser.WithLease(ctx, name, func(context.Context) error { return nil })
		assert.True(t, errors.Is(inner, ErrLeaseNotAcquired))
		return nil
	})
	require.NoError(t, err)

	// Released after the first job returned.
	require.NoError(t, leaser.WithLease(context.Background(), name, func(context.Context) error { return nil }))
}
