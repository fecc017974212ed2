package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

var _ appointment.SlotCache = (*SlotCache)(nil)

// SlotCache stores available-slot listings as JSON under one key per doctor
// and date, next to a version counter that Invalidate increments. A fill is
// written only while the counter still holds the version the reader saw
// before its store read. Bookings never consult the cache.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

type cachedSlot struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	RoomID          *uuid.UUID `json:"room_id,omitempty"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"duration_minutes"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// versionTTL outlives any listing by far; an expired counter reads as 0,
// which only makes in-flight fills miss.
const versionTTL = 24 * time.Hour

func slotKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:available:%s:%s", doctorID, date.Format(time.DateOnly))
}

func versionKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:version:%s:%s", doctorID, date.Format(time.DateOnly))
}

// fillScript sets KEYS[1] to ARGV[2] only if KEYS[2] still equals ARGV[1].
// ARGV[3] is the ttl in milliseconds, 0 for none.
var fillScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2])
if (current or "0") ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

func (c *SlotCache) Version(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(doctorID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get slot cache version: %w", err)
	}
	return v, nil
}

func (c *SlotCache) GetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Slot, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(doctorID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slot cache: %w", err)
	}

	var entries []cachedSlot
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("decode slot cache: %w", err)
	}

	slots := make([]appointment.Slot, 0, len(entries))
	for _, e := range entries {
		d, err := time.ParseInLocation(time.DateOnly, e.Date, time.UTC)
		if err != nil {
			return nil, false, fmt.Errorf("decode slot cache date: %w", err)
		}
		slots = append(slots, appointment.Slot{
			ID:              e.ID,
			DoctorID:        e.DoctorID,
			ClinicID:        e.ClinicID,
			RoomID:          e.RoomID,
			Date:            d,
			Time:            e.Time,
			DurationMinutes: e.DurationMinutes,
			Status:          appointment.SlotAvailable,
			CreatedAt:       e.CreatedAt,
			UpdatedAt:       e.UpdatedAt,
		})
	}
	return slots, true, nil
}

// SetAvailable caches slots unless the listing was invalidated after version
// was read. A dropped fill is not an error.
func (c *SlotCache) SetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, version int64, slots []appointment.Slot) error {
	entries := make([]cachedSlot, 0, len(slots))
	for _, s := range slots {
		entries = append(entries, cachedSlot{
			ID:              s.ID,
			DoctorID:        s.DoctorID,
			ClinicID:        s.ClinicID,
			RoomID:          s.RoomID,
			Date:            s.Date.Format(time.DateOnly),
			Time:            s.Time,
			DurationMinutes: s.DurationMinutes,
			CreatedAt:       s.CreatedAt,
			UpdatedAt:       s.UpdatedAt,
		})
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode slot cache: %w", err)
	}
	keys := []string{slotKey(doctorID, date), versionKey(doctorID, date)}
	err = fillScript.Run(ctx, c.client, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set slot cache: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range dates {
			pipe.Del(ctx, slotKey(doctorID, d))
			pipe.Incr(ctx, versionKey(doctorID, d))
			pipe.Expire(ctx, versionKey(doctorID, d), versionTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate slot cache: %w", err)
	}
	return nil
}
