package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
)

const maxSlotDurationMinutes = 8 * 60

// Invalidator drops cached slot listings after generation adds slots.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...time.Time) error
}

// DayInput is one row of a save request, as received from the caller.
type DayInput struct {
	DayOfWeek           int
	ClinicID            string
	RoomID              string
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	IsActive            bool
}

type Service struct {
	repo    Repository
	cache   Invalidator
	log     *zap.Logger
	metrics *metrics.Collector
	maxDays int
	now     func() time.Time
}

func NewService(repo Repository, cache Invalidator, log *zap.Logger, m *metrics.Collector, maxDays int) *Service {
	if cache == nil {
		cache = appointment.NoopCache()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewCollector("schedule")
	}
	return &Service{repo: repo, cache: cache, log: log, metrics: m, maxDays: maxDays, now: time.Now}
}

func requireDoctor(ctx context.Context, repo Repository, actor auth.Principal) error {
	if actor.IsZero() {
		return appointment.ErrUnauthorized
	}
	if actor.Role != auth.RoleDoctor {
		return fmt.Errorf("%w: requires role %s", appointment.ErrForbidden, auth.RoleDoctor)
	}
	if _, err := repo.GetDoctorByID(ctx, actor.ID); err != nil {
		return appointment.StorageError("load doctor", err)
	}
	return nil
}

// SaveWeeklySchedule replaces the acting doctor's weekly rows wholesale.
// At most one row per day of week is accepted.
func (s *Service) SaveWeeklySchedule(ctx context.Context, actor auth.Principal, input []DayInput) ([]ScheduleDay, error) {
	if err := requireDoctor(ctx, s.repo, actor); err != nil {
		return nil, err
	}
	if len(input) > 7 {
		return nil, appointment.Invalidf("a weekly schedule has at most 7 rows, got %d", len(input))
	}

	now := s.now().UTC()
	seen := make(map[int]bool, len(input))
	days := make([]ScheduleDay, 0, len(input))
	for i, in := range input {
		if seen[in.DayOfWeek] {
			return nil, appointment.Invalidf("row %d: dayOfWeek %d appears more than once", i, in.DayOfWeek)
		}
		seen[in.DayOfWeek] = true

		day, err := s.validateDay(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		day.ID = uuid.New()
		day.DoctorID = actor.ID
		day.CreatedAt = now
		day.UpdatedAt = now
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].DayOfWeek < days[j].DayOfWeek })

	if err := s.repo.ReplaceSchedule(ctx, actor.ID, days); err != nil {
		return nil, appointment.StorageError("replace schedule", err)
	}

	s.log.Info("weekly schedule saved", zap.Stringer("doctor_id", actor.ID), zap.Int("rows", len(days)))
	return days, nil
}

func (s *Service) validateDay(ctx context.Context, in DayInput) (ScheduleDay, error) {
	var day ScheduleDay

	if in.DayOfWeek < 0 || in.DayOfWeek > 6 {
		return day, appointment.Invalidf("dayOfWeek must be between 0 and 6")
	}
	day.DayOfWeek = time.Weekday(in.DayOfWeek)
	day.IsActive = in.IsActive

	clinicID, err := uuid.Parse(in.ClinicID)
	if err != nil || clinicID == uuid.Nil {
		return day, appointment.Invalidf("clinicId must be a valid UUID")
	}
	if _, err := s.repo.GetClinicByID(ctx, clinicID); err != nil {
		return day, appointment.StorageError("load clinic", err)
	}
	day.ClinicID = clinicID

	if in.RoomID != "" {
		roomID, err := uuid.Parse(in.RoomID)
		if err != nil || roomID == uuid.Nil {
			return day, appointment.Invalidf("roomId must be a valid UUID")
		}
		room, err := s.repo.GetRoomByID(ctx, roomID)
		if err != nil {
			return day, appointment.StorageError("load room", err)
		}
		if room.ClinicID != clinicID {
			return day, appointment.Invalidf("room %s does not belong to clinic %s", roomID, clinicID)
		}
		day.RoomID = &roomID
	}

	start, err := parseClock(in.StartTime)
	if err != nil {
		return day, appointment.Invalidf("startTime: %v", err)
	}
	end, err := parseClock(in.EndTime)
	if err != nil {
		return day, appointment.Invalidf("endTime: %v", err)
	}
	if start >= end {
		return day, appointment.Invalidf("startTime must be before endTime")
	}
	if in.SlotDurationMinutes <= 0 || in.SlotDurationMinutes > maxSlotDurationMinutes {
		return day, appointment.Invalidf("slotDurationMinutes must be between 1 and %d", maxSlotDurationMinutes)
	}
	if in.SlotDurationMinutes > end-start {
		return day, appointment.Invalidf("slotDurationMinutes is longer than the time window")
	}

	day.StartTime = formatClock(start)
	day.EndTime = formatClock(end)
	day.SlotDurationMinutes = in.SlotDurationMinutes
	return day, nil
}

func (s *Service) WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]ScheduleDay, error) {
	days, err := s.repo.ListSchedule(ctx, doctorID)
	if err != nil {
		return nil, appointment.StorageError("list schedule", err)
	}
	return days, nil
}

// GenerateSlots materializes the acting doctor's schedule into slots for
// every date in [fromDate, toDate]. Rerunning it over an overlapping range
// creates only the missing slots. A range whose end precedes its start is a
// no-op.
func (s *Service) GenerateSlots(ctx context.Context, actor auth.Principal, fromRaw, toRaw string) (int, error) {
	if err := requireDoctor(ctx, s.repo, actor); err != nil {
		return 0, err
	}
	from, err := appointment.ParseDate(fromRaw)
	if err != nil {
		return 0, err
	}
	to, err := appointment.ParseDate(toRaw)
	if err != nil {
		return 0, err
	}
	if to.Before(from) {
		return 0, nil
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > s.maxDays {
		return 0, appointment.Invalidf("date range spans %d days, at most %d allowed", days, s.maxDays)
	}

	rows, err := s.repo.ListSchedule(ctx, actor.ID)
	if err != nil {
		return 0, appointment.StorageError("list schedule", err)
	}

	candidates := Expand(actor.ID, rows, from, to)
	if len(candidates) == 0 {
		return 0, nil
	}

	created, err := s.repo.InsertSlotsIfAbsent(ctx, candidates)
	if err != nil {
		return 0, appointment.StorageError("insert slots", err)
	}

	if len(created) > 0 {
		s.metrics.SlotsGeneratedTotal.Add(float64(len(created)))
		if err := s.cache.Invalidate(ctx, actor.ID, distinctDates(created)...); err != nil {
			s.log.Warn("invalidate slot cache", zap.Stringer("doctor_id", actor.ID), zap.Error(err))
		}
	}

	s.log.Info("slots generated",
		zap.Stringer("doctor_id", actor.ID),
		zap.String("from", fromRaw),
		zap.String("to", toRaw),
		zap.Int("candidates", len(candidates)),
		zap.Int("created", len(created)))

	return len(created), nil
}

func distinctDates(slots []appointment.Slot) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, sl := range slots {
		if !seen[sl.Date] {
			seen[sl.Date] = true
			dates = append(dates, sl.Date)
		}
	}
	return dates
}
