package appointment

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ParseDate parses a calendar date ("2006-01-02") into UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, Invalidf("date %q must be formatted YYYY-MM-DD", raw)
	}
	return d, nil
}

// ListAvailableSlots lists a doctor's slots on date that are still available,
// ordered by time. Results may come from the slot cache.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorIDRaw, dateRaw string) ([]Slot, error) {
	doctorID, err := parseID("doctorId", doctorIDRaw)
	if err != nil {
		return nil, err
	}
	date, err := ParseDate(dateRaw)
	if err != nil {
		return nil, err
	}

	cached, ok, err := s.cache.GetAvailable(ctx, doctorID, date)
	switch {
	case err != nil:
		s.metrics.SlotCacheLookupsTotal.WithLabelValues("error").Inc()
		s.log.Warn("read slot cache", zap.Stringer("doctor_id", doctorID), zap.Error(err))
	case ok:
		s.metrics.SlotCacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		s.metrics.SlotCacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	// Taken before the store read so a booking that lands in between makes
	// the fill below a no-op instead of caching the older listing.
	version, verErr := s.cache.Version(ctx, doctorID, date)

	status := SlotAvailable
	slots, err := s.repo.ListSlots(ctx, doctorID, date, &status)
	if err != nil {
		return nil, StorageError("list slots", err)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })

	if verErr != nil {
		s.log.Warn("read slot cache version", zap.Stringer("doctor_id", doctorID), zap.Error(verErr))
		return slots, nil
	}
	if err := s.cache.SetAvailable(ctx, doctorID, date, version, slots); err != nil {
		s.log.Warn("write slot cache", zap.Stringer("doctor_id", doctorID), zap.Error(err))
	}
	return slots, nil
}
