package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

// Expand turns a doctor's weekly rules into candidate slots for every date in
// [from, to], both inclusive. Inactive rules produce nothing. When several
// active rules share a day of week the last one in rows wins. A window that
// is not a multiple of the slot duration is rounded down: the trailing
// partial step is dropped.
//
// Candidates carry no id; the store assigns one when it inserts them.
func Expand(doctorID uuid.UUID, rows []ScheduleDay, from, to time.Time) []appointment.Slot {
	byDay := make(map[time.Weekday]ScheduleDay, 7)
	for _, row := range rows {
		if !row.IsActive || row.SlotDurationMinutes <= 0 {
			continue
		}
		byDay[row.DayOfWeek] = row
	}
	if len(byDay) == 0 {
		return nil
	}

	from = truncateDate(from)
	to = truncateDate(to)

	var out []appointment.Slot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		row, ok := byDay[day.Weekday()]
		if !ok {
			continue
		}
		start, end, err := row.window()
		if err != nil || start >= end {
			continue
		}

		step := row.SlotDurationMinutes
		for t := start; t+step <= end; t += step {
			out = append(out, appointment.Slot{
				DoctorID:        doctorID,
				ClinicID:        row.ClinicID,
				RoomID:          row.RoomID,
				Date:            day,
				Time:            formatClock(t),
				DurationMinutes: step,
				Status:          appointment.SlotAvailable,
			})
		}
	}
	return out
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
