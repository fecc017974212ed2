package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduleDay is one weekly availability rule: on DayOfWeek the doctor sees
// patients at ClinicID between StartTime and EndTime in SlotDurationMinutes
// steps. Times are local times of day, "15:04".
type ScheduleDay struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	DayOfWeek           time.Weekday // 0=Sunday … 6=Saturday
	ClinicID            uuid.UUID
	RoomID              *uuid.UUID
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// window returns the rule's bounds as minutes after midnight.
func (d ScheduleDay) window() (start, end int, err error) {
	if start, err = parseClock(d.StartTime); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(d.EndTime); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("time %q must be formatted HH:MM", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
