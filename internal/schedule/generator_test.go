package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func row(day time.Weekday, start, end string, minutes int) ScheduleDay {
	return ScheduleDay{
		DayOfWeek:           day,
		ClinicID:            uuid.MustParse("7f4df8a0-8f0e-4a8e-9d0b-3c2f1e6b9a11"),
		StartTime:           start,
		EndTime:             end,
		SlotDurationMinutes: minutes,
		IsActive:            true,
	}
}

// keys renders slots as "date time" for compact comparisons.
func keys(slots []appointment.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Date.Format(time.DateOnly)+" "+s.Time)
	}
	return out
}

func TestExpand_SingleMonday(t *testing.T) {
	doctor := uuid.New()
	monday := date(2025, 6, 2)

	slots := Expand(doctor, []ScheduleDay{row(time.Monday, "09:00", "10:00", 30)}, monday, monday)
	require.Len(t, slots, 2)

	assert.Equal(t, "09:00", slots[0].Time)
	assert.Equal(t, "09:30", slots[1].Time)
	for _, s := range slots {
		assert.Equal(t, doctor, s.DoctorID)
		assert.Equal(t, monday, s.Date)
		assert.Equal(t, 30, s.DurationMinutes)
		assert.Equal(t, uuid.Nil, s.ID)
	}
}

func TestExpand_WeekRange(t *testing.T) {
	rows := []ScheduleDay{
		row(time.Monday, "09:00", "10:00", 30),
		row(time.Wednesday, "14:00", "15:00", 60),
	}

	got := keys(Expand(uuid.New(), rows, date(2025, 6, 1), date(2025, 6, 8)))
	assert.Equal(t, []string{
		"2025-06-02 09:00",
		"2025-06-02 09:30",
		"2025-06-04 14:00",
	}, got)
}

func TestExpand_InactiveRowsProduceNothing(t *testing.T) {
	r := row(time.Monday, "09:00", "12:00", 15)
	r.IsActive = false

	assert.Empty(t, Expand(uuid.New(), []ScheduleDay{r}, date(2025, 6, 2), date(2025, 6, 30)))
}

func TestExpand_LastRowForADayWins(t *testing.T) {
	rows := []ScheduleDay{
		row(time.Monday, "09:00", "10:00", 30),
		row(time.Monday, "13:00", "14:00", 60),
	}

	got := keys(Expand(uuid.New(), rows, date(2025, 6, 2), date(2025, 6, 2)))
	assert.Equal(t, []string{"2025-06-02 13:00"}, got)
}

func TestExpand_PartialTrailingStepIsDropped(t *testing.T) {
	got := keys(Expand(uuid.New(), []ScheduleDay{row(time.Monday, "09:00", "10:10", 20)}, date(2025, 6, 2), date(2025, 6, 2)))
	assert.Equal(t, []string{
		"2025-06-02 09:00",
		"2025-06-02 09:20",
		"2025-06-02 09:40",
	}, got)
}

func TestExpand_EmptyOrReversedRange(t *testing.T) {
	rows := []ScheduleDay{row(time.Monday, "09:00", "10:00", 30)}

	assert.Empty(t, Expand(uuid.New(), rows, date(2025, 6, 3), date(2025, 6, 2)))
	assert.Empty(t, Expand(uuid.New(), rows, date(2025, 6, 3), date(2025, 6, 7)), "no monday in range")
	assert.Empty(t, Expand(uuid.New(), nil, date(2025, 6, 2), date(2025, 6, 2)))
}

func TestExpand_IgnoresTimeOfDayInBounds(t *testing.T) {
	rows := []ScheduleDay{row(time.Monday, "09:00", "10:00", 30)}
	from := time.Date(2025, 6, 2, 18, 45, 0, 0, time.UTC)

	assert.Len(t, Expand(uuid.New(), rows, from, from), 2)
}

func TestClock(t *testing.T) {
	m, err := parseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9*60+5, m)
	assert.Equal(t, "09:05", formatClock(m))

	for _, bad := range []string{"", "9", "25:00", "09:60", "nine"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}
