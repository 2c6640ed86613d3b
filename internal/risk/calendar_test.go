package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/database"
)

func testSchedule() database.SchedulePersonality {
	return database.SchedulePersonality{
		Enabled:              true,
		CheckIntervalMinutes: 15,
		TradingHoursOnly:     true,
		Timezone:             "Europe/Berlin",
		TradingDays:          []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		TradingStart:         "09:00",
		TradingEnd:           "17:30",
		AvoidOpenMin:         15,
		AvoidCloseMin:        15,
	}
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestNewCalendarRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*database.SchedulePersonality)
	}{
		{"bad timezone", func(s *database.SchedulePersonality) { s.Timezone = "Mars/Olympus" }},
		{"bad start", func(s *database.SchedulePersonality) { s.TradingStart = "9am" }},
		{"end before start", func(s *database.SchedulePersonality) { s.TradingEnd = "08:00" }},
		{"bad day", func(s *database.SchedulePersonality) { s.TradingDays = []string{"Funday"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchedule()
			tt.mutate(&s)
			_, err := NewCalendar(s)
			assert.Error(t, err)
		})
	}
}

func TestInWindowBoundaries(t *testing.T) {
	cal, err := NewCalendar(testSchedule())
	require.NoError(t, err)
	loc := berlin(t)

	// Monday 2026-08-24. Window is 09:15 through 17:15 inclusive.
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, loc)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before buffer", day.Add(9*time.Hour + 14*time.Minute), false},
		{"at open", day.Add(9*time.Hour + 15*time.Minute), true},
		{"midday", day.Add(12 * time.Hour), true},
		{"at close", day.Add(17*time.Hour + 15*time.Minute), true},
		{"past close buffer", day.Add(17*time.Hour + 16*time.Minute), false},
		{"saturday midday", day.AddDate(0, 0, 5).Add(12 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.InWindow(tt.at))
		})
	}
}

func TestInWindowConvertsTimezone(t *testing.T) {
	cal, err := NewCalendar(testSchedule())
	require.NoError(t, err)

	// 10:00 UTC on a Monday is 12:00 in Berlin during DST.
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	assert.True(t, cal.InWindow(at))
}

func TestNextOpen(t *testing.T) {
	cal, err := NewCalendar(testSchedule())
	require.NoError(t, err)
	loc := berlin(t)

	// Friday evening rolls over to Monday 09:15.
	friday := time.Date(2026, 8, 21, 18, 0, 0, 0, loc)
	next := cal.NextOpen(friday)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 15, 0, 0, loc), next)

	// Early morning opens the same day.
	monday := time.Date(2026, 8, 24, 6, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 15, 0, 0, loc), cal.NextOpen(monday))
}

func TestDayStart(t *testing.T) {
	cal, err := NewCalendar(testSchedule())
	require.NoError(t, err)
	loc := berlin(t)

	at := time.Date(2026, 8, 24, 15, 42, 7, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, loc), cal.DayStart(at))
}
