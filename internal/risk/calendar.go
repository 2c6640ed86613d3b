// Package risk holds the trading calendar and the pre-trade check
// pipeline. Both are pure over their inputs so decisions stay replayable.
package risk

import (
	"fmt"
	"time"

	"paper-trader/internal/database"
)

// Calendar is the parsed trading schedule of one personality. It is built
// once when a trader starts; parsing errors surface there, not mid-tick.
type Calendar struct {
	Location   *time.Location
	Days       map[time.Weekday]bool
	OpenMin    int // minutes since midnight
	CloseMin   int
	AvoidOpen  int
	AvoidClose int
}

var weekdayByName = map[string]time.Weekday{
	"Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
	"Sun": time.Sunday,
}

// NewCalendar parses the schedule section of a personality.
func NewCalendar(s database.SchedulePersonality) (*Calendar, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	open, err := parseHHMM(s.TradingStart)
	if err != nil {
		return nil, fmt.Errorf("trading start: %w", err)
	}
	close_, err := parseHHMM(s.TradingEnd)
	if err != nil {
		return nil, fmt.Errorf("trading end: %w", err)
	}
	if close_ <= open {
		return nil, fmt.Errorf("trading end %q not after start %q", s.TradingEnd, s.TradingStart)
	}

	days := make(map[time.Weekday]bool, len(s.TradingDays))
	for _, name := range s.TradingDays {
		wd, ok := weekdayByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown trading day %q", name)
		}
		days[wd] = true
	}

	return &Calendar{
		Location:   loc,
		Days:       days,
		OpenMin:    open,
		CloseMin:   close_,
		AvoidOpen:  s.AvoidOpenMin,
		AvoidClose: s.AvoidCloseMin,
	}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InWindow reports whether t falls inside the tradeable window, i.e. on a
// trading day between open+avoidOpen and close-avoidClose inclusive.
func (c *Calendar) InWindow(t time.Time) bool {
	local := t.In(c.Location)
	if !c.Days[local.Weekday()] {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= c.OpenMin+c.AvoidOpen && minute <= c.CloseMin-c.AvoidClose
}

// IsTradingDay reports whether t falls on a configured trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.Days[t.In(c.Location).Weekday()]
}

// NextOpen returns the next instant the window opens at or after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.Location)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !c.Days[day.Weekday()] {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.Location).
			Add(time.Duration(c.OpenMin+c.AvoidOpen) * time.Minute)
		if open.After(t) || open.Equal(t) {
			return open
		}
	}
	// Empty trading-day set; retry in a day.
	return t.Add(24 * time.Hour)
}

// DayStart returns midnight of t's trading day in the calendar's timezone.
func (c *Calendar) DayStart(t time.Time) time.Time {
	local := t.In(c.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location)
}
