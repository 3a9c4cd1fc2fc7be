package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOpen     = "09:15"
	defaultClose    = "15:30"
	defaultTimezone = "Asia/Kolkata"
)

var defaultWeekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}

// ClockConfig describes one market session in wall-clock terms.
type ClockConfig struct {
	Open     string   `json:",default=09:15" yaml:"open"`
	Close    string   `json:",default=15:30" yaml:"close"`
	Weekdays []string `json:",optional" yaml:"weekdays"`
	Timezone string   `json:",default=Asia/Kolkata" yaml:"timezone"`
}

// Clock answers "is the market open" for a single exchange session.
type Clock struct {
	openMinutes  int
	closeMinutes int
	weekdays     map[time.Weekday]bool
	loc          *time.Location
}

// NewClock builds a session clock from config, filling defaults for empty
// fields.
func NewClock(cfg ClockConfig) (*Clock, error) {
	if cfg.Open == "" {
		cfg.Open = defaultOpen
	}
	if cfg.Close == "" {
		cfg.Close = defaultClose
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaultTimezone
	}
	if len(cfg.Weekdays) == 0 {
		cfg.Weekdays = defaultWeekdays
	}

	openMinutes, err := parseTimeOfDay(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("market: open time: %w", err)
	}
	closeMinutes, err := parseTimeOfDay(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("market: close time: %w", err)
	}
	if openMinutes >= closeMinutes {
		return nil, fmt.Errorf("market: open %s must be before close %s", cfg.Open, cfg.Close)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market: timezone %q: %w", cfg.Timezone, err)
	}

	weekdays := make(map[time.Weekday]bool, len(cfg.Weekdays))
	for _, day := range cfg.Weekdays {
		wd, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}
		weekdays[wd] = true
	}

	return &Clock{
		openMinutes:  openMinutes,
		closeMinutes: closeMinutes,
		weekdays:     weekdays,
		loc:          loc,
	}, nil
}

// DefaultClock returns the NSE session: Mon-Fri 09:15-15:30 Asia/Kolkata.
func DefaultClock() *Clock {
	clock, err := NewClock(ClockConfig{})
	if err != nil {
		panic(err)
	}
	return clock
}

// IsOpen reports whether the instant falls inside the trading session. Both
// boundaries are inclusive: the opening and closing minutes count as open.
func (c *Clock) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if !c.weekdays[local.Weekday()] {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.openMinutes && minutes <= c.closeMinutes
}

// Now returns the current instant in the market's timezone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the market timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

func parseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("market: unknown weekday %q", s)
	}
}
