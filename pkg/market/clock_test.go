package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestClockIsOpen(t *testing.T) {
	clock := DefaultClock()
	ist := mustLoc(t, "Asia/Kolkata")

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"mid session", time.Date(2026, 8, 26, 11, 0, 0, 0, ist), true},
		{"opening minute", time.Date(2026, 8, 26, 9, 15, 0, 0, ist), true},
		{"closing minute", time.Date(2026, 8, 26, 15, 30, 0, 0, ist), true},
		{"before open", time.Date(2026, 8, 26, 9, 14, 0, 0, ist), false},
		{"after close", time.Date(2026, 8, 26, 15, 31, 0, 0, ist), false},
		{"saturday", time.Date(2026, 8, 29, 11, 0, 0, 0, ist), false},
		{"sunday", time.Date(2026, 8, 30, 11, 0, 0, 0, ist), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.open, clock.IsOpen(tc.at))
		})
	}
}

func TestClockIsOpenConvertsTimezone(t *testing.T) {
	clock := DefaultClock()
	// 06:00 UTC is 11:30 IST, inside the session.
	require.True(t, clock.IsOpen(time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)))
	// 12:00 UTC is 17:30 IST, after close.
	require.False(t, clock.IsOpen(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)))
}

func TestNewClockValidation(t *testing.T) {
	_, err := NewClock(ClockConfig{Open: "nope"})
	require.Error(t, err)

	_, err = NewClock(ClockConfig{Open: "16:00", Close: "09:00"})
	require.Error(t, err)

	_, err = NewClock(ClockConfig{Timezone: "Not/AZone"})
	require.Error(t, err)

	_, err = NewClock(ClockConfig{Weekdays: []string{"Funday"}})
	require.Error(t, err)
}

func TestNewClockCustomSession(t *testing.T) {
	clock, err := NewClock(ClockConfig{Open: "09:00", Close: "17:00", Weekdays: []string{"Mon"}, Timezone: "UTC"})
	require.NoError(t, err)

	monday := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.True(t, clock.IsOpen(monday))
	require.False(t, clock.IsOpen(monday.AddDate(0, 0, 1)))
}
