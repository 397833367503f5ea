package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, Clock{9, 15}, c)

	for _, raw := range []string{"", "9", "24:00", "10:60", "ab:cd"} {
		_, err := ParseClock(raw)
		assert.Errorf(t, err, "expected error for %q", raw)
	}
}

func TestNewWindow(t *testing.T) {
	w, err := NewWindow("09:15", "15:30", "Asia/Kolkata")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", w.Location.String())

	_, err = NewWindow("15:30", "09:15", "")
	assert.Error(t, err)

	_, err = NewWindow("09:15", "15:30", "Mars/Olympus")
	assert.Error(t, err)
}

func TestWindow_Contains(t *testing.T) {
	w := DefaultWindow()
	day := func(h, m, s int) time.Time { return time.Date(2025, 1, 6, h, m, s, 0, w.Location) }

	assert.False(t, w.Contains(day(9, 14, 59)))
	assert.True(t, w.Contains(day(9, 15, 0)))
	assert.True(t, w.Contains(day(12, 0, 0)))
	assert.True(t, w.Contains(day(15, 30, 0)))
	assert.False(t, w.Contains(day(15, 30, 1)))
	assert.True(t, w.Contains(day(9, 15, 0).UTC()), "location is normalised")
}

func TestWindow_BoundsAndRange(t *testing.T) {
	w := DefaultWindow()
	ts := time.Date(2025, 1, 6, 11, 42, 0, 0, w.Location)

	open, close := w.Bounds(ts)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 15, 0, 0, w.Location), open)
	assert.Equal(t, time.Date(2025, 1, 6, 15, 30, 0, 0, w.Location), close)

	from, to := w.DayRange(ts)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, w.Location), from)
	assert.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, w.Location), to)
}

func TestWindow_DayRangeAtMonthEnd(t *testing.T) {
	w := DefaultWindow()
	from, to := w.DayRange(time.Date(2025, 1, 31, 10, 0, 0, 0, w.Location))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, w.Location), to)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}

func TestWindow_PreviousTradingDays(t *testing.T) {
	w := DefaultWindow()
	monday := time.Date(2025, 1, 6, 10, 0, 0, 0, w.Location)
	days := w.PreviousTradingDays(monday, 3)
	require.Len(t, days, 3)
	assert.Equal(t, time.Friday, days[0].Weekday())
	assert.Equal(t, 3, days[0].Day())
	assert.Equal(t, time.Thursday, days[1].Weekday())
	assert.Equal(t, time.Wednesday, days[2].Weekday())
}
