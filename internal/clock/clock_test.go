package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealStartOfDay(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	c := NewReal(loc)

	// 2026-10-17 20:30 UTC is already 2026-10-18 03:30 in Jakarta.
	at := time.Date(2026, 10, 17, 20, 30, 0, 0, time.UTC)
	got := c.StartOfDay(at)
	assert.True(t, got.Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, loc)))
	assert.Equal(t, loc, c.Now().Location())
}

func TestDayOfWindow(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
	c := NewFake(now)
	w := Today(c)

	assert.Equal(t, "2026-10-18", w.Key())
	assert.True(t, w.Contains(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC)))
}

func TestDayOfAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	// Clocks go back on 2026-10-25, the day lasts 25 hours.
	w := DayOf(NewReal(loc), time.Date(2026, 10, 25, 12, 0, 0, 0, loc))
	assert.Equal(t, 25*time.Hour, w.End.Sub(w.Start))
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	c := NewFake(start)
	c.Advance(2 * time.Hour)
	assert.Equal(t, "2026-10-19", Today(c).Key())

	c.Set(start)
	assert.True(t, c.Now().Equal(start))
}
