package period

import (
	"testing"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZone = "America/Chicago"

func TestNewCalculator_UnknownZone(t *testing.T) {
	_, err := NewCalculator("Mars/Olympus_Mons")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFIG, domain.ErrorCode(err))

	_, err = NewCalculator("")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFIG, domain.ErrorCode(err))
}

func TestCalculator_Location(t *testing.T) {
	c := MustCalculator(testZone)
	assert.Equal(t, testZone, c.Location().String())

	// Keys are computed in the calculator's zone
	local := time.Date(2026, 3, 1, 0, 30, 0, 0, c.Location())
	assert.Equal(t, "2026-03", c.Key(local))
	assert.Equal(t, "2026-02", local.UTC().In(time.FixedZone("behind", -8*3600)).Format(KeyLayout))
}

func TestCalculator_Key(t *testing.T) {
	c := MustCalculator(testZone)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		// 2025-03-01 04:30 UTC is still Feb 28 22:30 in Chicago (CST, UTC-6)
		{"utc march is local february", time.Date(2025, 3, 1, 4, 30, 0, 0, time.UTC), "2025-02"},
		{"first local instant of march", time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC), "2025-03"},
		// Nov 1 2025 05:00 UTC is Nov 1 00:00 CDT (UTC-5)
		{"first local instant of november", time.Date(2025, 11, 1, 5, 0, 0, 0, time.UTC), "2025-11"},
		{"last local instant of october", time.Date(2025, 11, 1, 4, 59, 59, 0, time.UTC), "2025-10"},
		{"year rollover", time.Date(2026, 1, 1, 5, 59, 0, 0, time.UTC), "2025-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Key(tt.at))
		})
	}
}

func TestCalculator_Key_IgnoresCallerZone(t *testing.T) {
	c := MustCalculator(testZone)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	instant := time.Date(2025, 6, 30, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, c.Key(instant), c.Key(instant.In(tokyo)))
	assert.Equal(t, "2025-06", c.Key(instant.In(tokyo)))
}

func TestCalculator_Key_SameMonthStable(t *testing.T) {
	c := MustCalculator(testZone)
	start, end, err := c.Bounds("2025-03")
	require.NoError(t, err)

	// Walk the whole of March hour by hour, across the spring-forward transition
	for at := start; at.Before(end); at = at.Add(time.Hour) {
		assert.Equal(t, "2025-03", c.Key(at), "instant %s", at)
	}
	assert.Equal(t, "2025-04", c.Key(end))
	assert.Equal(t, "2025-02", c.Key(start.Add(-time.Nanosecond)))
}

func TestCalculator_Bounds_DST(t *testing.T) {
	c := MustCalculator(testZone)

	// March 2025 starts in CST (UTC-6) and ends in CDT (UTC-5)
	start, end, err := c.Bounds("2025-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 4, 1, 5, 0, 0, 0, time.UTC), end)

	// November 2025 starts in CDT and ends in CST
	start, end, err = c.Bounds("2025-11")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 1, 5, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 12, 1, 6, 0, 0, 0, time.UTC), end)
}

func TestCalculator_Next(t *testing.T) {
	c := MustCalculator(testZone)

	next, err := c.Next("2025-12")
	require.NoError(t, err)
	assert.Equal(t, "2026-01", next)

	_, err = c.Next("2025-13")
	assert.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}
