package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ts(hour, min int) time.Time {
	return time.Date(2025, time.March, 10, hour, min, 0, 0, time.UTC)
}

func TestSameDay(t *testing.T) {
	require.True(t, SameDay(ts(0, 1), ts(23, 59), time.UTC))
	require.False(t, SameDay(ts(23, 59), ts(23, 59).Add(2*time.Minute), time.UTC))

	// The calendar day depends on the zone: an evening pair on the same UTC
	// day straddles midnight in Kolkata (UTC+5:30).
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	eve := time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)
	require.True(t, SameDay(eve, eve.Add(2*time.Hour), time.UTC))
	require.False(t, SameDay(eve, eve.Add(2*time.Hour), kolkata))

	late := time.Date(2025, time.March, 10, 20, 0, 0, 0, time.UTC)
	require.True(t, SameDay(late, late.Add(3*time.Hour), kolkata))
}

func TestDayBounds(t *testing.T) {
	start, end := DayBounds(ts(13, 30), time.UTC)
	require.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC), end)
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(2024, time.February, time.UTC)
	require.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), end)
	require.Equal(t, 29, DaysIn(2024, time.February))
	require.Equal(t, 28, DaysIn(2025, time.February))
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "4h 30m", FormatDuration(4*time.Hour+30*time.Minute))
	require.Equal(t, "45m", FormatDuration(45*time.Minute))
	require.Equal(t, "0m", FormatDuration(20*time.Second))
}

func TestDurationText(t *testing.T) {
	in := ts(9, 0)
	out := ts(13, 30)
	bad := ts(8, 0)

	require.Equal(t, "4h 30m", DurationText(&in, &out))
	require.Equal(t, "Ongoing", DurationText(&in, nil))
	require.Equal(t, "Error", DurationText(&in, &bad))
	require.Equal(t, "—", DurationText(nil, nil))
}
