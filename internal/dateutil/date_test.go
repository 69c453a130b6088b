package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

func TestNormalizeBareDate(t *testing.T) {
	d, err := Normalize("2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 14}, d)
	assert.Equal(t, "2025-03-14", d.String())
}

func TestNormalizeStripsTimeComponent(t *testing.T) {
	inputs := []string{
		"2025-03-14T00:00:00.000Z",
		"2025-03-14T23:59:59+12:00",
		"2025-03-14T05:00:00-07:00",
	}
	for _, input := range inputs {
		withTime, err := Normalize(input)
		require.NoError(t, err, input)

		bare, err := Normalize("2025-03-14")
		require.NoError(t, err)
		assert.Equal(t, bare, withTime, "time/zone suffix must not shift the calendar date")
	}
}

func TestNormalizeRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "2025-03", "14/03/2025", "2025-3x-14", "march 14", "2025-02-30", "2025-13-01"} {
		_, err := Normalize(input)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, appErrors.ErrInvalidDateFormat, input)
	}
}

func TestDisplayStyles(t *testing.T) {
	d, err := Normalize("2025-03-14")
	require.NoError(t, err)

	assert.Equal(t, "Mar 14", d.Display(StyleShort))
	assert.Equal(t, "March 14", d.Display(StyleMedium))
	assert.Equal(t, "Friday, March 14, 2025", d.Display(StyleLong))
}

func TestAddDaysCrossesMonthBoundary(t *testing.T) {
	d, err := Normalize("2025-03-01")
	require.NoError(t, err)

	assert.Equal(t, "2025-02-28", d.AddDays(-1).String())
	assert.Equal(t, "2025-03-31", d.AddDays(30).String())
}

func TestFromTimeUsesUTCCalendarDate(t *testing.T) {
	zone := time.FixedZone("UTC+13", 13*3600)
	// 2025-03-15 10:00 in UTC+13 is still 2025-03-14 in UTC.
	instant := time.Date(2025, time.March, 15, 10, 0, 0, 0, zone)
	assert.Equal(t, "2025-03-14", FromTime(instant).String())
}
