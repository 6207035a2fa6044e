package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonthToDate(t *testing.T) {
	cases := []struct {
		now         time.Time
		expectStart string
		expectEnd   string
	}{
		{
			now:         time.Date(2024, time.August, 26, 0, 0, 0, 0, Location),
			expectStart: "2024-08-01",
			expectEnd:   "2024-08-26",
		},
		{
			now:         time.Date(2024, time.September, 1, 0, 0, 0, 0, Location),
			expectStart: "2024-09-01",
			expectEnd:   "2024-09-01",
		},
		{
			now:         time.Date(2024, time.December, 31, 23, 59, 0, 0, Location),
			expectStart: "2024-12-01",
			expectEnd:   "2024-12-31",
		},
	}

	for _, test := range cases {
		start, end := MonthToDate(test.now)
		require.Equal(t, test.expectStart, start)
		require.Equal(t, test.expectEnd, end)
	}
}

func TestNowIsChinaTime(t *testing.T) {
	now := Now()
	_, offset := now.Zone()
	require.Equal(t, 8*60*60, offset)
}
