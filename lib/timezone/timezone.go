package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		panic(err)
	}
}

// force timezone to be UTC+8 because the upstream portal computes its
// reporting date windows in China time, no matter where this process
// happens to run
func Now() time.Time {
	return time.Now().In(Location)
}

// MonthToDate returns the first day of now's month and now itself,
// formatted the way the portal's reporting API expects.
func MonthToDate(now time.Time) (start string, end string) {
	return now.Format("2006-01-02")[:8] + "01", now.Format("2006-01-02")
}
