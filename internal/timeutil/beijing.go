// Package timeutil centralizes the UTC+8 clock used for quota resets,
// activity logs and daily metric rollover. The upstream account is billed in
// Beijing time, so every date boundary in this service follows it.
package timeutil

import "time"

// Beijing is the fixed UTC+8 offset. No DST, so a fixed zone is correct.
var Beijing = time.FixedZone("UTC+8", 8*3600)

// Now returns the current time in UTC+8.
func Now() time.Time {
	return time.Now().In(Beijing)
}

// NowRFC3339 returns the current UTC+8 time as an RFC3339 string.
func NowRFC3339() string {
	return Now().Format(time.RFC3339)
}

// Day returns t's calendar date in UTC+8 as YYYY-MM-DD.
func Day(t time.Time) string {
	return t.In(Beijing).Format("2006-01-02")
}

// NextMonthReset returns the first second of the month following t,
// at 00:00:00 +08:00. December wraps into January of the next year.
func NextMonthReset(t time.Time) time.Time {
	t = t.In(Beijing)
	year, month := t.Year(), t.Month()
	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, Beijing)
}
