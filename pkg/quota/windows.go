package quota

import "time"

// nextWeekStart returns the start of the calendar week after now:
// the upcoming Monday at 00:00 in now's location.
func nextWeekStart(now time.Time) time.Time {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	weekStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -daysSinceMonday)
	return weekStart.AddDate(0, 0, 7)
}

// nextMonthStart returns the first day of the month after now at 00:00 in
// now's location.
func nextMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).
		AddDate(0, 1, 0)
}
