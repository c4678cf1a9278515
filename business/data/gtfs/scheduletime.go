package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// serviceDateLayout is the gtfs YYYYMMDD calendar date format
const serviceDateLayout = "20060102"

// ParseScheduleTime splits a gtfs HH:MM:SS time of day. Hours may be 24 or more for service past midnight
func ParseScheduleTime(scheduled string) (hours, minutes, seconds int, err error) {
	parts := strings.Split(strings.TrimSpace(scheduled), ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("schedule time %q is not HH:MM:SS", scheduled)
	}
	values := make([]int, 3)
	for i, part := range parts {
		values[i], err = strconv.Atoi(strings.TrimSpace(part))
		if err != nil || values[i] < 0 {
			return 0, 0, 0, fmt.Errorf("schedule time %q has invalid component %q", scheduled, part)
		}
	}
	hours, minutes, seconds = values[0], values[1], values[2]
	if minutes > 59 || seconds > 59 {
		return 0, 0, 0, fmt.Errorf("schedule time %q is out of range", scheduled)
	}
	return hours, minutes, seconds, nil
}

// ParseServiceDate parses a YYYYMMDD service date as 12am in loc
func ParseServiceDate(serviceDate string, loc *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation(serviceDateLayout, serviceDate, loc)
	if err != nil {
		return date, fmt.Errorf("invalid service date %q: %w", serviceDate, err)
	}
	return date, nil
}

// ScheduleInstant resolves a gtfs schedule time on serviceDate to an instant in loc.
// A time with 24 or more hours is moved to the following calendar day, "25:10:00" on 20240101 is 2024-01-02 01:10:00.
// The wall clock time is localized for that day so standard and daylight offsets apply.
// A wall clock time repeated when daylight saving ends resolves to its standard time occurrence.
func ScheduleInstant(serviceDate string, scheduled string, loc *time.Location) (time.Time, error) {
	hours, minutes, seconds, err := ParseScheduleTime(scheduled)
	if err != nil {
		return time.Time{}, err
	}
	dayOffset := 0
	if hours >= 24 {
		hours -= 24
		dayOffset = 1
	}
	if hours >= 24 {
		return time.Time{}, fmt.Errorf("schedule time %q is more than a day past the service date", scheduled)
	}
	date, err := ParseServiceDate(serviceDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	instant := time.Date(date.Year(), date.Month(), date.Day()+dayOffset, hours, minutes, seconds, 0, loc)
	return standardOccurrence(instant), nil
}

// standardOccurrence returns the later instant when t's wall clock time occurs twice in its location
func standardOccurrence(t time.Time) time.Time {
	later := t.Add(time.Hour)
	if later.Hour() == t.Hour() && later.Minute() == t.Minute() && later.Second() == t.Second() {
		return later
	}
	return t
}

// CalculateDelay returns the seconds predicted arrives after the scheduled time on serviceDate, negative when early.
// Returns ErrMissingInput if any input is absent, or a parse error if scheduled or serviceDate are malformed.
func CalculateDelay(predicted *int64, scheduled *string, serviceDate string, loc *time.Location) (int, error) {
	if predicted == nil || *predicted == 0 || scheduled == nil || *scheduled == "" || serviceDate == "" {
		return 0, ErrMissingInput
	}
	scheduledAt, err := ScheduleInstant(serviceDate, *scheduled, loc)
	if err != nil {
		return 0, err
	}
	return int(*predicted - scheduledAt.Unix()), nil
}
