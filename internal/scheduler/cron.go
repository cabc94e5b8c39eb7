package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule represents a parsed cron schedule (minute, hour, day, month, weekday)
type CronSchedule struct {
	Minute  map[int]bool // 0-59
	Hour    map[int]bool // 0-23
	Day     map[int]bool // 1-31
	Month   map[int]bool // 1-12
	Weekday map[int]bool // 0-6 (Sunday=0)
}

var descriptors = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

// ParseCron parses a 5-field cron expression, or one of the @hourly style
// descriptors, into a CronSchedule
func ParseCron(expr string) (*CronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if d, ok := descriptors[expr]; ok {
		expr = d
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}
	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour: %w", err)
	}
	day, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	weekday, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("weekday: %w", err)
	}
	return &CronSchedule{
		Minute:  minute,
		Hour:    hour,
		Day:     day,
		Month:   month,
		Weekday: weekday,
	}, nil
}

// parseCronField parses a single cron field (supports *, single values, lists,
// ranges and steps such as */15 or 0-30/10)
func parseCronField(field string, min, max int) (map[int]bool, error) {
	result := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step: %s", part)
			}
			step = n
			part = base
		}

		start, end := min, max
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			var err1, err2 error
			start, err1 = strconv.Atoi(rangeParts[0])
			end, err2 = strconv.Atoi(rangeParts[1])
			if err1 != nil || err2 != nil || start > end || start < min || end > max {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
		default:
			val, err := strconv.Atoi(part)
			if err != nil || val < min || val > max {
				return nil, fmt.Errorf("invalid value: %s", part)
			}
			start = val
			if step == 1 {
				end = val
			}
		}

		for i := start; i <= end; i += step {
			result[i] = true
		}
	}
	return result, nil
}

// searchLimit bounds Next for schedules that never match, such as "0 0 31 2 *".
const searchLimit = 5 * 366 * 24 * time.Hour

// Next returns the next time after 'after' that matches the schedule, or the
// zero time when nothing matches within five years.
func (c *CronSchedule) Next(after time.Time) time.Time {
	// Brute-force: increment minute by minute until all fields match
	t := after.Add(time.Minute).Truncate(time.Minute)
	limit := t.Add(searchLimit)
	for t.Before(limit) {
		if c.Minute[t.Minute()] &&
			c.Hour[t.Hour()] &&
			c.Day[t.Day()] &&
			c.Month[int(t.Month())] &&
			c.Weekday[int(t.Weekday())] {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}
