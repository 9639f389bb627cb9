// Package sync implements the sync scheduler (spec 4.F): a sync loop that
// drains a pending-operations queue into the metadata store, a scan loop
// that diffs the base directory against the metadata store, and a task
// runner driving per-source scheduled (cron or interval) and ad-hoc syncs.
package sync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed five-field cron expression (minute hour day
// month weekday), supporting "*", "a,b,c", "a-b", and "*/n".
type CronSchedule struct {
	minute, hour, day, month, weekday fieldMatcher
	spec                              string
}

type fieldMatcher func(v int) bool

// ParseCron parses a five-field cron expression of the form
// "minute hour day month weekday".
func ParseCron(spec string) (CronSchedule, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return CronSchedule{}, fmt.Errorf("sync: cron spec %q must have 5 fields, got %d", spec, len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("sync: minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("sync: hour field: %w", err)
	}
	day, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("sync: day field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("sync: month field: %w", err)
	}
	weekday, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("sync: weekday field: %w", err)
	}

	return CronSchedule{minute: minute, hour: hour, day: day, month: month, weekday: weekday, spec: spec}, nil
}

// Matches reports whether t falls on a minute this schedule fires.
func (c CronSchedule) Matches(t time.Time) bool {
	return c.minute(t.Minute()) && c.hour(t.Hour()) && c.day(t.Day()) &&
		c.month(int(t.Month())) && c.weekday(int(t.Weekday()))
}

func (c CronSchedule) String() string { return c.spec }

func parseCronField(field string, min, max int) (fieldMatcher, error) {
	if field == "*" {
		return func(int) bool { return true }, nil
	}

	if strings.HasPrefix(field, "*/") {
		n, err := strconv.Atoi(field[2:])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step %q", field)
		}
		return func(v int) bool { return (v-min)%n == 0 }, nil
	}

	if strings.Contains(field, ",") {
		var matchers []fieldMatcher
		for _, part := range strings.Split(field, ",") {
			m, err := parseCronField(part, min, max)
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
		}
		return func(v int) bool {
			for _, m := range matchers {
				if m(v) {
					return true
				}
			}
			return false
		}, nil
	}

	if strings.Contains(field, "-") {
		parts := strings.SplitN(field, "-", 2)
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo > hi {
			return nil, fmt.Errorf("invalid range %q", field)
		}
		return func(v int) bool { return v >= lo && v <= hi }, nil
	}

	n, err := strconv.Atoi(field)
	if err != nil || n < min || n > max {
		return nil, fmt.Errorf("invalid value %q", field)
	}
	return func(v int) bool { return v == n }, nil
}
