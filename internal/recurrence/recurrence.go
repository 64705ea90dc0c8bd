package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hrkit/schedmsg/internal/model"
)

// Standard 5-field cron (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether a pattern can be evaluated by Next. Cron patterns
// are parsed eagerly so a bad expression is rejected at schedule time rather
// than discovered mid-chain.
func Validate(pattern model.RecurrencePattern) error {
	if pattern.IsCron() {
		if _, err := cronParser.Parse(pattern.CronExpr()); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", pattern.CronExpr(), err)
		}
		return nil
	}

	switch pattern {
	case model.PatternDaily, model.PatternWeekly, model.PatternBiweekly,
		model.PatternMonthly, model.PatternWeekdays:
		return nil
	}
	return fmt.Errorf("unknown recurrence pattern %q", pattern)
}

// Next computes the occurrence after current for the given pattern.
// Arithmetic is done in UTC so DST transitions cannot shift the instant.
// Monthly occurrences clamp the day-of-month to the last valid day of the
// target month (Jan 31 + 1 month = Feb 28/29), never rolling over.
func Next(current time.Time, pattern model.RecurrencePattern) (time.Time, error) {
	current = current.UTC()

	if pattern.IsCron() {
		schedule, err := cronParser.Parse(pattern.CronExpr())
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", pattern.CronExpr(), err)
		}
		return schedule.Next(current).UTC(), nil
	}

	switch pattern {
	case model.PatternDaily:
		return current.AddDate(0, 0, 1), nil
	case model.PatternWeekly:
		return current.AddDate(0, 0, 7), nil
	case model.PatternBiweekly:
		return current.AddDate(0, 0, 14), nil
	case model.PatternMonthly:
		return addMonthClamped(current), nil
	case model.PatternWeekdays:
		return nextWeekday(current), nil
	}
	return time.Time{}, fmt.Errorf("unknown recurrence pattern %q", pattern)
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	if last := daysInMonth(year, month+1); day > last {
		day = last
	}
	return time.Date(year, month+1, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysInMonth handles month overflow via time.Date normalization: day 0 of
// the following month is the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextWeekday(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
