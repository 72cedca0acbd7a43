// Package schedule validates EventBridge schedule expressions and
// computes their firing times. EventBridge evaluates cron expressions in
// UTC only; a job pinned to an early-morning UTC hour fires at a
// different local hour once daylight saving shifts the region's offset.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	cronRe = regexp.MustCompile(`^cron\((.+)\)$`)
	rateRe = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)
)

// Validate checks that expr is a well-formed cron(...) or rate(...)
// schedule expression.
func Validate(expr string) error {
	if m := cronRe.FindStringSubmatch(expr); m != nil {
		_, err := parseCronFields(m[1])
		return err
	}
	if m := rateRe.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid rate value in %q", expr)
		}
		unit := m[2]
		if n == 1 && strings.HasSuffix(unit, "s") {
			return fmt.Errorf("rate of 1 takes a singular unit, got %q", unit)
		}
		if n > 1 && !strings.HasSuffix(unit, "s") {
			return fmt.Errorf("rate of %d takes a plural unit, got %q", n, unit)
		}
		return nil
	}
	return fmt.Errorf("schedule expression %q is neither cron(...) nor rate(...)", expr)
}

// Next returns the next firing time of expr strictly after from.
// Evaluation is always in UTC, matching EventBridge.
func Next(expr string, from time.Time) (time.Time, error) {
	m := cronRe.FindStringSubmatch(expr)
	if m == nil {
		return time.Time{}, fmt.Errorf("Next requires a cron(...) expression, got %q", expr)
	}
	sched, err := parseCronFields(m[1])
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.UTC()), nil
}

// parseCronFields converts the six-field EventBridge cron syntax
// (minutes hours day-of-month month day-of-week year) into the standard
// five-field form and parses it.
func parseCronFields(fields string) (cron.Schedule, error) {
	parts := strings.Fields(fields)
	if len(parts) != 6 {
		return nil, fmt.Errorf("cron expression needs 6 fields (minutes hours day-of-month month day-of-week year), got %d", len(parts))
	}

	dom, dow := parts[2], parts[4]
	if dom == "?" && dow == "?" {
		return nil, fmt.Errorf("day-of-month and day-of-week cannot both be ?")
	}
	if dom != "?" && dom != "*" && dow != "?" && dow != "*" {
		return nil, fmt.Errorf("one of day-of-month and day-of-week must be ?")
	}

	year := parts[5]
	if year != "*" && !regexp.MustCompile(`^\d{4}(-\d{4})?$`).MatchString(year) {
		return nil, fmt.Errorf("invalid year field %q", year)
	}

	std := []string{
		parts[0],
		parts[1],
		replaceQuestion(dom),
		parts[3],
		convertDayOfWeek(replaceQuestion(dow)),
	}

	sched, err := cron.ParseStandard(strings.Join(std, " "))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

func replaceQuestion(field string) string {
	if field == "?" {
		return "*"
	}
	return field
}

// convertDayOfWeek maps EventBridge's 1-7 (SUN-SAT) numbering to the
// standard 0-6. Named days pass through unchanged.
func convertDayOfWeek(field string) string {
	return regexp.MustCompile(`\d`).ReplaceAllStringFunc(field, func(d string) string {
		n, _ := strconv.Atoi(d)
		if n >= 1 && n <= 7 {
			return strconv.Itoa(n - 1)
		}
		return d
	})
}
