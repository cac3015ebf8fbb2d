package dsl

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a cron expression, per §4.E rule 6.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidation, "invalid cron expression", err)
	}

	return schedule, nil
}

// PreviewCron returns the next n firings of expr strictly after from, a
// pure function independent of creating a workflow (§9 supplemental
// feature: cron preview).
func PreviewCron(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	cursor := from

	for i := 0; i < n; i++ {
		cursor = schedule.Next(cursor)
		if cursor.IsZero() {
			break
		}

		out = append(out, cursor)
	}

	return out, nil
}
