// Package daterange splits a date interval into month-sized chunks so a long
// search can be harvested one bounded pass at a time.
package daterange

import (
	"fmt"
	"time"

	errs "snsgrab/pkg/errors"
)

// Layout is the calendar date format used on the command line and in queries
const Layout = "2006-01-02"

// Range is an inclusive pair of calendar dates at UTC midnight
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return r.Start.Format(Layout) + ".." + r.End.Format(Layout)
}

// Days returns the number of calendar days covered, inclusive
func (r Range) Days() int {
	return daysBetween(r.Start, r.End) + 1
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ErrorTypeInvalidInput, err, fmt.Sprintf("invalid date %q", s))
	}
	return t, nil
}

// Date truncates t to its calendar date at UTC midnight
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDay returns the exclusive upper bound for a search ending on t
func NextDay(t time.Time) time.Time {
	return Date(t).AddDate(0, 0, 1)
}

// Split divides [since, until] into consecutive ranges. While the remaining
// span is longer than the month since falls in, the rest of that month is
// emitted and since moves to the first of the next month; the remainder
// becomes the final range ending at until.
func Split(since, until time.Time) ([]Range, error) {
	since, until = Date(since), Date(until)
	if until.Before(since) {
		return nil, errs.New(errs.ErrorTypeInvalidInput,
			fmt.Sprintf("until %s is before since %s", until.Format(Layout), since.Format(Layout)))
	}

	delta := daysBetween(since, until)
	if delta == 0 {
		return []Range{{Start: since, End: until}}, nil
	}

	var ranges []Range
	for delta > 0 {
		if delta > daysIn(since) {
			first := firstOfNextMonth(since)
			ranges = append(ranges, Range{Start: since, End: first.AddDate(0, 0, -1)})
			since = first
			delta = daysBetween(since, until)
			continue
		}
		ranges = append(ranges, Range{Start: since, End: until})
		break
	}
	return ranges, nil
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func firstOfNextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func daysIn(t time.Time) int {
	return firstOfNextMonth(t).AddDate(0, 0, -1).Day()
}
