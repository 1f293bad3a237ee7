package core

import (
	"math"
	"strings"
	"time"

	"txn-features/internal/frame"

	"github.com/itlightning/dateparse"
)

// ReferenceEpoch anchors the elapsed-seconds column of the reference dataset.
var ReferenceEpoch = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParseTimestamp parses a timestamp in any common layout. Values without a
// zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	ts, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CoerceTimestamps converts the named column to a Timestamp column. Strings
// that cannot be parsed and missing values become the missing marker instead
// of failing. Numeric columns are read as unix seconds. Absent or already
// converted columns are left alone.
func CoerceTimestamps(t *frame.Table, name string) *frame.Table {
	col, ok := t.Column(name)
	if !ok || col.Kind == frame.Timestamp {
		return t
	}

	times := make([]time.Time, t.Rows())
	for i := range times {
		if col.IsMissing(i) {
			continue
		}
		switch col.Kind {
		case frame.String:
			if ts, ok := ParseTimestamp(col.Strings[i]); ok {
				times[i] = ts
			}
		default:
			times[i] = fromUnixSeconds(col.Floats[i])
		}
	}

	t.Set(frame.NewTimestampColumn(name, times))
	return t
}

// secondsFrom returns epoch plus the given number of seconds, with the
// fractional part kept at nanosecond precision.
func secondsFrom(epoch time.Time, seconds float64) time.Time {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return time.Time{}
	}
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func fromUnixSeconds(seconds float64) time.Time {
	return secondsFrom(time.Unix(0, 0).UTC(), seconds)
}
