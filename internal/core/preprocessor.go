package core

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"txn-features/internal/frame"
	"txn-features/internal/source"
)

const (
	TimestampColumn     = "timestamp"
	CustomerColumn      = "customer_id"
	StatusColumn        = "status"
	HourOfDayColumn     = "hour_of_day"
	DayOfWeekColumn     = "day_of_week"
	TimeSinceLastColumn = "time_since_last"
)

// DatasetPreprocessor turns one dataset's native schema into feature columns.
// Every table operation modifies the table in place, returns it, and ignores
// columns it does not recognize.
type DatasetPreprocessor interface {
	Name() string

	LabelColumn() string

	CleanAmounts(t *frame.Table) *frame.Table

	EncodeCategoricals(t *frame.Table, columns ...string) *frame.Table

	ScaleNumeric(t *frame.Table) *frame.Table

	DeriveTimeFeatures(t *frame.Table) *frame.Table

	Preprocess(ctx context.Context, src source.Source, path string) (*frame.Table, error)

	Scaler() *StandardScaler
}

// FeatureDeriver derives the time based features shared by every dataset.
type FeatureDeriver struct{}

// DeriveTimeFeatures adds hour_of_day, day_of_week and time_since_last.
//
// Hour (0-23) and day of week (Monday=0) come from the timestamp column and
// are 0 when the column is absent or the value is missing. time_since_last is
// the number of seconds since the same customer's previous transaction, taken
// in timestamp order; the first transaction of a customer, and rows with no
// timestamp or customer, get 0. Without a customer column it is 0 everywhere.
func (FeatureDeriver) DeriveTimeFeatures(t *frame.Table) *frame.Table {
	rows := t.Rows()
	hours := make([]float64, rows)
	days := make([]float64, rows)
	since := make([]float64, rows)

	ts, hasTimestamp := t.Column(TimestampColumn)
	if hasTimestamp && ts.Kind != frame.Timestamp {
		hasTimestamp = false
	}

	if hasTimestamp {
		for i, v := range ts.Times {
			if v.IsZero() {
				continue
			}
			hours[i] = float64(v.Hour())
			days[i] = float64((int(v.Weekday()) + 6) % 7)
		}

		if customers, ok := t.Column(CustomerColumn); ok {
			deriveTimeSinceLast(ts.Times, customers, since)
		}
	}

	t.Set(frame.NewNumberColumn(HourOfDayColumn, hours))
	t.Set(frame.NewNumberColumn(DayOfWeekColumn, days))
	t.Set(frame.NewNumberColumn(TimeSinceLastColumn, since))
	return t
}

func deriveTimeSinceLast(times []time.Time, customers *frame.Column, out []float64) {
	groups := make(map[string][]int)
	for i := range times {
		if times[i].IsZero() || customers.IsMissing(i) {
			continue
		}
		key := customerKey(customers, i)
		groups[key] = append(groups[key], i)
	}

	for _, idx := range groups {
		sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })
		for k := 1; k < len(idx); k++ {
			out[idx[k]] = times[idx[k]].Sub(times[idx[k-1]]).Seconds()
		}
	}
}

func customerKey(c *frame.Column, i int) string {
	switch c.Kind {
	case frame.String:
		return c.Strings[i]
	case frame.Timestamp:
		return c.Times[i].String()
	default:
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	}
}

// clampNonNegative replaces negative values of a numeric column with 0.
// Missing values stay missing.
func clampNonNegative(t *frame.Table, name string) *frame.Table {
	col, ok := t.Column(name)
	if !ok || col.Kind != frame.Number {
		return t
	}

	cleaned := make([]float64, len(col.Floats))
	for i, v := range col.Floats {
		if v > 0 || math.IsNaN(v) {
			cleaned[i] = v
		}
	}
	t.Set(frame.NewNumberColumn(name, cleaned))
	return t
}
