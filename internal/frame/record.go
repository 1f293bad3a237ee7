package frame

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// Record is a single row keyed by field name. Nil values are treated as
// absent.
type Record map[string]any

// FromRecords builds a table from records. A column is created for every field
// that carries a non-nil value in at least one record; rows lacking the field
// get the missing marker. The kind of a column is taken from its first non-nil
// value. Columns are ordered by name.
func FromRecords(records []Record) *Table {
	kinds := make(map[string]Kind)
	for _, rec := range records {
		for name, v := range rec {
			if v == nil {
				continue
			}
			if _, ok := kinds[name]; !ok {
				kinds[name] = kindOf(v)
			}
		}
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	t := New(len(records))
	for _, name := range names {
		kind := kinds[name]
		col := ZeroColumn(name, kind, len(records))
		if kind == Number {
			for i := range col.Floats {
				col.Floats[i] = math.NaN()
			}
		}
		for i, rec := range records {
			if v, ok := rec[name]; ok && v != nil {
				setValue(col, i, v)
			}
		}
		t.Set(col)
	}
	return t
}

func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return String
	case bool:
		return Bool
	case time.Time:
		return Timestamp
	default:
		return Number
	}
}

func setValue(c *Column, i int, v any) {
	switch c.Kind {
	case String:
		switch x := v.(type) {
		case string:
			c.Strings[i] = x
		case json.Number:
			c.Strings[i] = x.String()
		default:
			if f, ok := toFloat(v); ok {
				c.Strings[i] = strconv.FormatFloat(f, 'f', -1, 64)
			} else {
				return
			}
		}
		c.Valid[i] = true
	case Timestamp:
		if ts, ok := v.(time.Time); ok {
			c.Times[i] = ts
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			if x {
				c.Floats[i] = 1
			}
		default:
			if f, ok := toFloat(v); ok && f != 0 {
				c.Floats[i] = 1
			}
		}
	default:
		if f, ok := toFloat(v); ok {
			c.Floats[i] = f
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Records converts the table back into one record per row, omitting missing
// values.
func (t *Table) Records() []Record {
	out := make([]Record, t.rows)
	for i := range out {
		rec := make(Record, len(t.cols))
		for _, c := range t.cols {
			if v := c.Value(i); v != nil {
				rec[c.Name] = v
			}
		}
		out[i] = rec
	}
	return out
}

// Matrix returns the table as a row-major float matrix, see Column.Float.
func (t *Table) Matrix() [][]float64 {
	out := make([][]float64, t.rows)
	for i := range out {
		row := make([]float64, len(t.cols))
		for j, c := range t.cols {
			row[j] = c.Float(i)
		}
		out[i] = row
	}
	return out
}
