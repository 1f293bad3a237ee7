package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Number, Bool, String, Timestamp} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// WiderKind returns the kind that can hold values of both a and b: Number for
// a mix of Number and Bool, String for any other mix.
func WiderKind(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case (a == Number || a == Bool) && (b == Number || b == Bool):
		return Number
	default:
		return String
	}
}

// As returns a copy of c converted to kind. Missing values stay missing where
// the target kind can represent them; Bool has no missing marker and uses
// false.
func (c *Column) As(kind Kind) *Column {
	if c.Kind == kind {
		return c.Clone()
	}

	n := c.Len()
	switch kind {
	case Number:
		out := make([]float64, n)
		for i := range out {
			out[i] = c.Float(i)
			if c.Kind == String && !c.IsMissing(i) {
				if f, err := strconv.ParseFloat(strings.TrimSpace(c.Strings[i]), 64); err == nil {
					out[i] = f
				}
			}
		}
		return NewNumberColumn(c.Name, out)

	case Bool:
		out := make([]bool, n)
		for i := range out {
			if c.IsMissing(i) {
				continue
			}
			switch c.Kind {
			case String:
				out[i], _ = strconv.ParseBool(strings.TrimSpace(c.Strings[i]))
			case Timestamp:
				out[i] = true
			default:
				out[i] = c.Floats[i] != 0
			}
		}
		return NewBoolColumn(c.Name, out)

	case String:
		values := make([]string, n)
		valid := make([]bool, n)
		for i := range values {
			if c.IsMissing(i) {
				continue
			}
			valid[i] = true
			switch c.Kind {
			case Bool:
				values[i] = strconv.FormatBool(c.Floats[i] != 0)
			case Timestamp:
				values[i] = c.Times[i].Format(time.RFC3339Nano)
			default:
				values[i] = strconv.FormatFloat(c.Floats[i], 'f', -1, 64)
			}
		}
		return NewStringColumn(c.Name, values, valid)

	case Timestamp:
		times := make([]time.Time, n)
		for i := range times {
			if c.IsMissing(i) {
				continue
			}
			if c.Kind == String {
				if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(c.Strings[i])); err == nil {
					times[i] = ts
				}
				continue
			}
			if f := c.Floats[i]; !math.IsInf(f, 0) {
				times[i] = time.Unix(0, 0).UTC().Add(time.Duration(f * float64(time.Second)))
			}
		}
		return NewTimestampColumn(c.Name, times)

	default:
		panic(fmt.Sprintf("unknown column kind %v", kind))
	}
}
