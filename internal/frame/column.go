package frame

import (
	"fmt"
	"math"
	"time"
)

type Kind int

const (
	Number Kind = iota
	Bool
	String
	Timestamp
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column holds one value per row. Number and Bool columns store their values
// in Floats (Bool as 0/1), String columns in Strings with a validity mask and
// Timestamp columns in Times, where the zero time marks a missing value.
type Column struct {
	Name string
	Kind Kind

	Floats  []float64
	Strings []string
	Valid   []bool
	Times   []time.Time
}

func NewNumberColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Number, Floats: values}
}

func NewBoolColumn(name string, values []bool) *Column {
	floats := make([]float64, len(values))
	for i, v := range values {
		if v {
			floats[i] = 1
		}
	}
	return &Column{Name: name, Kind: Bool, Floats: floats}
}

// NewStringColumn creates a string column. A nil valid mask marks every value
// as present.
func NewStringColumn(name string, values []string, valid []bool) *Column {
	if valid == nil {
		valid = make([]bool, len(values))
		for i := range valid {
			valid[i] = true
		}
	}
	return &Column{Name: name, Kind: String, Strings: values, Valid: valid}
}

func NewTimestampColumn(name string, values []time.Time) *Column {
	return &Column{Name: name, Kind: Timestamp, Times: values}
}

// ZeroColumn returns a column of the given kind with every row set to the
// kind's zero value: 0 for Number and Bool, missing for String and Timestamp.
func ZeroColumn(name string, kind Kind, rows int) *Column {
	switch kind {
	case Number, Bool:
		return &Column{Name: name, Kind: kind, Floats: make([]float64, rows)}
	case String:
		return &Column{Name: name, Kind: String, Strings: make([]string, rows), Valid: make([]bool, rows)}
	case Timestamp:
		return &Column{Name: name, Kind: Timestamp, Times: make([]time.Time, rows)}
	default:
		panic(fmt.Sprintf("unknown column kind %v", kind))
	}
}

func (c *Column) Len() int {
	switch c.Kind {
	case String:
		return len(c.Strings)
	case Timestamp:
		return len(c.Times)
	default:
		return len(c.Floats)
	}
}

func (c *Column) IsNumeric() bool {
	return c.Kind == Number || c.Kind == Bool
}

func (c *Column) IsMissing(i int) bool {
	switch c.Kind {
	case String:
		return !c.Valid[i]
	case Timestamp:
		return c.Times[i].IsZero()
	default:
		return math.IsNaN(c.Floats[i])
	}
}

// Value returns the row value as a JSON friendly scalar, or nil when missing.
func (c *Column) Value(i int) any {
	if c.IsMissing(i) {
		return nil
	}
	switch c.Kind {
	case Bool:
		return c.Floats[i] != 0
	case String:
		return c.Strings[i]
	case Timestamp:
		return c.Times[i]
	default:
		return c.Floats[i]
	}
}

// Float returns the row value as a float64. Timestamps map to unix seconds and
// strings are never numeric, so both of those and missing values return NaN.
func (c *Column) Float(i int) float64 {
	if c.IsMissing(i) {
		return math.NaN()
	}
	switch c.Kind {
	case Number, Bool:
		return c.Floats[i]
	case Timestamp:
		return float64(c.Times[i].Unix())
	default:
		return math.NaN()
	}
}

func (c *Column) Rename(name string) *Column {
	out := c.Clone()
	out.Name = name
	return out
}

func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
		out.Valid = append([]bool(nil), c.Valid...)
	}
	if c.Times != nil {
		out.Times = append([]time.Time(nil), c.Times...)
	}
	return out
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case String:
		out.Strings = make([]string, len(idx))
		out.Valid = make([]bool, len(idx))
		for i, j := range idx {
			out.Strings[i] = c.Strings[j]
			out.Valid[i] = c.Valid[j]
		}
	case Timestamp:
		out.Times = make([]time.Time, len(idx))
		for i, j := range idx {
			out.Times[i] = c.Times[j]
		}
	default:
		out.Floats = make([]float64, len(idx))
		for i, j := range idx {
			out.Floats[i] = c.Floats[j]
		}
	}
	return out
}

func (c *Column) concat(o *Column) (*Column, error) {
	if c.Name != o.Name {
		return nil, fmt.Errorf("cannot concatenate column %q with column %q", c.Name, o.Name)
	}
	if c.Kind != o.Kind {
		// Indicator columns zero-filled on the other side stay compatible.
		if c.IsNumeric() && o.IsNumeric() {
			return &Column{Name: c.Name, Kind: Number, Floats: append(append([]float64(nil), c.Floats...), o.Floats...)}, nil
		}
		return nil, fmt.Errorf("column %q has kind %v in one table and %v in the other", c.Name, c.Kind, o.Kind)
	}

	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case String:
		out.Strings = append(append([]string(nil), c.Strings...), o.Strings...)
		out.Valid = append(append([]bool(nil), c.Valid...), o.Valid...)
	case Timestamp:
		out.Times = append(append([]time.Time(nil), c.Times...), o.Times...)
	default:
		out.Floats = append(append([]float64(nil), c.Floats...), o.Floats...)
	}
	return out, nil
}
