package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"txn-features/internal/frame"
)

var ErrInvalidFilter = errors.New("invalid row filter")

// Filter selects rows of a feature table. Check must pass before Matches is
// called on a table.
type Filter interface {
	Matches(t *frame.Table, row int) bool
	Check(t *frame.Table) error
	Columns() []string
}

type compareOp string

const (
	opLess    compareOp = "<"
	opGreater compareOp = ">"
	opEqual   compareOp = "="
)

func (op compareOp) holds(c int) bool {
	switch op {
	case opLess:
		return c < 0
	case opGreater:
		return c > 0
	default:
		return c == 0
	}
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(t *frame.Table, row int) bool {
	for _, filter := range f.filters {
		if !filter.Matches(t, row) {
			return false
		}
	}
	return true
}

func (f *AndFilter) Check(t *frame.Table) error {
	return checkAll(t, f.filters)
}

func (f *AndFilter) Columns() []string {
	return columnsOf(f.filters)
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(t *frame.Table, row int) bool {
	for _, filter := range f.filters {
		if filter.Matches(t, row) {
			return true
		}
	}
	return false
}

func (f *OrFilter) Check(t *frame.Table) error {
	return checkAll(t, f.filters)
}

func (f *OrFilter) Columns() []string {
	return columnsOf(f.filters)
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(t *frame.Table, row int) bool {
	return !f.filter.Matches(t, row)
}

func (f *NotFilter) Check(t *frame.Table) error {
	return f.filter.Check(t)
}

func (f *NotFilter) Columns() []string {
	return f.filter.Columns()
}

// MissingFilter matches rows where the column has no value.
type MissingFilter struct {
	column string
}

func (f *MissingFilter) Matches(t *frame.Table, row int) bool {
	col, _ := t.Column(f.column)
	return col.IsMissing(row)
}

func (f *MissingFilter) Check(t *frame.Table) error {
	_, err := filterColumn(t, f.column)
	return err
}

func (f *MissingFilter) Columns() []string {
	return []string{f.column}
}

// NumberFilter compares a numeric or timestamp column against a number.
// Timestamps compare as unix seconds. Missing values never match.
type NumberFilter struct {
	column string
	op     compareOp
	value  float64
}

func (f *NumberFilter) Matches(t *frame.Table, row int) bool {
	col, _ := t.Column(f.column)
	if col.IsMissing(row) {
		return false
	}
	return f.op.holds(cmp.Compare(col.Float(row), f.value))
}

func (f *NumberFilter) Check(t *frame.Table) error {
	col, err := filterColumn(t, f.column)
	if err != nil {
		return err
	}
	if col.Kind == frame.String {
		return fmt.Errorf("%w: column %q is a string column and cannot be compared to %v", ErrInvalidFilter, f.column, f.value)
	}
	return nil
}

func (f *NumberFilter) Columns() []string {
	return []string{f.column}
}

// StringFilter compares a string or timestamp column against a quoted value.
// For timestamp columns the value must itself parse as a timestamp.
type StringFilter struct {
	column string
	op     compareOp
	value  string

	ts    time.Time
	hasTs bool
}

func newStringFilter(column string, op compareOp, value string) *StringFilter {
	ts, ok := ParseTimestamp(value)
	return &StringFilter{column: column, op: op, value: value, ts: ts, hasTs: ok}
}

func (f *StringFilter) Matches(t *frame.Table, row int) bool {
	col, _ := t.Column(f.column)
	if col.IsMissing(row) {
		return false
	}
	if col.Kind == frame.Timestamp {
		return f.op.holds(col.Times[row].Compare(f.ts))
	}
	return f.op.holds(cmp.Compare(col.Strings[row], f.value))
}

func (f *StringFilter) Check(t *frame.Table) error {
	col, err := filterColumn(t, f.column)
	if err != nil {
		return err
	}
	switch col.Kind {
	case frame.String:
		return nil
	case frame.Timestamp:
		if !f.hasTs {
			return fmt.Errorf("%w: %q is not a timestamp and cannot be compared to column %q", ErrInvalidFilter, f.value, f.column)
		}
		return nil
	default:
		return fmt.Errorf("%w: column %q is numeric and cannot be compared to %q", ErrInvalidFilter, f.column, f.value)
	}
}

func (f *StringFilter) Columns() []string {
	return []string{f.column}
}

func filterColumn(t *frame.Table, name string) (*frame.Column, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidFilter, name)
	}
	return col, nil
}

func checkAll(t *frame.Table, filters []Filter) error {
	for _, filter := range filters {
		if err := filter.Check(t); err != nil {
			return err
		}
	}
	return nil
}

func columnsOf(filters []Filter) []string {
	var out []string
	for _, filter := range filters {
		for _, c := range filter.Columns() {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// CheckFilter validates filter against a table schema, such as the one
// returned by UnifiedPreprocessor.Schema, before any data is read.
func CheckFilter(filter Filter, schema *frame.Table) error {
	if filter == nil {
		return nil
	}
	return filter.Check(schema)
}

// ApplyFilter returns the rows of t matched by filter. A nil filter keeps
// every row.
func ApplyFilter(filter Filter, t *frame.Table) (*frame.Table, error) {
	if filter == nil {
		return t, nil
	}
	if err := filter.Check(t); err != nil {
		return nil, err
	}

	idx := make([]int, 0, t.Rows())
	for i := 0; i < t.Rows(); i++ {
		if filter.Matches(t, i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx), nil
}
