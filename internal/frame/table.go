package frame

import (
	"fmt"
	"slices"
	"sort"
)

// Table is an ordered set of uniquely named columns that share a row count.
type Table struct {
	rows  int
	cols  []*Column
	index map[string]int
}

// New returns a table with no columns and a fixed row count.
func New(rows int) *Table {
	return &Table{rows: rows, index: make(map[string]int)}
}

func NewTable(cols ...*Column) (*Table, error) {
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}

	t := New(rows)
	for _, c := range cols {
		if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), rows)
		}
		if t.Has(c.Name) {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		t.Set(c)
	}
	return t, nil
}

func (t *Table) Rows() int {
	return t.rows
}

func (t *Table) Width() int {
	return len(t.cols)
}

func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

func (t *Table) Columns() []*Column {
	return t.cols
}

// Set replaces the column with the same name in place, or appends it. The
// column must have exactly Rows() values.
func (t *Table) Set(c *Column) {
	if c.Len() != t.rows {
		panic(fmt.Sprintf("column %q has %d rows, table has %d", c.Name, c.Len(), t.rows))
	}
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
}

// Drop removes the named columns, ignoring names that are not present.
func (t *Table) Drop(names ...string) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	kept := t.cols[:0]
	for _, c := range t.cols {
		if _, ok := drop[c.Name]; !ok {
			kept = append(kept, c)
		}
	}
	t.cols = kept
	t.reindex()
}

// Select returns a new table holding exactly the named columns in the given
// order. Columns are shared with t, not copied.
func (t *Table) Select(names []string) (*Table, error) {
	out := New(t.rows)
	for _, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, fmt.Errorf("column %q not found", n)
		}
		if out.Has(n) {
			return nil, fmt.Errorf("duplicate column %q in selection", n)
		}
		out.Set(c)
	}
	return out, nil
}

// SortColumns orders the columns lexically by name.
func (t *Table) SortColumns() {
	sort.SliceStable(t.cols, func(i, j int) bool { return t.cols[i].Name < t.cols[j].Name })
	t.reindex()
}

func (t *Table) Clone() *Table {
	out := New(t.rows)
	for _, c := range t.cols {
		out.Set(c.Clone())
	}
	return out
}

// Take returns a new table whose row i is row idx[i] of t.
func (t *Table) Take(idx []int) *Table {
	out := New(len(idx))
	for _, c := range t.cols {
		out.Set(c.take(idx))
	}
	return out
}

func (t *Table) Equal(o *Table) bool {
	if t.rows != o.rows || !slices.Equal(t.Names(), o.Names()) {
		return false
	}
	for i, c := range t.cols {
		oc := o.cols[i]
		if c.Kind != oc.Kind {
			return false
		}
		for r := 0; r < t.rows; r++ {
			if c.IsMissing(r) != oc.IsMissing(r) {
				return false
			}
			if c.IsMissing(r) {
				continue
			}
			if c.Kind == Timestamp {
				if !c.Times[r].Equal(oc.Times[r]) {
					return false
				}
			} else if c.Value(r) != oc.Value(r) {
				return false
			}
		}
	}
	return true
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

// Concat appends the rows of b after the rows of a. Both tables must have the
// same column names in the same order.
func Concat(a, b *Table) (*Table, error) {
	if !slices.Equal(a.Names(), b.Names()) {
		return nil, fmt.Errorf("cannot concatenate tables with different columns: %v vs %v", a.Names(), b.Names())
	}

	out := New(a.rows + b.rows)
	for i, c := range a.cols {
		merged, err := c.concat(b.cols[i])
		if err != nil {
			return nil, err
		}
		out.Set(merged)
	}
	return out, nil
}
