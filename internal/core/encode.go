package core

import (
	"sort"
	"strconv"

	"txn-features/internal/frame"
)

// OneHot replaces a nominal column with one indicator column per observed
// category, named <prefix>_<category> and appended in lexical category order.
// Rows with a missing value set no indicator. Absent columns are ignored.
func OneHot(t *frame.Table, column, prefix string) *frame.Table {
	col, ok := t.Column(column)
	if !ok {
		return t
	}

	values := make([]string, t.Rows())
	present := make([]bool, t.Rows())
	seen := make(map[string]struct{})
	for i := range values {
		if col.IsMissing(i) {
			continue
		}
		values[i] = categoryName(col, i)
		present[i] = true
		seen[values[i]] = struct{}{}
	}

	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	t.Drop(column)
	for _, category := range categories {
		indicator := make([]bool, t.Rows())
		for i, v := range values {
			indicator[i] = present[i] && v == category
		}
		t.Set(frame.NewBoolColumn(prefix+"_"+category, indicator))
	}
	return t
}

func categoryName(col *frame.Column, i int) string {
	switch col.Kind {
	case frame.String:
		return col.Strings[i]
	case frame.Bool:
		if col.Floats[i] != 0 {
			return "True"
		}
		return "False"
	case frame.Timestamp:
		return col.Times[i].Format("2006-01-02 15:04:05")
	default:
		return strconv.FormatFloat(col.Floats[i], 'f', -1, 64)
	}
}
