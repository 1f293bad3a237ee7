package core

import (
	"context"
	"fmt"
	"math"
	"testing"

	"txn-features/internal/frame"
	"txn-features/internal/source"

	"github.com/stretchr/testify/require"
)

const (
	syntheticPath = "synthetic.csv"
	referencePath = "reference.csv"
)

type memorySource map[string]*frame.Table

func (s memorySource) Load(ctx context.Context, path string) (*frame.Table, error) {
	t, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrSourceNotFound, path)
	}
	return t.Clone(), nil
}

func syntheticTable(t *testing.T) *frame.Table {
	tbl, err := frame.NewTable(
		frame.NewStringColumn(TimestampColumn, []string{"2024-03-04 10:00:00", "2024-03-04 12:30:00", "not a time", "2024-03-05 08:00:00"}, nil),
		frame.NewNumberColumn(CustomerColumn, []float64{1, 1, 2, 2}),
		frame.NewNumberColumn(SyntheticAmountColumn, []float64{10, -3, math.NaN(), 25}),
		frame.NewStringColumn(SyntheticCategoryColumn, []string{"groceries", "travel", "groceries", ""}, []bool{true, true, true, false}),
		frame.NewNumberColumn(SyntheticLabelColumn, []float64{0, 1, 0, 0}),
	)
	require.NoError(t, err)
	return tbl
}

func referenceTable(t *testing.T) *frame.Table {
	tbl, err := frame.NewTable(
		frame.NewNumberColumn(ReferenceElapsedColumn, []float64{0, 3600, 7200}),
		frame.NewNumberColumn("V1", []float64{1, 2, 3}),
		frame.NewNumberColumn(ReferenceAmountColumn, []float64{5, -1, 15}),
		frame.NewNumberColumn(ReferenceLabelColumn, []float64{0, 0, 1}),
	)
	require.NoError(t, err)
	return tbl
}

func testSource(t *testing.T) memorySource {
	return memorySource{
		syntheticPath: syntheticTable(t),
		referencePath: referenceTable(t),
	}
}

func trainedPreprocessor(t *testing.T) (*UnifiedPreprocessor, *frame.Table) {
	u := NewUnifiedPreprocessor(testSource(t))
	out, err := u.Preprocess(context.Background(), syntheticPath, referencePath, false)
	require.NoError(t, err)
	return u, out
}

func floats(t *testing.T, tbl *frame.Table, name string) []float64 {
	col, ok := tbl.Column(name)
	require.True(t, ok, "missing column %s", name)

	out := make([]float64, tbl.Rows())
	for i := range out {
		out[i] = col.Float(i)
	}
	return out
}
