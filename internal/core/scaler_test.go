package core

import (
	"math"
	"testing"
	"time"

	"txn-features/internal/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestStandardScaler(t *testing.T) {
	tbl, err := frame.NewTable(
		frame.NewNumberColumn("a", []float64{2, 4, 4, 4, 5, 5, 7, 9}),
		frame.NewNumberColumn("b", []float64{3, 3, 3, 3, 3, 3, 3, 3}),
		frame.NewNumberColumn("c", []float64{1, 1, 1, 1, 1, 1, 1, 1}),
	)
	require.NoError(t, err)

	s := NewStandardScaler()
	assert.False(t, s.Fitted())
	require.NoError(t, s.Fit(tbl, []string{"a", "b", "missing"}))
	assert.True(t, s.Fitted())
	assert.Equal(t, []string{"a", "b"}, s.Columns())

	out := s.Transform(tbl.Clone())

	a := floats(t, out, "a")
	mean, variance := stat.PopMeanVariance(a, nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, variance, 1e-9)
	assert.InDelta(t, -1.5, a[0], 1e-9)

	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 0, 0}, floats(t, out, "b"))
	assert.Equal(t, floats(t, tbl, "c"), floats(t, out, "c"))

	params := s.Params()
	assert.Equal(t, []float64{5, 3}, params.Mean)
	assert.Equal(t, []float64{4, 0}, params.Variance)
	assert.Equal(t, []float64{2, 1}, params.Scale)

	assert.ErrorIs(t, s.Fit(tbl, []string{"a"}), ErrScalerAlreadyFitted)
}

func TestStandardScalerIgnoresMissingValues(t *testing.T) {
	tbl, err := frame.NewTable(frame.NewNumberColumn("a", []float64{1, math.NaN(), 3}))
	require.NoError(t, err)

	s := NewStandardScaler()
	require.NoError(t, s.Fit(tbl, []string{"a"}))

	out := floats(t, s.Transform(tbl), "a")
	assert.InDelta(t, -1, out[0], 1e-9)
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 1, out[2], 1e-9)
}

func TestStandardScalerUnfitted(t *testing.T) {
	tbl, err := frame.NewTable(frame.NewNumberColumn("a", []float64{1, 2}))
	require.NoError(t, err)

	out := NewStandardScaler().Transform(tbl.Clone())
	assert.True(t, tbl.Equal(out))
}

func TestStandardScalerLoad(t *testing.T) {
	tbl, err := frame.NewTable(frame.NewNumberColumn("a", []float64{1, 2, 6}))
	require.NoError(t, err)

	fitted := NewStandardScaler()
	require.NoError(t, fitted.Fit(tbl, []string{"a"}))

	loaded := NewStandardScaler()
	require.NoError(t, loaded.Load(fitted.Params()))
	assert.True(t, fitted.Transform(tbl.Clone()).Equal(loaded.Transform(tbl.Clone())))

	assert.ErrorIs(t, loaded.Load(fitted.Params()), ErrScalerAlreadyFitted)

	invalid := ScalerParams{Columns: []string{"a"}, Mean: []float64{1}}
	assert.Error(t, NewStandardScaler().Load(invalid))
}

func TestScaleNumericWithFittedScalerOnlyReads(t *testing.T) {
	p := NewSyntheticPreprocessor()
	tbl, err := frame.NewTable(frame.NewNumberColumn(SyntheticAmountColumn, []float64{1, 3}))
	require.NoError(t, err)
	require.NoError(t, p.Scaler().Fit(tbl, []string{SyntheticAmountColumn}))

	// A held read lock blocks any writer, so this only finishes if scaling a
	// fitted scaler never asks for the write lock.
	p.Scaler().mu.RLock()
	defer p.Scaler().mu.RUnlock()

	done := make(chan *frame.Table, 1)
	go func() { done <- p.ScaleNumeric(tbl.Clone()) }()

	select {
	case out := <-done:
		assert.Equal(t, []float64{-1, 1}, floats(t, out, SyntheticAmountColumn))
	case <-time.After(2 * time.Second):
		t.Fatal("ScaleNumeric blocked on a fitted scaler")
	}
}
