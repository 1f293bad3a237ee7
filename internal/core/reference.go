package core

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"txn-features/internal/frame"
	"txn-features/internal/source"
)

const (
	ReferenceDataset       = "reference"
	ReferenceLabelColumn   = "Class"
	ReferenceAmountColumn  = "Amount"
	ReferenceElapsedColumn = "Time"
)

var componentColumn = regexp.MustCompile(`^V\d+$`)

// ReferencePreprocessor handles the reference dataset: anonymized V1..Vn
// components, an Amount column and a Time column holding seconds elapsed since
// the first transaction. It has no categorical fields and no customer ids.
type ReferencePreprocessor struct {
	FeatureDeriver

	scaler *StandardScaler
}

var _ DatasetPreprocessor = (*ReferencePreprocessor)(nil)

func NewReferencePreprocessor() *ReferencePreprocessor {
	return &ReferencePreprocessor{scaler: NewStandardScaler()}
}

func (p *ReferencePreprocessor) Name() string {
	return ReferenceDataset
}

func (p *ReferencePreprocessor) LabelColumn() string {
	return ReferenceLabelColumn
}

func (p *ReferencePreprocessor) Scaler() *StandardScaler {
	return p.scaler
}

func (p *ReferencePreprocessor) Preprocess(ctx context.Context, src source.Source, path string) (*frame.Table, error) {
	slog.Info("loading reference dataset", "source", path)
	t, err := src.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("error loading reference dataset: %w", err)
	}

	t = p.ConvertElapsedTime(t)
	t = p.CleanAmounts(t)

	columns := p.numericColumns(t)
	if err := p.scaler.Fit(t, columns); err != nil {
		return nil, fmt.Errorf("error fitting reference scaler: %w", err)
	}
	slog.Info("scaling reference numeric columns", "columns", columns)
	t = p.ScaleNumeric(t)

	t = p.DeriveTimeFeatures(t)

	slog.Info("reference preprocessing complete", "rows", t.Rows(), "columns", t.Width())
	return t, nil
}

// ConvertElapsedTime replaces the Time column with an absolute timestamp
// anchored at ReferenceEpoch and adds a customer_id holding the row index,
// since the dataset has no customer identifier of its own.
func (p *ReferencePreprocessor) ConvertElapsedTime(t *frame.Table) *frame.Table {
	if col, ok := t.Column(ReferenceElapsedColumn); ok && col.IsNumeric() {
		times := make([]time.Time, t.Rows())
		for i, v := range col.Floats {
			times[i] = secondsFrom(ReferenceEpoch, v)
		}
		t.Drop(ReferenceElapsedColumn)
		t.Set(frame.NewTimestampColumn(TimestampColumn, times))
	}

	ids := make([]float64, t.Rows())
	for i := range ids {
		ids[i] = float64(i)
	}
	t.Set(frame.NewNumberColumn(CustomerColumn, ids))
	return t
}

func (p *ReferencePreprocessor) CleanAmounts(t *frame.Table) *frame.Table {
	return clampNonNegative(t, ReferenceAmountColumn)
}

// EncodeCategoricals is a no-op: the reference dataset has no nominal columns.
func (p *ReferencePreprocessor) EncodeCategoricals(t *frame.Table, columns ...string) *frame.Table {
	return t
}

func (p *ReferencePreprocessor) ScaleNumeric(t *frame.Table) *frame.Table {
	p.scaler.fitIfUnfitted(t, p.numericColumns(t))
	return p.scaler.Transform(t)
}

// numericColumns is an explicit allow-list: the anonymized components plus
// Amount.
func (p *ReferencePreprocessor) numericColumns(t *frame.Table) []string {
	var columns []string
	for _, c := range t.Columns() {
		if componentColumn.MatchString(c.Name) {
			columns = append(columns, c.Name)
		}
	}
	if t.Has(ReferenceAmountColumn) {
		columns = append(columns, ReferenceAmountColumn)
	}
	return columns
}
