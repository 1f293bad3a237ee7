package core

import (
	"context"
	"fmt"
	"log/slog"

	"txn-features/internal/frame"
	"txn-features/internal/source"
)

const (
	SyntheticDataset        = "synthetic"
	SyntheticLabelColumn    = "anomaly"
	SyntheticAmountColumn   = "amount"
	SyntheticCategoryColumn = "category"
	SyntheticCategoryPrefix = "cat"
)

// SyntheticPreprocessor handles the synthetic dataset, which carries real
// customer ids, a category field and a native timestamp.
type SyntheticPreprocessor struct {
	FeatureDeriver

	scaler *StandardScaler
}

var _ DatasetPreprocessor = (*SyntheticPreprocessor)(nil)

func NewSyntheticPreprocessor() *SyntheticPreprocessor {
	return &SyntheticPreprocessor{scaler: NewStandardScaler()}
}

func (p *SyntheticPreprocessor) Name() string {
	return SyntheticDataset
}

func (p *SyntheticPreprocessor) LabelColumn() string {
	return SyntheticLabelColumn
}

func (p *SyntheticPreprocessor) Scaler() *StandardScaler {
	return p.scaler
}

func (p *SyntheticPreprocessor) Preprocess(ctx context.Context, src source.Source, path string) (*frame.Table, error) {
	slog.Info("loading synthetic dataset", "source", path)
	t, err := src.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("error loading synthetic dataset: %w", err)
	}

	t = CoerceTimestamps(t, TimestampColumn)
	t = p.CleanAmounts(t)
	t = p.EncodeCategoricals(t)

	columns := p.numericColumns(t)
	if err := p.scaler.Fit(t, columns); err != nil {
		return nil, fmt.Errorf("error fitting synthetic scaler: %w", err)
	}
	slog.Info("scaling synthetic numeric columns", "columns", columns)
	t = p.ScaleNumeric(t)

	t = p.DeriveTimeFeatures(t)

	slog.Info("synthetic preprocessing complete", "rows", t.Rows(), "columns", t.Width())
	return t, nil
}

func (p *SyntheticPreprocessor) CleanAmounts(t *frame.Table) *frame.Table {
	return clampNonNegative(t, SyntheticAmountColumn)
}

// EncodeCategoricals one-hot encodes the category column with the "cat"
// prefix. When columns are given, each of them is encoded instead, using the
// column name as prefix.
func (p *SyntheticPreprocessor) EncodeCategoricals(t *frame.Table, columns ...string) *frame.Table {
	if len(columns) == 0 {
		return OneHot(t, SyntheticCategoryColumn, SyntheticCategoryPrefix)
	}
	for _, c := range columns {
		t = OneHot(t, c, c)
	}
	return t
}

func (p *SyntheticPreprocessor) ScaleNumeric(t *frame.Table) *frame.Table {
	p.scaler.fitIfUnfitted(t, p.numericColumns(t))
	return p.scaler.Transform(t)
}

var syntheticScaleExclusions = map[string]struct{}{
	TimestampColumn:      {},
	StatusColumn:         {},
	LabelColumn:          {},
	SyntheticLabelColumn: {},
	ReferenceLabelColumn: {},
}

// numericColumns selects every Number column except labels, status and
// timestamp. Indicator columns are Bool and therefore never selected.
func (p *SyntheticPreprocessor) numericColumns(t *frame.Table) []string {
	var columns []string
	for _, c := range t.Columns() {
		if c.Kind != frame.Number {
			continue
		}
		if _, excluded := syntheticScaleExclusions[c.Name]; excluded {
			continue
		}
		columns = append(columns, c.Name)
	}
	return columns
}
