package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"txn-features/internal/frame"
	"txn-features/internal/source"
)

const (
	LabelColumn = "label"

	// ShuffleSeed makes repeated training runs over the same inputs produce
	// the same row order.
	ShuffleSeed = 42
)

// UnifiedPreprocessor merges the synthetic and reference datasets into one
// feature table and replays the same transformations on runtime input.
//
// The training schema contract, the ordered list of non-label feature
// columns, is established once by Preprocess (or Restore) and never changes
// afterwards. PreprocessRuntime only reads it and may be called concurrently.
type UnifiedPreprocessor struct {
	mu sync.RWMutex

	source    source.Source
	synthetic DatasetPreprocessor
	reference DatasetPreprocessor

	contract []string
	kinds    []frame.Kind
	rows     int
}

type Option func(*UnifiedPreprocessor)

func WithSyntheticPreprocessor(p DatasetPreprocessor) Option {
	return func(u *UnifiedPreprocessor) { u.synthetic = p }
}

func WithReferencePreprocessor(p DatasetPreprocessor) Option {
	return func(u *UnifiedPreprocessor) { u.reference = p }
}

func NewUnifiedPreprocessor(src source.Source, opts ...Option) *UnifiedPreprocessor {
	u := &UnifiedPreprocessor{
		source:    src,
		synthetic: NewSyntheticPreprocessor(),
		reference: NewReferencePreprocessor(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *UnifiedPreprocessor) datasets() []DatasetPreprocessor {
	return []DatasetPreprocessor{u.synthetic, u.reference}
}

// Preprocess runs both dataset pipelines, reconciles their columns and
// concatenates synthetic rows followed by reference rows. The dataset label
// columns are replaced by a single label column. On success the resulting
// feature columns become the training schema contract. A failed call leaves
// no fitted state behind, so it can be retried.
func (u *UnifiedPreprocessor) Preprocess(ctx context.Context, syntheticPath, referencePath string, shuffle bool) (_ *frame.Table, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.contract != nil {
		return nil, ErrContractAlreadyEstablished
	}

	defer func() {
		if err != nil {
			for _, p := range u.datasets() {
				p.Scaler().reset()
			}
		}
	}()

	slog.Info("running synthetic preprocessor", "source", syntheticPath)
	syn, err := u.synthetic.Preprocess(ctx, u.source, syntheticPath)
	if err != nil {
		return nil, err
	}

	slog.Info("running reference preprocessor", "source", referencePath)
	ref, err := u.reference.Preprocess(ctx, u.source, referencePath)
	if err != nil {
		return nil, err
	}

	synLabel, err := sliceLabel(syn, u.synthetic, u.reference)
	if err != nil {
		return nil, err
	}
	refLabel, err := sliceLabel(ref, u.reference, u.synthetic)
	if err != nil {
		return nil, err
	}

	slog.Info("aligning columns")
	AlignColumns(syn, ref)
	ReconcileKinds(syn, ref)
	syn.SortColumns()
	ref.SortColumns()

	slog.Info("merging datasets")
	merged, err := frame.Concat(syn, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaIntegrity, err)
	}

	if err := normalizeLabel(merged, syn.Rows(), synLabel, refLabel, u.synthetic.LabelColumn(), u.reference.LabelColumn()); err != nil {
		return nil, err
	}

	if shuffle {
		rng := rand.New(rand.NewPCG(ShuffleSeed, ShuffleSeed))
		merged = merged.Take(rng.Perm(merged.Rows()))
	}

	contract := make([]string, 0, merged.Width())
	kinds := make([]frame.Kind, 0, merged.Width())
	for _, c := range merged.Columns() {
		if c.Name != LabelColumn {
			contract = append(contract, c.Name)
			kinds = append(kinds, c.Kind)
		}
	}
	u.contract = contract
	u.kinds = kinds
	u.rows = merged.Rows()

	slog.Info("unified preprocessing complete", "rows", merged.Rows(), "columns", merged.Width(), "features", len(contract))
	return merged, nil
}

// sliceLabel picks the label column of one dataset slice: its own label if
// present, otherwise the other dataset's.
func sliceLabel(t *frame.Table, own, other DatasetPreprocessor) (string, error) {
	if t.Has(own.LabelColumn()) {
		return own.LabelColumn(), nil
	}
	if t.Has(other.LabelColumn()) {
		return other.LabelColumn(), nil
	}
	return "", fmt.Errorf("%w: %s dataset has neither %q nor %q", ErrSchemaIntegrity, own.Name(), own.LabelColumn(), other.LabelColumn())
}

// AlignColumns adds every column present in only one of the tables to the
// other, filled with zeros, and returns the names added to a and to b.
func AlignColumns(a, b *frame.Table) (addedToA, addedToB []string) {
	for _, c := range b.Columns() {
		if !a.Has(c.Name) {
			a.Set(fillerColumn(c, a.Rows()))
			addedToA = append(addedToA, c.Name)
		}
	}
	for _, c := range a.Columns() {
		if !b.Has(c.Name) {
			b.Set(fillerColumn(c, b.Rows()))
			addedToB = append(addedToB, c.Name)
		}
	}
	return addedToA, addedToB
}

// ReconcileKinds converts columns that both tables share but with different
// kinds to their wider kind, so the tables can be concatenated. It returns the
// names of the converted columns.
func ReconcileKinds(a, b *frame.Table) []string {
	var converted []string
	for _, ca := range a.Columns() {
		cb, ok := b.Column(ca.Name)
		if !ok || ca.Kind == cb.Kind {
			continue
		}
		kind := frame.WiderKind(ca.Kind, cb.Kind)
		slog.Warn("widening column kind", "column", ca.Name, "kinds", []string{ca.Kind.String(), cb.Kind.String()}, "kind", kind)
		a.Set(ca.As(kind))
		b.Set(cb.As(kind))
		converted = append(converted, ca.Name)
	}
	return converted
}

func fillerColumn(like *frame.Column, rows int) *frame.Column {
	if !like.IsNumeric() {
		slog.Warn("zero filling non-numeric column", "column", like.Name, "kind", like.Kind)
	}
	return frame.ZeroColumn(like.Name, like.Kind, rows)
}

// normalizeLabel writes the label column from each row's own dataset label:
// rows before split come from synLabel, the rest from refLabel. Both dataset
// label columns are dropped afterwards.
func normalizeLabel(t *frame.Table, split int, synLabel, refLabel string, labelColumns ...string) error {
	synCol, ok := t.Column(synLabel)
	if !ok {
		return fmt.Errorf("%w: label column %q missing after merge", ErrSchemaIntegrity, synLabel)
	}
	refCol, ok := t.Column(refLabel)
	if !ok {
		return fmt.Errorf("%w: label column %q missing after merge", ErrSchemaIntegrity, refLabel)
	}

	label := make([]float64, t.Rows())
	for i := range label {
		if i < split {
			label[i] = synCol.Float(i)
		} else {
			label[i] = refCol.Float(i)
		}
	}

	t.Drop(labelColumns...)
	t.Set(frame.NewNumberColumn(LabelColumn, label))
	return nil
}

// PreprocessRuntime applies both datasets' cleaning, encoding, scaling and
// time features to t and projects the result onto the training schema
// contract. Contract columns the input cannot produce are zero filled and
// present ones are converted to the kind they had in training, so every call
// yields the same column names, order and kinds. Any other column, such as an
// unseen category indicator, is dropped. The input table is not modified.
func (u *UnifiedPreprocessor) PreprocessRuntime(t *frame.Table) (*frame.Table, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.contract == nil {
		return nil, ErrContractNotEstablished
	}

	out := CoerceTimestamps(t.Clone(), TimestampColumn)
	for _, p := range u.datasets() {
		out = p.CleanAmounts(out)
		out = p.EncodeCategoricals(out)
		out = p.ScaleNumeric(out)
		out = p.DeriveTimeFeatures(out)
	}

	for i, name := range u.contract {
		kind := u.kinds[i]
		col, ok := out.Column(name)
		switch {
		case !ok:
			out.Set(frame.ZeroColumn(name, kind, out.Rows()))
		case col.Kind != kind:
			out.Set(col.As(kind))
		}
	}

	return out.Select(u.contract)
}

// PreprocessRecords builds a table from runtime records and runs
// PreprocessRuntime on it.
func (u *UnifiedPreprocessor) PreprocessRecords(records []frame.Record) (*frame.Table, error) {
	return u.PreprocessRuntime(frame.FromRecords(records))
}

func (u *UnifiedPreprocessor) Established() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.contract != nil
}

// Contract returns a copy of the training schema contract.
func (u *UnifiedPreprocessor) Contract() ([]string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.contract == nil {
		return nil, ErrContractNotEstablished
	}
	return append([]string(nil), u.contract...), nil
}

// Schema returns an empty table with the contract columns in order, each with
// the kind it had in training.
func (u *UnifiedPreprocessor) Schema() (*frame.Table, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.contract == nil {
		return nil, ErrContractNotEstablished
	}

	cols := make([]*frame.Column, len(u.contract))
	for i, name := range u.contract {
		cols[i] = frame.ZeroColumn(name, u.kinds[i], 0)
	}
	return frame.NewTable(cols...)
}

// Datasets returns the names of the dataset preprocessors in merge order.
func (u *UnifiedPreprocessor) Datasets() []string {
	return []string{u.synthetic.Name(), u.reference.Name()}
}
