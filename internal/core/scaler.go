package core

import (
	"fmt"
	"math"
	"sync"

	"txn-features/internal/frame"

	"gonum.org/v1/gonum/stat"
)

// ScalerParams is the serializable form of a fitted StandardScaler.
type ScalerParams struct {
	Columns  []string  `json:"columns" yaml:"columns"`
	Mean     []float64 `json:"mean" yaml:"mean"`
	Variance []float64 `json:"variance" yaml:"variance"`
	Scale    []float64 `json:"scale" yaml:"scale"`
}

type columnStats struct {
	mean, variance, scale float64
}

// StandardScaler standardizes columns to zero mean and unit variance using
// parameters fitted once. Transform only reads the fitted parameters and is
// safe for concurrent use.
type StandardScaler struct {
	mu      sync.RWMutex
	fitted  bool
	columns []string
	stats   map[string]columnStats
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

func (s *StandardScaler) Fitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// Fit computes population mean and variance for each of the named columns that
// is present in t. Missing values are ignored. A column with zero variance, or
// with no values at all, gets a scale of 1.
func (s *StandardScaler) Fit(t *frame.Table, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fitted {
		return ErrScalerAlreadyFitted
	}
	s.fitLocked(t, columns)
	return nil
}

// fitIfUnfitted fits the scaler unless it already holds parameters. A fitted
// scaler is only read locked.
func (s *StandardScaler) fitIfUnfitted(t *frame.Table, columns []string) {
	if s.Fitted() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fitted {
		s.fitLocked(t, columns)
	}
}

func (s *StandardScaler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fitted = false
	s.columns = nil
	s.stats = nil
}

func (s *StandardScaler) fitLocked(t *frame.Table, columns []string) {
	s.columns = nil
	s.stats = make(map[string]columnStats, len(columns))

	for _, name := range columns {
		col, ok := t.Column(name)
		if !ok || !col.IsNumeric() {
			continue
		}

		values := make([]float64, 0, len(col.Floats))
		for _, v := range col.Floats {
			if !math.IsNaN(v) {
				values = append(values, v)
			}
		}

		st := columnStats{scale: 1}
		if len(values) > 0 {
			st.mean, st.variance = stat.PopMeanVariance(values, nil)
			if st.variance > 0 {
				st.scale = math.Sqrt(st.variance)
			}
		}

		s.columns = append(s.columns, name)
		s.stats[name] = st
	}
	s.fitted = true
}

// Transform replaces every fitted column present in t with its standardized
// values. Columns that were not fitted are left untouched. An unfitted scaler
// leaves the table unchanged.
func (s *StandardScaler) Transform(t *frame.Table) *frame.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.columns {
		col, ok := t.Column(name)
		if !ok || !col.IsNumeric() {
			continue
		}

		st := s.stats[name]
		scaled := make([]float64, len(col.Floats))
		for i, v := range col.Floats {
			scaled[i] = (v - st.mean) / st.scale
		}
		t.Set(frame.NewNumberColumn(name, scaled))
	}
	return t
}

func (s *StandardScaler) Columns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.columns...)
}

func (s *StandardScaler) Params() ScalerParams {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := ScalerParams{
		Columns:  append([]string{}, s.columns...),
		Mean:     make([]float64, len(s.columns)),
		Variance: make([]float64, len(s.columns)),
		Scale:    make([]float64, len(s.columns)),
	}
	for i, name := range s.columns {
		st := s.stats[name]
		p.Mean[i], p.Variance[i], p.Scale[i] = st.mean, st.variance, st.scale
	}
	return p
}

func (p ScalerParams) Validate() error {
	n := len(p.Columns)
	if len(p.Mean) != n || len(p.Variance) != n || len(p.Scale) != n {
		return fmt.Errorf("invalid scaler params: %d columns, %d means, %d variances, %d scales", n, len(p.Mean), len(p.Variance), len(p.Scale))
	}
	return nil
}

// Load installs previously fitted parameters.
func (s *StandardScaler) Load(p ScalerParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	n := len(p.Columns)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fitted {
		return ErrScalerAlreadyFitted
	}

	s.columns = append([]string{}, p.Columns...)
	s.stats = make(map[string]columnStats, n)
	for i, name := range p.Columns {
		scale := p.Scale[i]
		if scale == 0 {
			scale = 1
		}
		s.stats[name] = columnStats{mean: p.Mean[i], variance: p.Variance[i], scale: scale}
	}
	s.fitted = true
	return nil
}
