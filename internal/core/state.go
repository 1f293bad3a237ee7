package core

import (
	"fmt"
	"log/slog"
	"slices"

	"txn-features/internal/frame"
)

// PipelineState is everything PreprocessRuntime depends on: the contract with
// the kind of each column, and each dataset's fitted scaler parameters.
type PipelineState struct {
	Contract []string                `json:"contract" yaml:"contract"`
	Kinds    []string                `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Rows     int                     `json:"rows" yaml:"rows"`
	Scalers  map[string]ScalerParams `json:"scalers" yaml:"scalers"`
}

func (u *UnifiedPreprocessor) State() (PipelineState, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.contract == nil {
		return PipelineState{}, ErrContractNotEstablished
	}

	state := PipelineState{
		Contract: append([]string(nil), u.contract...),
		Kinds:    make([]string, len(u.kinds)),
		Rows:     u.rows,
		Scalers:  make(map[string]ScalerParams),
	}
	for i, k := range u.kinds {
		state.Kinds[i] = k.String()
	}
	for _, p := range u.datasets() {
		state.Scalers[p.Name()] = p.Scaler().Params()
	}
	return state, nil
}

// Restore establishes the contract and scaler parameters from a previously
// captured state instead of running Preprocess.
func (u *UnifiedPreprocessor) Restore(state PipelineState) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.contract != nil {
		return ErrContractAlreadyEstablished
	}
	if state.Contract == nil {
		return fmt.Errorf("cannot restore pipeline state without a contract")
	}
	if slices.Contains(state.Contract, LabelColumn) {
		return fmt.Errorf("%w: contract contains the %q column", ErrSchemaIntegrity, LabelColumn)
	}

	kinds, err := contractKinds(state)
	if err != nil {
		return err
	}

	for _, p := range u.datasets() {
		params, ok := state.Scalers[p.Name()]
		if !ok {
			return fmt.Errorf("pipeline state has no scaler for dataset %s", p.Name())
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("error restoring %s scaler: %w", p.Name(), err)
		}
		if p.Scaler().Fitted() {
			return fmt.Errorf("error restoring %s scaler: %w", p.Name(), ErrScalerAlreadyFitted)
		}
	}

	for _, p := range u.datasets() {
		if err := p.Scaler().Load(state.Scalers[p.Name()]); err != nil {
			return fmt.Errorf("error restoring %s scaler: %w", p.Name(), err)
		}
	}

	u.contract = append([]string{}, state.Contract...)
	u.kinds = kinds
	u.rows = state.Rows
	return nil
}

// contractKinds decodes the column kinds of a state. States saved before kinds
// were recorded read timestamp as Timestamp and every other column as Number.
func contractKinds(state PipelineState) ([]frame.Kind, error) {
	kinds := make([]frame.Kind, len(state.Contract))

	if len(state.Kinds) == 0 {
		slog.Warn("pipeline state has no column kinds, assuming numeric columns")
		for i, name := range state.Contract {
			if name == TimestampColumn {
				kinds[i] = frame.Timestamp
			}
		}
		return kinds, nil
	}

	if len(state.Kinds) != len(state.Contract) {
		return nil, fmt.Errorf("%w: pipeline state has %d column kinds for %d contract columns", ErrSchemaIntegrity, len(state.Kinds), len(state.Contract))
	}
	for i, k := range state.Kinds {
		kind, err := frame.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("%w: contract column %q: %w", ErrSchemaIntegrity, state.Contract[i], err)
		}
		kinds[i] = kind
	}
	return kinds, nil
}
