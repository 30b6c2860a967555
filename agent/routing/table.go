// Package routing decides which pipeline stage runs next.
//
// The Table holds the static transitions and fallbacks, the Policy maps a
// successful outcome onto the table, and the Controller adds bounded retries
// and fallback with a cycle guard on top of the Policy.
package routing

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// Table is static routing configuration. It is never mutated after NewTable.
type Table struct {
	transitions     map[contractx.Stage]map[contractx.Category]contractx.Stage
	fallbacks       map[contractx.Stage]contractx.Stage
	defaultFallback contractx.Stage
}

// TableSpec is the raw form of a routing table before validation.
type TableSpec struct {
	Transitions     map[contractx.Stage]map[contractx.Category]contractx.Stage
	Fallbacks       map[contractx.Stage]contractx.Stage
	DefaultFallback contractx.Stage
}

var knownCategories = map[contractx.Category]bool{
	contractx.CategoryPurchaseIntent: true,
	contractx.CategoryProductQuery:   true,
	contractx.CategoryAvailable:      true,
	contractx.CategoryNotAvailable:   true,
	contractx.CategorySuccess:        true,
	contractx.CategoryError:          true,
	contractx.CategoryGeneral:        true,
}

// NewTable validates spec and returns an immutable copy. Every stage gets a
// transition row, possibly empty, so that lookups can tell an unknown stage
// from a stage with no mapping.
func NewTable(spec TableSpec) (*Table, error) {
	def := spec.DefaultFallback
	if def == contractx.StageTerminal {
		def = contractx.StageDialog
	}
	if !isExecutable(def) {
		return nil, fmt.Errorf("%w: default fallback %s", contractx.ErrUnknownStage, def)
	}

	t := &Table{
		transitions:     make(map[contractx.Stage]map[contractx.Category]contractx.Stage, len(contractx.Stages())),
		fallbacks:       make(map[contractx.Stage]contractx.Stage, len(spec.Fallbacks)),
		defaultFallback: def,
	}
	for _, stage := range contractx.Stages() {
		t.transitions[stage] = map[contractx.Category]contractx.Stage{}
	}

	for from, row := range spec.Transitions {
		if !isExecutable(from) {
			return nil, fmt.Errorf("%w: transition source %s", contractx.ErrUnknownStage, from)
		}
		for category, to := range row {
			if !knownCategories[category] {
				return nil, fmt.Errorf("%w: stage %s has unknown category %q", contractx.ErrValidation, from, category)
			}
			if !to.Valid() {
				return nil, fmt.Errorf("%w: %s/%s routes to %s", contractx.ErrUnknownStage, from, category, to)
			}
			t.transitions[from][category] = to
		}
	}

	for from, to := range spec.Fallbacks {
		if !isExecutable(from) {
			return nil, fmt.Errorf("%w: fallback source %s", contractx.ErrUnknownStage, from)
		}
		if !isExecutable(to) {
			return nil, fmt.Errorf("%w: %s falls back to %s", contractx.ErrUnknownStage, from, to)
		}
		t.fallbacks[from] = to
	}

	return t, nil
}

// MustNewTable panics if spec is invalid. Intended for package-level tables.
func MustNewTable(spec TableSpec) *Table {
	t, err := NewTable(spec)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultSpec is the retail pipeline routing.
func DefaultSpec() TableSpec {
	return TableSpec{
		Transitions: map[contractx.Stage]map[contractx.Category]contractx.Stage{
			contractx.StageVision: {
				contractx.CategoryGeneral:        contractx.StageDialog,
				contractx.CategoryError:          contractx.StageDialog,
				contractx.CategoryAvailable:      contractx.StageDialog,
				contractx.CategoryNotAvailable:   contractx.StageDialog,
				contractx.CategoryProductQuery:   contractx.StageDialog,
				contractx.CategoryPurchaseIntent: contractx.StageDialog,
			},
			contractx.StageDialog: {
				contractx.CategoryProductQuery:   contractx.StageInventory,
				contractx.CategoryPurchaseIntent: contractx.StageTransaction,
				contractx.CategoryGeneral:        contractx.StageTerminal,
			},
			contractx.StageInventory: {
				contractx.CategoryAvailable:    contractx.StageTransaction,
				contractx.CategoryNotAvailable: contractx.StageDialog,
				contractx.CategoryError:        contractx.StageDialog,
			},
			contractx.StageTransaction: {
				contractx.CategorySuccess: contractx.StageTerminal,
				contractx.CategoryError:   contractx.StageDialog,
			},
		},
		Fallbacks: map[contractx.Stage]contractx.Stage{
			contractx.StageVision:      contractx.StageDialog,
			contractx.StageDialog:      contractx.StageInventory,
			contractx.StageInventory:   contractx.StageDialog,
			contractx.StageTransaction: contractx.StageDialog,
		},
		DefaultFallback: contractx.StageDialog,
	}
}

func DefaultTable() *Table {
	return MustNewTable(DefaultSpec())
}

// Next looks up the transition for a classified outcome. ok is false when the
// stage has no mapping for category; err is set when stage is not a pipeline stage.
func (t *Table) Next(stage contractx.Stage, category contractx.Category) (contractx.Stage, bool, error) {
	row, known := t.transitions[stage]
	if !known {
		return contractx.StageTerminal, false, fmt.Errorf("%w: %s", contractx.ErrUnknownStage, stage)
	}
	to, ok := row[category]
	return to, ok, nil
}

// Fallback returns the stage to hand over to once stage exhausted its retries.
func (t *Table) Fallback(stage contractx.Stage) (contractx.Stage, error) {
	if !isExecutable(stage) {
		return contractx.StageTerminal, fmt.Errorf("%w: %s", contractx.ErrUnknownStage, stage)
	}
	if to, ok := t.fallbacks[stage]; ok {
		return to, nil
	}
	return t.defaultFallback, nil
}

func (t *Table) DefaultFallback() contractx.Stage {
	return t.defaultFallback
}

func isExecutable(s contractx.Stage) bool {
	return s.Valid() && !s.IsTerminal()
}
