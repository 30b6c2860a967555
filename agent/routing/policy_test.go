package routing

import (
	"encoding/json"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

func TestClassifyMarkerOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		kind    string
		payload map[string]any
		want    contractx.Category
	}{
		{"error kind wins", contractx.KindError, map[string]any{"purchase_intent": true}, contractx.CategoryError},
		{"purchase before query", contractx.KindDialogResponse, map[string]any{"purchase_intent": true, "product_query": true}, contractx.CategoryPurchaseIntent},
		{"query before availability", contractx.KindDialogResponse, map[string]any{"product_query": true, "availability": true}, contractx.CategoryProductQuery},
		{"available", contractx.KindInventoryResponse, map[string]any{"availability": map[string]any{"in_stock": true}}, contractx.CategoryAvailable},
		{"available bool", contractx.KindInventoryResponse, map[string]any{"availability": true}, contractx.CategoryAvailable},
		{"not available", contractx.KindVisionAnalysis, map[string]any{"availability": false}, contractx.CategoryNotAvailable},
		{"availability before status", contractx.KindInventoryResponse, map[string]any{"availability": false, "transaction_status": "completed"}, contractx.CategoryNotAvailable},
		{"completed", contractx.KindTransactionResponse, map[string]any{"transaction_status": "completed"}, contractx.CategorySuccess},
		{"pending", contractx.KindTransactionResponse, map[string]any{"transaction_status": "pending"}, contractx.CategoryError},
		{"purchase marker present", contractx.KindDialogResponse, map[string]any{"purchase_intent": false}, contractx.CategoryPurchaseIntent},
		{"query marker present", contractx.KindDialogResponse, map[string]any{"product_query": nil}, contractx.CategoryProductQuery},
		{"null availability", contractx.KindInventoryResponse, map[string]any{"availability": nil}, contractx.CategoryNotAvailable},
		{"int64 zero availability", contractx.KindInventoryResponse, map[string]any{"availability": int64(0)}, contractx.CategoryNotAvailable},
		{"int32 zero availability", contractx.KindInventoryResponse, map[string]any{"availability": int32(0)}, contractx.CategoryNotAvailable},
		{"uint zero availability", contractx.KindInventoryResponse, map[string]any{"availability": uint(0)}, contractx.CategoryNotAvailable},
		{"json number zero availability", contractx.KindInventoryResponse, map[string]any{"availability": json.Number("0")}, contractx.CategoryNotAvailable},
		{"int64 stock available", contractx.KindInventoryResponse, map[string]any{"availability": int64(3)}, contractx.CategoryAvailable},
		{"empty object not available", contractx.KindInventoryResponse, map[string]any{"availability": map[string]any{}}, contractx.CategoryNotAvailable},
		{"unknown type not available", contractx.KindInventoryResponse, map[string]any{"availability": struct{}{}}, contractx.CategoryNotAvailable},
		{"null status is an error", contractx.KindTransactionResponse, map[string]any{"transaction_status": nil}, contractx.CategoryError},
		{"general", contractx.KindDialogResponse, map[string]any{"response": "hello"}, contractx.CategoryGeneral},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(contractx.NewEnvelope(tc.kind, tc.payload, nil))
			if got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPolicyDecideDefaultTable(t *testing.T) {
	t.Parallel()

	p := NewPolicy(DefaultTable())
	cases := []struct {
		stage   contractx.Stage
		payload map[string]any
		kind    string
		want    contractx.Stage
	}{
		{contractx.StageDialog, map[string]any{"response": "hi"}, contractx.KindDialogResponse, contractx.StageTerminal},
		{contractx.StageDialog, map[string]any{"product_query": map[string]any{"product_id": 1}}, contractx.KindDialogResponse, contractx.StageInventory},
		{contractx.StageDialog, map[string]any{"purchase_intent": map[string]any{"items": []any{1}}}, contractx.KindDialogResponse, contractx.StageTransaction},
		{contractx.StageVision, map[string]any{"availability": false}, contractx.KindVisionAnalysis, contractx.StageDialog},
		{contractx.StageVision, map[string]any{"features": map[string]any{}}, contractx.KindVisionAnalysis, contractx.StageDialog},
		{contractx.StageInventory, map[string]any{"availability": true}, contractx.KindInventoryResponse, contractx.StageTransaction},
		{contractx.StageInventory, map[string]any{"error": "product not found"}, contractx.KindError, contractx.StageDialog},
		{contractx.StageTransaction, map[string]any{"transaction_status": "completed"}, contractx.KindTransactionResponse, contractx.StageTerminal},
		{contractx.StageTransaction, map[string]any{"error": "insufficient stock"}, contractx.KindError, contractx.StageDialog},
		{contractx.StageTransaction, map[string]any{"response": "ok"}, contractx.KindTransactionResponse, contractx.StageTerminal},
	}

	for _, tc := range cases {
		got, _, err := p.Decide(tc.stage, Success(contractx.NewEnvelope(tc.kind, tc.payload, nil)))
		if err != nil {
			t.Fatalf("Decide(%s) error = %v", tc.stage, err)
		}
		if got != tc.want {
			t.Fatalf("Decide(%s, %v) = %s, want %s", tc.stage, tc.payload, got, tc.want)
		}
	}
}

func TestPolicyDecideRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	p := NewPolicy(nil)
	_, _, err := p.Decide(contractx.Stage(42), Success(contractx.NewEnvelope(contractx.KindText, nil, nil)))
	if !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("Decide() error = %v, want ErrUnknownStage", err)
	}
}

func TestPolicyDecideRejectsFailure(t *testing.T) {
	t.Parallel()

	p := NewPolicy(nil)
	_, _, err := p.Decide(contractx.StageDialog, Failure(errors.New("boom")))
	if !errors.Is(err, ErrFailureOutcome) {
		t.Fatalf("Decide() error = %v, want ErrFailureOutcome", err)
	}
}

func TestNewTableValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]TableSpec{
		"unknown source": {
			Transitions: map[contractx.Stage]map[contractx.Category]contractx.Stage{
				contractx.Stage(9): {contractx.CategoryGeneral: contractx.StageDialog},
			},
		},
		"unknown target": {
			Transitions: map[contractx.Stage]map[contractx.Category]contractx.Stage{
				contractx.StageDialog: {contractx.CategoryGeneral: contractx.Stage(9)},
			},
		},
		"terminal fallback": {
			Fallbacks: map[contractx.Stage]contractx.Stage{contractx.StageDialog: contractx.StageTerminal},
		},
		"terminal source": {
			Transitions: map[contractx.Stage]map[contractx.Category]contractx.Stage{
				contractx.StageTerminal: {contractx.CategoryGeneral: contractx.StageDialog},
			},
		},
		"unknown default": {DefaultFallback: contractx.Stage(12)},
	}
	for name, spec := range cases {
		if _, err := NewTable(spec); !errors.Is(err, contractx.ErrUnknownStage) {
			t.Fatalf("%s: NewTable() error = %v, want ErrUnknownStage", name, err)
		}
	}

	_, err := NewTable(TableSpec{
		Transitions: map[contractx.Stage]map[contractx.Category]contractx.Stage{
			contractx.StageDialog: {"shrug": contractx.StageDialog},
		},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("unknown category error = %v, want ErrValidation", err)
	}
}

func TestTableFallbackDefaultsToDialog(t *testing.T) {
	t.Parallel()

	table, err := NewTable(TableSpec{})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	for _, stage := range contractx.Stages() {
		got, err := table.Fallback(stage)
		if err != nil {
			t.Fatalf("Fallback(%s) error = %v", stage, err)
		}
		if got != contractx.StageDialog {
			t.Fatalf("Fallback(%s) = %s, want dialog", stage, got)
		}
	}
}

func TestTableSpecIsCopied(t *testing.T) {
	t.Parallel()

	spec := DefaultSpec()
	table := MustNewTable(spec)
	spec.Transitions[contractx.StageDialog][contractx.CategoryGeneral] = contractx.StageVision
	spec.Fallbacks[contractx.StageDialog] = contractx.StageVision

	next, _, _ := table.Next(contractx.StageDialog, contractx.CategoryGeneral)
	if next != contractx.StageTerminal {
		t.Fatalf("table changed after construction: %s", next)
	}
	fb, _ := table.Fallback(contractx.StageDialog)
	if fb != contractx.StageInventory {
		t.Fatalf("fallback changed after construction: %s", fb)
	}
}
