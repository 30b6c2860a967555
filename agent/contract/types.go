package contract

import (
	"fmt"
	"strings"
)

// Stage is a position in the agent pipeline. The set is closed.
type Stage uint8

const (
	StageTerminal Stage = iota
	StageVision
	StageDialog
	StageInventory
	StageTransaction
)

var stageNames = map[Stage]string{
	StageTerminal:    "terminal",
	StageVision:      "vision",
	StageDialog:      "dialog",
	StageInventory:   "inventory",
	StageTransaction: "transaction",
}

// Stages lists every executable stage (terminal excluded) in a stable order.
func Stages() []Stage {
	return []Stage{StageVision, StageDialog, StageInventory, StageTransaction}
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Valid reports whether s is one of the declared stages, terminal included.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

func (s Stage) IsTerminal() bool {
	return s == StageTerminal
}

func ParseStage(name string) (Stage, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for stage, n := range stageNames {
		if n == want {
			return stage, nil
		}
	}
	return StageTerminal, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category classifies a successful envelope for routing.
type Category string

const (
	CategoryPurchaseIntent Category = "purchase_intent"
	CategoryProductQuery   Category = "product_query"
	CategoryAvailable      Category = "available"
	CategoryNotAvailable   Category = "not_available"
	CategorySuccess        Category = "success"
	CategoryError          Category = "error"
	CategoryGeneral        Category = "general"
)

// Envelope kinds exchanged between the orchestrator and the agents.
const (
	KindText                = "text"
	KindImage               = "image"
	KindError               = "error"
	KindDialogResponse      = "dialog_response"
	KindVisionAnalysis      = "vision_analysis"
	KindInventoryResponse   = "inventory_response"
	KindTransactionResponse = "transaction_response"

	// Produced by the advisory services, which are not pipeline stages.
	KindTrendAnalysis        = "trend_analysis"
	KindStyleRecommendations = "style_recommendations"
)

// Payload markers inspected by the routing policy.
const (
	MarkerPurchaseIntent    = "purchase_intent"
	MarkerProductQuery      = "product_query"
	MarkerAvailability      = "availability"
	MarkerTransactionStatus = "transaction_status"

	TransactionCompleted = "completed"
)

// Metadata keys stamped on envelopes.
const (
	MetaCustomerID = "customer_id"
	MetaAgent      = "agent"
	MetaTimestamp  = "timestamp"
	MetaRetryCount = "retry_count"
	MetaRunID      = "run_id"
	MetaEntryStage = "entry_stage"
)
