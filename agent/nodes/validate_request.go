package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

var (
	ErrInvalidMessage  = errors.New("message is empty")
	ErrInvalidCustomer = errors.New("customer id is empty")
)

type GraphInput struct {
	CustomerID string
	Envelope   contractx.Envelope
	// Entry defaults to vision for image envelopes and dialog otherwise.
	Entry contractx.Stage
}

type GraphOutput struct {
	RunID        string
	Reply        string
	Envelope     contractx.Envelope
	Conversation *statex.Conversation
	// Failure is set when the run ended unrecoverably. Envelope then holds
	// the error envelope and Reply its message.
	Failure error
}

type GraphState struct {
	RunID      string
	CustomerID string
	Entry      contractx.Stage
	Input      contractx.Envelope
	Now        time.Time

	Result       contractx.Envelope
	Conversation *statex.Conversation
	Failure      error
}

func ValidateRequest(in GraphInput, nowFn func() time.Time, newRunID func() string) (*GraphState, error) {
	env := in.Envelope
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.PayloadString("text") == "" && env.PayloadString("image_url") == "" {
		return nil, ErrInvalidMessage
	}

	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		customerID = env.CustomerID()
	}
	if customerID == "" {
		return nil, ErrInvalidCustomer
	}

	entry := in.Entry
	if entry == contractx.StageTerminal {
		entry = contractx.StageDialog
		if env.Kind == contractx.KindImage {
			entry = contractx.StageVision
		}
	}
	if !entry.Valid() {
		return nil, fmt.Errorf("%w: entry %s", contractx.ErrUnknownStage, entry)
	}

	runID := env.MetadataString(contractx.MetaRunID)
	if runID == "" {
		runID = newRunID()
	}
	now := nowFn().UTC()

	return &GraphState{
		RunID:      runID,
		CustomerID: customerID,
		Entry:      entry,
		Input: env.WithMetadata(map[string]any{
			contractx.MetaCustomerID: customerID,
			contractx.MetaRunID:      runID,
			contractx.MetaTimestamp:  now.Format(time.RFC3339Nano),
		}),
		Now: now,
	}, nil
}
