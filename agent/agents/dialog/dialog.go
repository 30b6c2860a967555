// Package dialog is the conversational stage. It answers the customer and
// detects whether they want to buy or ask about a product.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

const (
	intentPurchase     = "purchase"
	intentProductQuery = "product_query"

	actionCreateOrder       = "create_order"
	actionCheckAvailability = "check_availability"
)

type llmOutput struct {
	Response  string `json:"response"`
	Intent    string `json:"intent"`
	ProductID int64  `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

type Agent struct {
	chatModel    einomodel.BaseChatModel
	systemPrompt string
	history      contractx.HistoryStore
	logger       zerolog.Logger

	mu     sync.RWMutex
	runner compose.Runnable[map[string]any, llmOutput]
}

var _ contractx.Agent = (*Agent)(nil)

type Option func(*Agent)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// New creates the dialog agent. history may be nil, in which case every
// message is answered without context.
func New(chatModel einomodel.BaseChatModel, systemPrompt string, history contractx.HistoryStore, opts ...Option) *Agent {
	a := &Agent{
		chatModel:    chatModel,
		systemPrompt: strings.TrimSpace(systemPrompt),
		history:      history,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.chatModel == nil {
		return fmt.Errorf("%w: dialog chat model is nil", contractx.ErrSetup)
	}
	if a.systemPrompt == "" {
		return fmt.Errorf("%w: dialog", contractx.ErrPromptMissing)
	}

	runner, err := compileStructuredLLMGraph[llmOutput](ctx, a.chatModel, a.systemPrompt, "dialog.structured_graph")
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	a.mu.Lock()
	a.runner = runner
	a.mu.Unlock()
	return nil
}

func (a *Agent) Process(ctx context.Context, env contractx.Envelope) (contractx.Envelope, error) {
	a.mu.RLock()
	runner := a.runner
	a.mu.RUnlock()
	if runner == nil {
		return contractx.Envelope{}, fmt.Errorf("%w: dialog agent is not initialized", contractx.ErrSetup)
	}

	customerID := env.CustomerID()
	if customerID == "" {
		return contractx.ErrorEnvelope("customer id required", nil), nil
	}
	meta := map[string]any{contractx.MetaCustomerID: customerID}

	// A customer message (text or an analysed photo) may start a purchase.
	// Results routed back from inventory or transaction are only explained,
	// so the conversation cannot bounce between stages.
	fromCustomer := env.Kind == contractx.KindText || env.Kind == contractx.KindVisionAnalysis
	text := env.PayloadString("text")

	input := map[string]any{"message": text}
	switch {
	case env.Kind == contractx.KindVisionAnalysis:
		input["image_description"] = env.PayloadString("description")
		input["image_features"] = env.Payload["features"]
	case !fromCustomer:
		input["stage_result"] = map[string]any{"kind": env.Kind, "content": env.Payload}
	}
	if text == "" && env.PayloadString("description") == "" && (fromCustomer || len(env.Payload) == 0) {
		return contractx.ErrorEnvelope("no text provided", meta), nil
	}

	var turns []contractx.Turn
	if a.history != nil {
		recent, err := a.history.Recent(ctx, customerID)
		if err != nil {
			return contractx.Envelope{}, fmt.Errorf("load history: %w", err)
		}
		turns = recent
	}
	input["history"] = turns

	raw, err := json.Marshal(input)
	if err != nil {
		return contractx.Envelope{}, fmt.Errorf("%w: marshal dialog input: %v", contractx.ErrValidation, err)
	}

	out, err := runner.Invoke(ctx, map[string]any{"input": string(raw)})
	if err != nil {
		return contractx.Envelope{}, fmt.Errorf("%w: dialog invoke: %v", contractx.ErrModelInvoke, err)
	}

	response := strings.TrimSpace(out.Response)
	if response == "" {
		return contractx.Envelope{}, fmt.Errorf("%w: dialog response is empty", contractx.ErrSchemaViolation)
	}

	a.remember(ctx, customerID, env, text, response, fromCustomer)

	payload := map[string]any{"response": response}
	if fromCustomer {
		for k, v := range intentPayload(out) {
			payload[k] = v
		}
	}
	return contractx.NewEnvelope(contractx.KindDialogResponse, payload, meta), nil
}

// remember appends the exchange to the customer's history. A failed write is
// logged; the reply has already been produced.
func (a *Agent) remember(ctx context.Context, customerID string, env contractx.Envelope, text, response string, fromCustomer bool) {
	if a.history == nil {
		return
	}

	turns := make([]contractx.Turn, 0, 2)
	if fromCustomer {
		content := text
		if content == "" {
			content = "[photo] " + env.PayloadString("description")
		}
		turns = append(turns, contractx.Turn{Role: contractx.RoleUser, Content: content})
	}
	turns = append(turns, contractx.Turn{Role: contractx.RoleAssistant, Content: response})

	if err := a.history.Append(ctx, customerID, turns...); err != nil {
		a.logger.Warn().Err(err).Str("customer_id", customerID).Msg("failed to append dialog history")
	}
}

// intentPayload turns the detected intent into the routing marker and the
// request the next stage acts on. Without a product there is nothing to act
// on, so the turn stays general.
func intentPayload(out llmOutput) map[string]any {
	if out.ProductID <= 0 {
		return nil
	}
	qty := out.Quantity
	if qty <= 0 {
		qty = 1
	}

	switch strings.ToLower(strings.TrimSpace(out.Intent)) {
	case intentPurchase:
		return map[string]any{
			contractx.MarkerPurchaseIntent: true,
			"action":                       actionCreateOrder,
			"items": []any{
				map[string]any{"product_id": out.ProductID, "quantity": qty},
			},
		}
	case intentProductQuery:
		return map[string]any{
			contractx.MarkerProductQuery: true,
			"action":                     actionCheckAvailability,
			"product_id":                 out.ProductID,
			"quantity":                   qty,
		}
	default:
		return nil
	}
}
