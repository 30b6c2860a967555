// Package transaction creates orders and records their payment.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

const (
	ActionCreateOrder       = "create_order"
	ActionUpdateOrderStatus = "update_order_status"
	ActionProcessPayment    = "process_payment"
	ActionGetOrderStatus    = "get_order_status"

	interactionPurchase = "purchase"
)

// Catalog is the part of the catalog store the transaction stage needs.
type Catalog interface {
	EnsureCustomer(ctx context.Context, whatsappID string) (*catalog.Customer, error)
	CreateOrder(ctx context.Context, customerID int64, lines []catalog.OrderLine) (*catalog.Order, error)
	Order(ctx context.Context, id int64) (*catalog.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*catalog.Order, error)
	MarkPaid(ctx context.Context, id int64, method string) (*catalog.Order, error)
	RecordInteraction(ctx context.Context, in *catalog.Interaction) error
}

type Agent struct {
	catalog  Catalog
	logger   zerolog.Logger
	handlers map[string]handler
}

type handler func(ctx context.Context, env contractx.Envelope) (map[string]any, error)

var _ contractx.Agent = (*Agent)(nil)

type Option func(*Agent)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func New(c Catalog, opts ...Option) *Agent {
	a := &Agent{catalog: c, logger: log.Logger}
	for _, opt := range opts {
		opt(a)
	}
	a.handlers = map[string]handler{
		ActionCreateOrder:       a.createOrder,
		ActionUpdateOrderStatus: a.updateOrderStatus,
		ActionProcessPayment:    a.processPayment,
		ActionGetOrderStatus:    a.getOrderStatus,
	}
	return a
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.catalog == nil {
		return fmt.Errorf("%w: transaction catalog is nil", contractx.ErrSetup)
	}
	return nil
}

func (a *Agent) Process(ctx context.Context, env contractx.Envelope) (contractx.Envelope, error) {
	meta := map[string]any{}
	if id := env.CustomerID(); id != "" {
		meta[contractx.MetaCustomerID] = id
	}

	action := env.PayloadString("action")
	h, ok := a.handlers[action]
	if !ok {
		return contractx.ErrorEnvelope(fmt.Sprintf("unknown action: %q", action), meta), nil
	}

	payload, err := h(ctx, env)
	if err != nil {
		var invalid invalidRequest
		if errors.As(err, &invalid) || catalog.IsDomainError(err) {
			return contractx.ErrorEnvelope(err.Error(), meta), nil
		}
		return contractx.Envelope{}, fmt.Errorf("transaction %s: %w", action, err)
	}
	return contractx.NewEnvelope(contractx.KindTransactionResponse, payload, meta), nil
}

// createOrder opens a pending order for the customer behind the WhatsApp id
// in the payload or, failing that, in the metadata.
func (a *Agent) createOrder(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	whatsappID := env.PayloadString("customer_id")
	if whatsappID == "" {
		whatsappID = env.CustomerID()
	}
	lines, err := orderLines(env.Payload["items"])
	if whatsappID == "" || err != nil {
		return nil, invalidRequest("customer id and items required")
	}

	customer, err := a.catalog.EnsureCustomer(ctx, whatsappID)
	if err != nil {
		return nil, err
	}
	order, err := a.catalog.CreateOrder(ctx, customer.ID, lines)
	if err != nil {
		return nil, err
	}

	// The interaction log is a side record; a failed write does not undo the order.
	if err := a.catalog.RecordInteraction(ctx, &catalog.Interaction{
		CustomerID:      customer.ID,
		InteractionType: interactionPurchase,
		Content:         fmt.Sprintf("order %d created", order.ID),
		Metadata:        map[string]any{"order_id": order.ID, "total_amount": order.TotalAmount},
	}); err != nil {
		a.logger.Warn().Err(err).Int64("order_id", order.ID).Msg("failed to record purchase interaction")
	}

	return map[string]any{
		contractx.MarkerTransactionStatus: contractx.TransactionCompleted,
		"message":                         fmt.Sprintf("Order #%d created. Total: %.2f.", order.ID, order.TotalAmount),
		"order_id":                        order.ID,
		"total_amount":                    order.TotalAmount,
		"status":                          order.Status,
	}, nil
}

func (a *Agent) updateOrderStatus(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, idOK := env.PayloadInt("order_id")
	status := env.PayloadString("status")
	if !idOK || id <= 0 || status == "" {
		return nil, invalidRequest("order id and status required")
	}

	order, err := a.catalog.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		contractx.MarkerTransactionStatus: contractx.TransactionCompleted,
		"message":                         fmt.Sprintf("Order #%d is now %s.", order.ID, order.Status),
		"order_id":                        order.ID,
		"status":                          order.Status,
	}, nil
}

// processPayment simulates a successful charge and confirms the order.
func (a *Agent) processPayment(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, idOK := env.PayloadInt("order_id")
	method := env.PayloadString("payment_method")
	if !idOK || id <= 0 || method == "" {
		return nil, invalidRequest("order id and payment method required")
	}

	order, err := a.catalog.MarkPaid(ctx, id, method)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		contractx.MarkerTransactionStatus: contractx.TransactionCompleted,
		"message":                         fmt.Sprintf("Payment received for order #%d.", order.ID),
		"order_id":                        order.ID,
		"status":                          order.Status,
		"payment_status":                  order.PaymentStatus,
	}, nil
}

func (a *Agent) getOrderStatus(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, ok := env.PayloadInt("order_id")
	if !ok || id <= 0 {
		return nil, invalidRequest("order id required")
	}

	order, err := a.catalog.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":        fmt.Sprintf("Order #%d is %s (payment %s).", order.ID, order.Status, order.PaymentStatus),
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"total_amount":   order.TotalAmount,
		"created_at":     order.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

type invalidRequest string

func (e invalidRequest) Error() string { return string(e) }

// orderLines reads the items list: objects with product_id, quantity and an
// optional price.
func orderLines(raw any) ([]catalog.OrderLine, error) {
	var items []map[string]any
	switch t := raw.(type) {
	case []any:
		for _, v := range t {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, errors.New("item is not an object")
			}
			items = append(items, m)
		}
	case []map[string]any:
		items = t
	default:
		return nil, errors.New("items missing")
	}
	if len(items) == 0 {
		return nil, errors.New("items empty")
	}

	lines := make([]catalog.OrderLine, 0, len(items))
	for _, m := range items {
		id, ok := contractx.AsInt64(m["product_id"])
		if !ok || id <= 0 {
			return nil, errors.New("item product_id invalid")
		}
		qty, ok := contractx.AsInt64(m["quantity"])
		if !ok {
			qty = 1
		}
		price, _ := contractx.AsFloat64(m["price"])
		lines = append(lines, catalog.OrderLine{ProductID: id, Quantity: int(qty), Price: price})
	}
	return lines, nil
}
