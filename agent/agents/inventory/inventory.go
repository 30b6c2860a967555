// Package inventory answers stock questions and moves stock for the pipeline.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

const (
	ActionCheckAvailability  = "check_availability"
	ActionReserveProduct     = "reserve_product"
	ActionUpdateStock        = "update_stock"
	ActionGetSimilarProducts = "get_similar_products"

	defaultSimilarLimit = 5
	// substitutes offered alongside an unavailable product
	fallbackSimilarLimit = 3
)

// Catalog is the part of the catalog store the inventory stage needs.
type Catalog interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
	ReserveStock(ctx context.Context, id int64, qty int) (*catalog.Product, error)
	SetStock(ctx context.Context, id int64, qty int) (*catalog.Product, error)
	SimilarProducts(ctx context.Context, id int64, limit int) ([]catalog.Product, error)
}

type Agent struct {
	catalog  Catalog
	handlers map[string]handler
}

type handler func(ctx context.Context, env contractx.Envelope) (map[string]any, error)

var _ contractx.Agent = (*Agent)(nil)

func New(c Catalog) *Agent {
	a := &Agent{catalog: c}
	a.handlers = map[string]handler{
		ActionCheckAvailability:  a.checkAvailability,
		ActionReserveProduct:     a.reserveProduct,
		ActionUpdateStock:        a.updateStock,
		ActionGetSimilarProducts: a.similarProducts,
	}
	return a
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.catalog == nil {
		return fmt.Errorf("%w: inventory catalog is nil", contractx.ErrSetup)
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
		return contractx.Envelope{}, fmt.Errorf("inventory %s: %w", action, err)
	}
	payload["action_performed"] = action
	return contractx.NewEnvelope(contractx.KindInventoryResponse, payload, meta), nil
}

// checkAvailability reports whether the requested quantity is in stock. When
// it is, the payload carries a create_order request for the next stage;
// otherwise a few in-stock substitutes are offered.
func (a *Agent) checkAvailability(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, err := requiredID(env, "product_id")
	if err != nil {
		return nil, err
	}
	qty, err := optionalQuantity(env, 1)
	if err != nil {
		return nil, err
	}

	p, err := a.catalog.Product(ctx, id)
	if err != nil {
		return nil, err
	}

	available := p.StockQuantity >= qty
	out := map[string]any{
		"message":                    availabilityMessage(p, available),
		contractx.MarkerAvailability: available,
		"product_id":                 p.ID,
		"name":                       p.Name,
		"price":                      p.Price,
		"quantity":                   p.StockQuantity,
	}
	if available {
		out["action"] = "create_order"
		out["items"] = []any{
			map[string]any{"product_id": p.ID, "quantity": qty, "price": p.Price},
		}
		return out, nil
	}

	similar, err := a.catalog.SimilarProducts(ctx, id, fallbackSimilarLimit)
	if err != nil {
		return nil, err
	}
	out["similar_products"] = productSummaries(similar)
	return out, nil
}

func (a *Agent) reserveProduct(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, err := requiredID(env, "product_id")
	if err != nil {
		return nil, err
	}
	qty, err := optionalQuantity(env, 1)
	if err != nil {
		return nil, err
	}

	p, err := a.catalog.ReserveStock(ctx, id, qty)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":           fmt.Sprintf("Reserved %d x %s.", qty, p.Name),
		"product_id":        p.ID,
		"reserved_quantity": qty,
		"remaining_stock":   p.StockQuantity,
	}, nil
}

func (a *Agent) updateStock(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, err := requiredID(env, "product_id")
	if err != nil {
		return nil, err
	}
	qty, ok := env.PayloadInt("quantity")
	if !ok {
		return nil, invalidRequest("product id and quantity required")
	}

	p, err := a.catalog.SetStock(ctx, id, int(qty))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":      fmt.Sprintf("Stock of %s set to %d.", p.Name, p.StockQuantity),
		"product_id":   p.ID,
		"new_quantity": p.StockQuantity,
	}, nil
}

func (a *Agent) similarProducts(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, err := requiredID(env, "product_id")
	if err != nil {
		return nil, err
	}
	limit := defaultSimilarLimit
	if n, ok := env.PayloadInt("limit"); ok && n > 0 {
		limit = int(n)
	}

	similar, err := a.catalog.SimilarProducts(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":          fmt.Sprintf("Found %d similar products in stock.", len(similar)),
		"product_id":       id,
		"similar_products": productSummaries(similar),
	}, nil
}

func availabilityMessage(p *catalog.Product, available bool) string {
	if available {
		return fmt.Sprintf("%s is in stock (%d left).", p.Name, p.StockQuantity)
	}
	return fmt.Sprintf("Sorry, %s is not available in that quantity.", p.Name)
}

func productSummaries(products []catalog.Product) []any {
	out := make([]any, 0, len(products))
	for _, p := range products {
		out = append(out, map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"price":          p.Price,
			"stock_quantity": p.StockQuantity,
		})
	}
	return out
}
