// Package style gives personal scarf advice from a customer's purchases and
// stated preferences, and links look-alike products as substitutes.
package style

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// ServiceName names the broker channels the agent is served on.
const ServiceName = "style"

const (
	ActionRecommend   = "recommend"
	ActionLinkSimilar = "link_similar"

	defaultRecommendations = 5
	candidatePool          = 200
	// minimum look-alike score for a product to count as a substitute
	similarThreshold = 0.6
	maxLinked        = 5
)

type Catalog interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
	CustomerByWhatsApp(ctx context.Context, whatsappID string) (*catalog.Customer, error)
	SoldItems(ctx context.Context, f catalog.SalesFilter) ([]catalog.SoldItem, error)
	InStockProducts(ctx context.Context, limit int) ([]catalog.Product, error)
	LinkSimilar(ctx context.Context, id int64, others ...int64) error
}

type Agent struct {
	catalog  Catalog
	handlers map[string]handler
	now      func() time.Time
}

type handler func(ctx context.Context, env contractx.Envelope) (map[string]any, error)

var _ contractx.Agent = (*Agent)(nil)

type Option func(*Agent)

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func New(c Catalog, opts ...Option) *Agent {
	a := &Agent{catalog: c, now: time.Now}
	a.handlers = map[string]handler{
		ActionRecommend:   a.recommend,
		ActionLinkSimilar: a.linkSimilar,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.catalog == nil {
		return fmt.Errorf("%w: style catalog is nil", contractx.ErrSetup)
	}
	return nil
}

func (a *Agent) Process(ctx context.Context, env contractx.Envelope) (contractx.Envelope, error) {
	meta := map[string]any{}
	if id := env.CustomerID(); id != "" {
		meta[contractx.MetaCustomerID] = id
	}

	action := env.PayloadString("action")
	if action == "" {
		action = ActionRecommend
	}
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
		return contractx.Envelope{}, fmt.Errorf("style %s: %w", action, err)
	}
	payload["action_performed"] = action
	return contractx.NewEnvelope(contractx.KindStyleRecommendations, payload, meta), nil
}

type invalidRequest string

func (e invalidRequest) Error() string { return string(e) }

// recommend ranks in-stock products the customer has not bought yet against
// their style profile and the season.
func (a *Agent) recommend(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	whatsappID := env.PayloadString("customer_id")
	if whatsappID == "" {
		whatsappID = env.CustomerID()
	}
	if whatsappID == "" {
		return nil, invalidRequest("customer id required")
	}

	customer, err := a.catalog.CustomerByWhatsApp(ctx, whatsappID)
	if err != nil {
		return nil, err
	}
	purchases, err := a.catalog.SoldItems(ctx, catalog.SalesFilter{CustomerID: customer.ID})
	if err != nil {
		return nil, err
	}
	prof := buildProfile(customer.Preferences, purchases)

	budget, _ := env.PayloadFloat("budget")
	if budget <= 0 {
		budget, _ = contractx.AsFloat64(customer.Preferences["max_price"])
	}
	occasion := strings.ToLower(env.PayloadString("occasion"))
	if _, ok := occasions[occasion]; !ok {
		occasion = "casual"
	}
	season := strings.ToLower(env.PayloadString("season"))
	if _, ok := seasonMaterials[season]; !ok {
		season = seasonOf(a.now())
	}
	limit := defaultRecommendations
	if n, ok := env.PayloadInt("limit"); ok && n > 0 {
		limit = int(n)
	}

	candidates, err := a.catalog.InStockProducts(ctx, candidatePool)
	if err != nil {
		return nil, err
	}
	owned := map[int64]bool{}
	for _, it := range purchases {
		owned[it.ProductID] = true
	}
	ranked := rank(candidates, prof, season, budget, owned, limit)

	picks := make([]any, 0, len(ranked))
	for _, r := range ranked {
		picks = append(picks, r.payload())
	}
	outfit := occasions[occasion]
	out := map[string]any{
		"customer_id":    whatsappID,
		"personal_style": prof.payload(),
		"occasion":       occasion,
		"season":         season,
		"suggested_combination": map[string]any{
			"base_outfit":      outfit.base,
			"scarf_suggestion": outfit.scarf,
			"styling_tips":     append([]string(nil), outfit.tips...),
		},
		"seasonal_materials": append([]string(nil), seasonMaterials[season]...),
		"recommendations":    picks,
	}
	if budget > 0 {
		out["budget"] = budget
	}
	out["message"] = recommendationMessage(ranked, occasion, season)
	return out, nil
}

// linkSimilar records in-stock look-alikes of a product as its substitutes,
// which the inventory stage offers when the product runs out.
func (a *Agent) linkSimilar(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	id, ok := env.PayloadInt("product_id")
	if !ok || id <= 0 {
		return nil, invalidRequest("product_id required")
	}
	base, err := a.catalog.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	candidates, err := a.catalog.InStockProducts(ctx, candidatePool)
	if err != nil {
		return nil, err
	}

	linked := lookAlikes(base, candidates, maxLinked)
	if err := a.catalog.LinkSimilar(ctx, base.ID, linked...); err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(linked))
	for _, l := range linked {
		ids = append(ids, l)
	}
	return map[string]any{
		"product_id":      base.ID,
		"linked_products": ids,
		"message":         fmt.Sprintf("Linked %d look-alikes to %s.", len(linked), base.Name),
	}, nil
}

func recommendationMessage(ranked []scored, occasion, season string) string {
	if len(ranked) == 0 {
		return "Nothing in stock matches your style right now."
	}
	return fmt.Sprintf("For a %s look this %s, try %s.", occasion, season, ranked[0].product.Name)
}
