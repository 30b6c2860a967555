// Package trend reports what sells: top products, rising colours and
// patterns, price movement and a short-term projection. It reads order lines
// from the catalog and answers on its own broker channel, outside the routed
// pipeline.
package trend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// ServiceName names the broker channels the agent is served on.
const ServiceName = "trend"

const (
	ActionGetTrends     = "get_trends"
	ActionAnalyzeTrend  = "analyze_trend"
	ActionPredictTrends = "predict_trends"

	TrendColor    = "color"
	TrendPattern  = "pattern"
	TrendMaterial = "material"

	defaultWindowDays = 30
	maxWindowDays     = 365
	topLimit          = 5
	historyWeeks      = 8
	defaultCacheTTL   = time.Hour
)

var timeframes = map[string]int{
	"next_week":  1,
	"next_month": 4,
}

type Catalog interface {
	SoldItems(ctx context.Context, f catalog.SalesFilter) ([]catalog.SoldItem, error)
	InteractionCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

type Agent struct {
	catalog  Catalog
	handlers map[string]handler

	cache       redis.UniversalClient
	cacheTTL    time.Duration
	cachePrefix string

	now    func() time.Time
	logger zerolog.Logger
}

type handler func(ctx context.Context, env contractx.Envelope) (map[string]any, error)

var _ contractx.Agent = (*Agent)(nil)

type Option func(*Agent)

// WithCache keeps get_trends reports in Redis for ttl.
func WithCache(client redis.UniversalClient, prefix string, ttl time.Duration) Option {
	return func(a *Agent) {
		a.cache = client
		if p := strings.TrimSpace(prefix); p != "" {
			a.cachePrefix = p
		}
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func New(c Catalog, opts ...Option) *Agent {
	a := &Agent{
		catalog:     c,
		cacheTTL:    defaultCacheTTL,
		cachePrefix: "retail:",
		now:         time.Now,
		logger:      log.Logger,
	}
	a.handlers = map[string]handler{
		ActionGetTrends:     a.currentTrends,
		ActionAnalyzeTrend:  a.analyzeTrend,
		ActionPredictTrends: a.predictTrends,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.catalog == nil {
		return fmt.Errorf("%w: trend catalog is nil", contractx.ErrSetup)
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
		action = ActionGetTrends
	}
	h, ok := a.handlers[action]
	if !ok {
		return contractx.ErrorEnvelope(fmt.Sprintf("unknown action: %q", action), meta), nil
	}

	payload, err := h(ctx, env)
	if err != nil {
		var invalid invalidRequest
		if errors.As(err, &invalid) {
			return contractx.ErrorEnvelope(err.Error(), meta), nil
		}
		return contractx.Envelope{}, fmt.Errorf("trend %s: %w", action, err)
	}
	payload["action_performed"] = action
	return contractx.NewEnvelope(contractx.KindTrendAnalysis, payload, meta), nil
}

type invalidRequest string

func (e invalidRequest) Error() string { return string(e) }

func windowDays(env contractx.Envelope) (int, error) {
	if _, present := env.Payload["window_days"]; !present {
		return defaultWindowDays, nil
	}
	n, ok := env.PayloadInt("window_days")
	if !ok || n <= 0 || n > maxWindowDays {
		return 0, invalidRequest(fmt.Sprintf("window_days must be between 1 and %d", maxWindowDays))
	}
	return int(n), nil
}

// currentTrends compares the last window with the one before it.
func (a *Agent) currentTrends(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	days, err := windowDays(env)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%strends:%d", a.cachePrefix, days)
	if cached, ok := a.cached(ctx, key); ok {
		return cached, nil
	}

	now := a.now().UTC()
	window := time.Duration(days) * 24 * time.Hour
	items, err := a.catalog.SoldItems(ctx, catalog.SalesFilter{Since: now.Add(-2 * window)})
	if err != nil {
		return nil, err
	}
	interactions, err := a.catalog.InteractionCounts(ctx, now.Add(-window))
	if err != nil {
		return nil, err
	}

	current, previous := splitAt(items, now.Add(-window))
	out := map[string]any{
		"window_days":     days,
		"generated_at":    now.Format(time.RFC3339),
		"popular_items":   topProducts(current, previous, topLimit),
		"color_trends":    attributeTrends(current, previous, TrendColor),
		"pattern_trends":  attributeTrends(current, previous, TrendPattern),
		"material_trends": attributeTrends(current, previous, TrendMaterial),
		"price_trends":    priceTrend(current, previous),
		"interactions":    interactions,
	}
	out["message"] = summary(out)

	a.store(ctx, key, out)
	return out, nil
}

func (a *Agent) analyzeTrend(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	kind := strings.ToLower(env.PayloadString("trend_type"))
	value := strings.ToLower(env.PayloadString("trend_id"))
	if kind == "" || value == "" {
		return nil, invalidRequest("trend type and id required")
	}
	if !validAttribute(kind) {
		return nil, invalidRequest(fmt.Sprintf("unknown trend type: %s", kind))
	}
	days, err := windowDays(env)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	window := time.Duration(days) * 24 * time.Hour
	items, err := a.catalog.SoldItems(ctx, catalog.SalesFilter{Since: now.Add(-2 * window)})
	if err != nil {
		return nil, err
	}

	matching := func(in []catalog.SoldItem) []catalog.SoldItem {
		var out []catalog.SoldItem
		for _, it := range in {
			if attribute(it, kind) == value {
				out = append(out, it)
			}
		}
		return out
	}
	current, previous := splitAt(items, now.Add(-window))
	totalUnits := units(current)
	current, previous = matching(current), matching(previous)

	cur, prev := units(current), units(previous)
	growth, hasGrowth := growthPct(cur, prev)
	out := map[string]any{
		"trend_type":     kind,
		"trend_id":       value,
		"window_days":    days,
		"units":          cur,
		"previous_units": prev,
		"share":          share(cur, totalUnits),
		"direction":      direction(cur, prev),
		"top_products":   topProducts(current, previous, topLimit),
		"weekly_units":   weeklyUnits(current, now, (days+6)/7),
	}
	if hasGrowth {
		out["growth_pct"] = growth
	}
	out["message"] = fmt.Sprintf("%s %s sold %d units in the last %d days (%s).", value, kind, cur, days, out["direction"])
	return out, nil
}

// predictTrends fits a line through weekly unit sales of every colour and
// pattern and projects it over the timeframe.
func (a *Agent) predictTrends(ctx context.Context, env contractx.Envelope) (map[string]any, error) {
	timeframe := env.PayloadString("timeframe")
	if timeframe == "" {
		timeframe = "next_month"
	}
	horizon, ok := timeframes[timeframe]
	if !ok {
		return nil, invalidRequest(fmt.Sprintf("unknown timeframe: %s", timeframe))
	}

	now := a.now().UTC()
	items, err := a.catalog.SoldItems(ctx, catalog.SalesFilter{Since: now.AddDate(0, 0, -7*historyWeeks)})
	if err != nil {
		return nil, err
	}

	predictions := make([]prediction, 0)
	for _, kind := range []string{TrendPattern, TrendColor} {
		for value, series := range weeklySeries(items, kind, now, historyWeeks) {
			predictions = append(predictions, project(kind, value, series, horizon))
		}
	}
	sortPredictions(predictions)
	if len(predictions) > topLimit {
		predictions = predictions[:topLimit]
	}

	listed := make([]any, 0, len(predictions))
	total := 0.0
	for _, p := range predictions {
		listed = append(listed, p.payload())
		total += p.Confidence
	}
	overall := 0.0
	if len(predictions) > 0 {
		overall = round(total / float64(len(predictions)))
	}

	return map[string]any{
		"timeframe":   timeframe,
		"predictions": listed,
		"confidence_scores": map[string]any{
			"overall_confidence": overall,
			"weeks_observed":     historyWeeks,
			"weeks_with_sales":   weeksWithSales(items, now, historyWeeks),
		},
		"message": fmt.Sprintf("Projected %d trends for %s.", len(listed), strings.ReplaceAll(timeframe, "_", " ")),
	}, nil
}

func (a *Agent) cached(ctx context.Context, key string) (map[string]any, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, err := a.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn().Err(err).Str("key", key).Msg("trend cache read failed")
		}
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable trend cache entry")
		return nil, false
	}
	return out, true
}

func (a *Agent) store(ctx context.Context, key string, report map[string]any) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		a.logger.Warn().Err(err).Msg("trend report is not serialisable")
		return
	}
	if err := a.cache.Set(ctx, key, raw, a.cacheTTL).Err(); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("trend cache write failed")
	}
}

func summary(report map[string]any) string {
	top, _ := report["popular_items"].([]any)
	if len(top) == 0 {
		return fmt.Sprintf("No sales in the last %d days.", report["window_days"])
	}
	best, _ := top[0].(map[string]any)
	return fmt.Sprintf("Best seller of the last %d days: %v (%v units).", report["window_days"], best["name"], best["units"])
}
