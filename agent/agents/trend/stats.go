package trend

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
)

const (
	week = 7 * 24 * time.Hour

	// relative change below which a trend counts as stable
	unitThresholdPct  = 10.0
	priceThresholdPct = 5.0
	// units per week
	slopeThreshold = 0.1
)

func validAttribute(kind string) bool {
	switch kind {
	case TrendColor, TrendPattern, TrendMaterial:
		return true
	default:
		return false
	}
}

func attribute(it catalog.SoldItem, kind string) string {
	var v string
	switch kind {
	case TrendColor:
		v = it.Color
	case TrendPattern:
		v = it.Pattern
	case TrendMaterial:
		v = it.Material
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// splitAt partitions items, which are ordered oldest first, around cut.
func splitAt(items []catalog.SoldItem, cut time.Time) (current, previous []catalog.SoldItem) {
	for _, it := range items {
		if it.SoldAt.Before(cut) {
			previous = append(previous, it)
		} else {
			current = append(current, it)
		}
	}
	return current, previous
}

func units(items []catalog.SoldItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func growthPct(cur, prev int) (float64, bool) {
	if prev == 0 {
		return 0, false
	}
	return round(float64(cur-prev) / float64(prev) * 100), true
}

func direction(cur, prev int) string {
	if prev == 0 {
		if cur > 0 {
			return "rising"
		}
		return "stable"
	}
	g, _ := growthPct(cur, prev)
	switch {
	case g >= unitThresholdPct:
		return "rising"
	case g <= -unitThresholdPct:
		return "declining"
	default:
		return "stable"
	}
}

func share(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(part) / float64(total))
}

type productTally struct {
	id      int64
	name    string
	units   int
	revenue float64
}

func topProducts(current, previous []catalog.SoldItem, limit int) []any {
	tallies := map[int64]*productTally{}
	for _, it := range current {
		t, ok := tallies[it.ProductID]
		if !ok {
			t = &productTally{id: it.ProductID, name: it.Name}
			tallies[it.ProductID] = t
		}
		t.units += it.Quantity
		t.revenue += it.Price * float64(it.Quantity)
	}
	before := map[int64]int{}
	for _, it := range previous {
		before[it.ProductID] += it.Quantity
	}

	ranked := make([]*productTally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	slices.SortFunc(ranked, func(a, b *productTally) int {
		if c := cmp.Compare(b.units, a.units); c != 0 {
			return c
		}
		if c := cmp.Compare(b.revenue, a.revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]any, 0, len(ranked))
	for _, t := range ranked {
		entry := map[string]any{
			"product_id": t.id,
			"name":       t.name,
			"units":      t.units,
			"revenue":    round(t.revenue),
			"direction":  direction(t.units, before[t.id]),
		}
		if g, ok := growthPct(t.units, before[t.id]); ok {
			entry["growth_pct"] = g
		}
		out = append(out, entry)
	}
	return out
}

func attributeTrends(current, previous []catalog.SoldItem, kind string) []any {
	cur := map[string]int{}
	for _, it := range current {
		if v := attribute(it, kind); v != "" {
			cur[v] += it.Quantity
		}
	}
	prev := map[string]int{}
	for _, it := range previous {
		if v := attribute(it, kind); v != "" {
			prev[v] += it.Quantity
		}
	}

	values := make([]string, 0, len(cur))
	for v := range cur {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b string) int {
		if c := cmp.Compare(cur[b], cur[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(values) > topLimit {
		values = values[:topLimit]
	}

	total := units(current)
	out := make([]any, 0, len(values))
	for _, v := range values {
		entry := map[string]any{
			"value":     v,
			"units":     cur[v],
			"share":     share(cur[v], total),
			"direction": direction(cur[v], prev[v]),
		}
		if g, ok := growthPct(cur[v], prev[v]); ok {
			entry["growth_pct"] = g
		}
		out = append(out, entry)
	}
	return out
}

func averagePrice(items []catalog.SoldItem) float64 {
	n := units(items)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, it := range items {
		sum += it.Price * float64(it.Quantity)
	}
	return round(sum / float64(n))
}

func priceTrend(current, previous []catalog.SoldItem) map[string]any {
	cur, prev := averagePrice(current), averagePrice(previous)
	trend := "stable"
	if cur > 0 && prev > 0 {
		change := (cur - prev) / prev * 100
		switch {
		case change >= priceThresholdPct:
			trend = "rising"
		case change <= -priceThresholdPct:
			trend = "falling"
		}
	}
	return map[string]any{
		"average_price":          cur,
		"previous_average_price": prev,
		"price_trend":            trend,
	}
}

// weekIndex places t in one of n weekly buckets ending at now, oldest first.
func weekIndex(t, now time.Time, n int) (int, bool) {
	age := now.Sub(t)
	if age < 0 {
		return 0, false
	}
	idx := n - 1 - int(age/week)
	return idx, idx >= 0
}

func weeklyUnits(items []catalog.SoldItem, now time.Time, n int) []int {
	if n <= 0 {
		n = 1
	}
	out := make([]int, n)
	for _, it := range items {
		if idx, ok := weekIndex(it.SoldAt, now, n); ok {
			out[idx] += it.Quantity
		}
	}
	return out
}

func weeklySeries(items []catalog.SoldItem, kind string, now time.Time, n int) map[string][]float64 {
	out := map[string][]float64{}
	for _, it := range items {
		v := attribute(it, kind)
		if v == "" {
			continue
		}
		idx, ok := weekIndex(it.SoldAt, now, n)
		if !ok {
			continue
		}
		series, seen := out[v]
		if !seen {
			series = make([]float64, n)
			out[v] = series
		}
		series[idx] += float64(it.Quantity)
	}
	return out
}

func weeksWithSales(items []catalog.SoldItem, now time.Time, n int) int {
	count := 0
	for _, u := range weeklyUnits(items, now, n) {
		if u > 0 {
			count++
		}
	}
	return count
}

type prediction struct {
	Kind       string
	Value      string
	Slope      float64
	Projected  float64
	Confidence float64
}

func (p prediction) direction() string {
	switch {
	case p.Slope > slopeThreshold:
		return "rising"
	case p.Slope < -slopeThreshold:
		return "declining"
	default:
		return "stable"
	}
}

func (p prediction) payload() map[string]any {
	return map[string]any{
		"trend_type":      p.Kind,
		"value":           p.Value,
		"direction":       p.direction(),
		"weekly_slope":    p.Slope,
		"projected_units": p.Projected,
		"confidence":      p.Confidence,
	}
}

// project fits units = intercept + slope*week by least squares. Confidence is
// the fit's r squared scaled by the share of weeks that had sales.
func project(kind, value string, series []float64, horizon int) prediction {
	n := float64(len(series))
	var sumX, sumY, sumXY, sumXX float64
	active := 0
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		if y > 0 {
			active++
		}
	}

	slope := 0.0
	if d := n*sumXX - sumX*sumX; d != 0 {
		slope = (n*sumXY - sumX*sumY) / d
	}
	intercept := (sumY - slope*sumX) / n

	mean := sumY / n
	var ssTot, ssRes float64
	for i, y := range series {
		fit := intercept + slope*float64(i)
		ssTot += (y - mean) * (y - mean)
		ssRes += (y - fit) * (y - fit)
	}
	r2 := 0.0
	switch {
	case ssTot > 0:
		r2 = math.Max(0, 1-ssRes/ssTot)
	case mean > 0:
		r2 = 1
	}

	projected := 0.0
	for h := 1; h <= horizon; h++ {
		projected += math.Max(0, intercept+slope*(n-1+float64(h)))
	}

	return prediction{
		Kind:       kind,
		Value:      value,
		Slope:      round(slope),
		Projected:  round(projected),
		Confidence: round(r2 * float64(active) / n),
	}
}

func sortPredictions(ps []prediction) {
	slices.SortFunc(ps, func(a, b prediction) int {
		if c := cmp.Compare(b.Slope, a.Slope); c != 0 {
			return c
		}
		if c := strings.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
