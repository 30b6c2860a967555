package style

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
)

const (
	profileSize = 3
	// a stated preference counts as much as two purchased units
	statedWeight = 2

	colorScore    = 0.5
	patternScore  = 0.3
	materialScore = 0.2
)

type look struct {
	base  string
	scarf string
	tips  []string
}

var occasions = map[string]look{
	"casual": {
		base:  "white shirt and jeans",
		scarf: "light cotton or modal scarf with a printed pattern",
		tips:  []string{"Loose knot", "Let the ends hang unevenly"},
	},
	"business": {
		base:  "navy suit",
		scarf: "silk twill with a geometric pattern",
		tips:  []string{"Simple asymmetric knot", "Pick a colour that echoes the shirt"},
	},
	"evening": {
		base:  "dark dress or tailored jacket",
		scarf: "satin or silk in a deep solid colour",
		tips:  []string{"Drape over the shoulders", "Keep jewellery minimal"},
	},
	"wedding": {
		base:  "pastel dress or light suit",
		scarf: "silk chiffon stole",
		tips:  []string{"Wrap loosely around the arms", "Avoid white"},
	},
}

var seasonMaterials = map[string][]string{
	"spring": {"silk", "cotton", "modal"},
	"summer": {"silk", "cotton", "linen"},
	"autumn": {"wool", "modal", "silk"},
	"winter": {"wool", "cashmere"},
}

// seasonOf uses northern hemisphere meteorological seasons.
func seasonOf(t time.Time) string {
	switch t.Month() {
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	case time.September, time.October, time.November:
		return "autumn"
	default:
		return "winter"
	}
}

type profile struct {
	colors    []string
	patterns  []string
	materials []string
}

func (p profile) payload() map[string]any {
	return map[string]any{
		"colors":    append([]string{}, p.colors...),
		"patterns":  append([]string{}, p.patterns...),
		"materials": append([]string{}, p.materials...),
	}
}

// buildProfile weighs stated preferences and purchased units into the
// customer's favourite colours, patterns and materials.
func buildProfile(prefs map[string]any, purchases []catalog.SoldItem) profile {
	colors, patterns, materials := map[string]int{}, map[string]int{}, map[string]int{}
	add := func(m map[string]int, v string, w int) {
		if v = normalize(v); v != "" {
			m[v] += w
		}
	}

	for _, it := range purchases {
		add(colors, it.Color, it.Quantity)
		add(patterns, it.Pattern, it.Quantity)
		add(materials, it.Material, it.Quantity)
	}
	for _, v := range stringList(prefs["colors"]) {
		add(colors, v, statedWeight)
	}
	for _, v := range stringList(prefs["patterns"]) {
		add(patterns, v, statedWeight)
	}
	for _, v := range stringList(prefs["materials"]) {
		add(materials, v, statedWeight)
	}

	return profile{
		colors:    top(colors, profileSize),
		patterns:  top(patterns, profileSize),
		materials: top(materials, profileSize),
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func top(counts map[string]int, n int) []string {
	out := make([]string, 0, len(counts))
	for v := range counts {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type scored struct {
	product catalog.Product
	score   float64
	reasons []string
}

func (s scored) payload() map[string]any {
	return map[string]any{
		"product_id":      s.product.ID,
		"name":            s.product.Name,
		"price":           s.product.Price,
		"color":           s.product.Color,
		"pattern":         s.product.Pattern,
		"material":        s.product.Material,
		"match_score":     s.score,
		"why_recommended": append([]string{}, s.reasons...),
	}
}

func rank(candidates []catalog.Product, prof profile, season string, budget float64, owned map[int64]bool, limit int) []scored {
	fits := seasonMaterials[season]
	out := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		if owned[p.ID] || (budget > 0 && p.Price > budget) {
			continue
		}
		s := scored{product: p}
		if slices.Contains(prof.colors, normalize(p.Color)) {
			s.score += colorScore
			s.reasons = append(s.reasons, "matches your colours")
		}
		if slices.Contains(prof.patterns, normalize(p.Pattern)) {
			s.score += patternScore
			s.reasons = append(s.reasons, "a pattern you like")
		}
		if slices.Contains(fits, normalize(p.Material)) {
			s.score += materialScore
			s.reasons = append(s.reasons, season+" material")
		}
		s.score = float64(int(s.score*100+0.5)) / 100
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.product.Price, b.product.Price); c != 0 {
			return c
		}
		return cmp.Compare(a.product.ID, b.product.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// lookAlikes scores candidates by shared pattern, colour and material.
func lookAlikes(base *catalog.Product, candidates []catalog.Product, limit int) []int64 {
	type match struct {
		id    int64
		score float64
	}
	same := func(a, b string) bool {
		a = normalize(a)
		return a != "" && a == normalize(b)
	}

	var matches []match
	for _, p := range candidates {
		if p.ID == base.ID {
			continue
		}
		score := 0.0
		if same(base.Pattern, p.Pattern) {
			score += 0.4
		}
		if same(base.Color, p.Color) {
			score += 0.3
		}
		if same(base.Material, p.Material) {
			score += 0.3
		}
		if score >= similarThreshold {
			matches = append(matches, match{id: p.ID, score: score})
		}
	}
	slices.SortFunc(matches, func(a, b match) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.id)
	}
	return ids
}
