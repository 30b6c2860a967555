package vision

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	colors = []string{
		"red", "blue", "green", "yellow", "black", "white", "pink",
		"purple", "brown", "grey", "gray", "gold", "silver", "multicolor", "multicoloured",
	}
	patterns = []string{
		"floral", "striped", "polka dot", "geometric", "plain", "paisley",
		"abstract", "animal print", "leopard", "chevron", "ethnic", "checked", "plaid",
	}
	materials = []string{
		"silk", "cotton", "wool", "modal", "cashmere", "polyester",
		"viscose", "linen", "satin", "chiffon",
	}
	styles = []string{
		"classic", "bohemian", "boho", "modern", "vintage", "elegant",
		"casual", "luxury", "minimalist", "romantic",
	}

	dimensionsRe = regexp.MustCompile(`(\d+)\s*[x×]\s*(\d+)\s*(cm|m)\b`)
)

// extractFeatures picks the first known colour, pattern, material and style
// named in a description, plus dimensions written like "90 x 90 cm".
// Features that are not mentioned are left out.
func extractFeatures(description string) map[string]any {
	text := normalize(description)
	features := map[string]any{}

	for name, candidates := range map[string][]string{
		"color":    colors,
		"pattern":  patterns,
		"material": materials,
		"style":    styles,
	} {
		if v := firstMention(text, candidates); v != "" {
			features[name] = v
		}
	}

	if m := dimensionsRe.FindStringSubmatch(strings.ToLower(description)); m != nil {
		features["dimensions"] = m[1] + "×" + m[2] + m[3]
	}
	return features
}

// normalize lowercases s and collapses everything but letters and digits to
// single spaces, padded so that whole words can be matched with " word ".
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// firstMention returns the candidate that appears earliest in text.
func firstMention(text string, candidates []string) string {
	best, bestAt := "", -1
	for _, c := range candidates {
		at := strings.Index(text, " "+c+" ")
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt {
			best, bestAt = c, at
		}
	}
	return best
}
