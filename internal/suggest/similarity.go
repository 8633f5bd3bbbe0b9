package suggest

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

// NameSimilarity scores how well a stored field name matches the form field
// the user is filling, in [0, 1]. Edit distance catches near-identical
// spellings, token overlap catches reordered compound names, and a
// containment check catches "email" inside "work email address".
func NameSimilarity(target, candidate string) float64 {
	a := nameTokens(target)
	b := nameTokens(candidate)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	aj := strings.Join(a, " ")
	bj := strings.Join(b, " ")
	if aj == bj {
		return 1
	}

	score := levenshtein.Match(aj, bj, nil)
	if j := tokenJaccard(a, b); j > score {
		score = j
	}
	if strings.Contains(aj, bj) || strings.Contains(bj, aj) {
		const containmentFloor = 0.8
		if score < containmentFloor {
			score = containmentFloor
		}
	}
	return score
}

// nameTokens lowers and splits a field name on whitespace, punctuation and
// camelCase boundaries.
func nameTokens(name string) []string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(strings.TrimSpace(name))
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.FieldsFunc(b.String(), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenJaccard(a, b []string) float64 {
	as := make(map[string]struct{}, len(a))
	for _, t := range a {
		as[t] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, t := range b {
		bs[t] = struct{}{}
	}
	shared := 0
	for t := range bs {
		if _, ok := as[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(as)+len(bs)-shared)
}
