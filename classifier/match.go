package classifier

import (
	"strings"
	"unicode"

	"merchant/models"
)

// Tokenize lower-cases s and splits it into runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type itemPattern struct {
	item   models.Item
	tokens []string
}

// Matcher finds the confirmed items a title refers to.
type Matcher struct {
	patterns []itemPattern
}

// NewMatcher builds a Matcher over items. Sentinel items and names with no
// tokens are ignored.
func NewMatcher(items []models.Item) *Matcher {
	m := &Matcher{}
	for _, it := range items {
		if models.IsSentinelItem(it.Name) {
			continue
		}
		toks := Tokenize(it.Name)
		if len(toks) == 0 {
			continue
		}
		m.patterns = append(m.patterns, itemPattern{item: it, tokens: toks})
	}
	return m
}

// Match returns every distinct item whose tokens appear contiguously in
// title. The last title token of a match may carry a plural "s" or "es".
func (m *Matcher) Match(title string) []models.Item {
	words := Tokenize(title)
	var out []models.Item
	for _, p := range m.patterns {
		if containsSequence(words, p.tokens) {
			out = append(out, p.item)
		}
	}
	return out
}

func containsSequence(words, seq []string) bool {
	last := len(seq) - 1
	for start := 0; start+last < len(words); start++ {
		ok := true
		for k := 0; k < last; k++ {
			if words[start+k] != seq[k] {
				ok = false
				break
			}
		}
		if ok && pluralOf(words[start+last], seq[last]) {
			return true
		}
	}
	return false
}

func pluralOf(word, stem string) bool {
	return word == stem || word == stem+"s" || word == stem+"es"
}
