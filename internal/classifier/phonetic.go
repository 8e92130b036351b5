package classifier

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.88

	// minNearMissLen skips short function words that sit close to any short
	// name on edit distance alone.
	minNearMissLen = 3
)

// nameMatcher finds transcript words that sound like the assistant's name
// without spelling it. It uses Double Metaphone codes to find phonetic
// candidates and Jaro-Winkler similarity to rank them; words with no phonetic
// overlap must clear the stricter fuzzy threshold instead.
//
// nameMatcher is read-only after construction and safe for concurrent use.
type nameMatcher struct {
	name       string
	nameTokens []string
	nameCodes  map[string]struct{}

	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newNameMatcher(name string) *nameMatcher {
	name = strings.ToLower(strings.TrimSpace(name))
	tokens := strings.Fields(name)
	return &nameMatcher{
		name:              name,
		nameTokens:        tokens,
		nameCodes:         codesForTokens(tokens),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// nearMiss reports the first word (or word pair, for multi-word names) in the
// normalised text that resembles the name. Exact occurrences of the name are
// not near misses; the fast path already matches those.
func (m *nameMatcher) nearMiss(normalized string) (word string, score float64, ok bool) {
	if m.name == "" {
		return "", 0, false
	}
	words := strings.Fields(normalized)
	span := len(m.nameTokens)
	for i := 0; i+span <= len(words); i++ {
		window := words[i : i+span]
		candidate := strings.Join(window, " ")
		if candidate == m.name || len(strings.Join(window, "")) < minNearMissLen {
			continue
		}

		s := bestJWScore(window, m.nameTokens, candidate, m.name)
		if codesOverlap(codesForTokens(window), m.nameCodes) {
			if s >= m.phoneticThreshold {
				return candidate, s, true
			}
		} else if s >= m.fuzzyThreshold {
			return candidate, s, true
		}
	}
	return "", 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity across the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
