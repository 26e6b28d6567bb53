package enhance

import (
	"strings"
	"unicode"
)

// normalizeSpace collapses runs of whitespace and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// wordTokens lowercases s, turns every rune that is not a letter, digit,
// underscore or space into a space, and splits on whitespace.
func wordTokens(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// dropWords removes every token present in stop.
func dropWords(tokens []string, stop map[string]struct{}) []string {
	out := tokens[:0:0]
	for _, tok := range tokens {
		if _, ok := stop[tok]; ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return set
}

// containsAny reports whether s contains any of the keywords. s must already
// be lowercased.
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// countContained counts the keywords that occur in s at least once.
func countContained(s string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			n++
		}
	}
	return n
}

// mergeUnique appends items not already present in dst, keeping first-seen order.
func mergeUnique(dst []string, items []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(items))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range items {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		dst = append(dst, v)
		seen[v] = struct{}{}
	}
	return dst
}
