package enhance

import (
	"math"
	"sort"
	"strings"
)

// Ratio is a 0-100 edit-based similarity of a and b:
// round(100 * (len(a)+len(b)-d) / (len(a)+len(b))), where d is the
// Levenshtein distance with substitutions costing 2 (insert/delete distance).
// Equal strings score 100, even when both are empty; otherwise an empty
// operand scores 0.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	total := len(ra) + len(rb)
	d := indelDistance(ra, rb)
	return int(math.Round(100 * float64(total-d) / float64(total)))
}

// TokenSortRatio sorts the whitespace-separated words of each input before
// computing Ratio, so word order does not matter.
func TokenSortRatio(a, b string) int {
	return Ratio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	words := strings.Fields(s)
	sort.Strings(words)
	return strings.Join(words, " ")
}

func indelDistance(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			sub := prev[j-1]
			if a[i-1] != b[j-1] {
				sub += 2
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
