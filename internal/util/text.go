package util

import (
	"strings"
	"unicode"
)

// NormalizeForCompare lowercases input, turns punctuation into spaces and
// collapses whitespace, so that cosmetic differences do not affect similarity.
func NormalizeForCompare(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	gap := false
	for _, r := range input {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			gap = b.Len() > 0
			continue
		}
		if gap {
			b.WriteByte(' ')
			gap = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

type bigram [2]rune

func bigrams(s string) map[bigram]int {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	set := make(map[bigram]int, len(runes)-1)
	for i := 1; i < len(runes); i++ {
		set[bigram{runes[i-1], runes[i]}]++
	}
	return set
}

// DiceCoefficient is the Sørensen–Dice similarity of the character bigrams of
// a and b, in [0, 1].
func DiceCoefficient(a, b string) float64 {
	switch {
	case a == "" || b == "":
		return 0
	case a == b:
		return 1
	}

	left, right := bigrams(a), bigrams(b)
	if left == nil || right == nil {
		return 0
	}

	shared, total := 0, 0
	for g, n := range left {
		total += n
		shared += min(n, right[g])
	}
	for _, n := range right {
		total += n
	}
	return float64(2*shared) / float64(total)
}

// Truncate cuts s to max runes and marks the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max < 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func IntPtr(v int) *int { return &v }
