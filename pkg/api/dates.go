package api

import (
	"fmt"
	"slices"
	"strconv"
)

// Bounds of a valid date token.
const (
	MinTokenYear = 2020
	MaxTokenYear = 2030
)

// FormatDateToken renders a year and month as a YYYYMM token.
func FormatDateToken(year, month int) string {
	return fmt.Sprintf("%04d%02d", year, month)
}

// ParseDateToken splits a YYYYMM token into year and month. It only checks
// the shape, not the range.
func ParseDateToken(tok string) (year, month int, ok bool) {
	if len(tok) != 6 {
		return 0, 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, 0, false
		}
	}
	year, _ = strconv.Atoi(tok[:4])
	month, _ = strconv.Atoi(tok[4:])
	return year, month, true
}

// ValidDateToken reports whether tok is a YYYYMM token within the supported
// year and month range.
func ValidDateToken(tok string) bool {
	year, month, ok := ParseDateToken(tok)
	if !ok {
		return false
	}
	return year >= MinTokenYear && year <= MaxTokenYear && month >= 1 && month <= 12
}

// NormalizeDateTokens drops invalid tokens, removes duplicates and sorts the
// rest ascending. It returns nil when nothing survives.
func NormalizeDateTokens(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		if ValidDateToken(tok) && !slices.Contains(out, tok) {
			out = append(out, tok)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}
