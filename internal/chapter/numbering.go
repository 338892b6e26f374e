// Package chapter converts human chapter labels into sortable storage keys
// and back into display numbers.
package chapter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const chapterToken = "chapter"

// Normalize converts a label such as "Chapter 12" into a storage key.
//
// Integer chapters become a 4-digit zero-padded number followed by "_0"
// ("0012_0"); fractional chapters use the same width with the fraction in the
// reserved slot ("0012_5"), so both kinds sort together. Anything else falls
// back to the lowercased label with spaces replaced by underscores.
func Normalize(label string) string {
	rest := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(label), chapterToken, ""))

	if n, err := strconv.Atoi(rest); err == nil {
		return fmt.Sprintf("%04d_0", n)
	}
	if f, ok := parseFinite(rest); ok {
		return strings.Replace(fmt.Sprintf("%06.1f", f), ".", "_", 1)
	}
	return strings.ReplaceAll(rest, " ", "_")
}

// DisplayNumber renders a key for metadata: "0012_0" -> "12", "0012_5" -> "12.5".
// Keys that are not numeric are returned unchanged. This is deliberately not
// an exact inverse of Normalize.
func DisplayNumber(key string) string {
	candidate := strings.TrimSpace(strings.ToLower(strings.ReplaceAll(key, "_", ".")))
	f, ok := parseFinite(candidate)
	if !ok {
		return key
	}
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", f), ".0")
}

func parseFinite(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
