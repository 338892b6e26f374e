// Package imagefilter decides which images on a chapter reader page are
// genuine content pages.
package imagefilter

import (
	"strings"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

// Default thresholds below which an image is treated as decoration or an ad.
const (
	DefaultMinWidth  = 200
	DefaultMinHeight = 300
)

// Filter applies the dimension gate followed by the origin gate.
type Filter struct {
	minWidth  int
	minHeight int
}

// New returns a Filter; non-positive thresholds fall back to the defaults.
func New(minWidth, minHeight int) *Filter {
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}
	if minHeight <= 0 {
		minHeight = DefaultMinHeight
	}
	return &Filter{minWidth: minWidth, minHeight: minHeight}
}

// Select keeps candidates that are large enough and, when any of them do,
// only those whose origin URL contains sourceSlug. Discovery order is kept.
func (f *Filter) Select(candidates []manga.CandidateImage, sourceSlug string) []manga.CandidateImage {
	sized := make([]manga.CandidateImage, 0, len(candidates))
	for _, c := range candidates {
		if c.Width < f.minWidth || c.Height < f.minHeight {
			continue
		}
		sized = append(sized, c)
	}
	if sourceSlug == "" {
		return sized
	}

	matched := make([]manga.CandidateImage, 0, len(sized))
	for _, c := range sized {
		if strings.Contains(c.URL, sourceSlug) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return sized
	}
	return matched
}
