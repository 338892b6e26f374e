package manga

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Unknown is the placeholder for metadata fields that could not be resolved.
const Unknown = "Unknown"

// Sentinel errors surfaced by the pipeline.
var (
	ErrNoChapters              = errors.New("no chapters found")
	ErrMetadataUnhealthy       = errors.New("metadata healthcheck failed")
	ErrChapterRetriesExhausted = errors.New("chapter fetch retries exhausted")
	ErrInvalidURL              = errors.New("invalid url")
)

// SourceMetadata describes one tracked series as scraped from its landing page.
type SourceMetadata struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Status      string   `json:"status"`
	LastUpdated string   `json:"last_updated"`
	Views       string   `json:"views"`
	Genres      []string `json:"genres"`
	Rating      string   `json:"rating"`
	URL         string   `json:"url"`
}

// NewSourceMetadata returns a record with every text field set to Unknown
// except the title, which starts from the given fallback.
func NewSourceMetadata(sourceURL, title string) SourceMetadata {
	if strings.TrimSpace(title) == "" {
		title = Unknown
	}
	return SourceMetadata{
		Title:       title,
		Author:      Unknown,
		Status:      Unknown,
		LastUpdated: Unknown,
		Views:       Unknown,
		Genres:      []string{},
		Rating:      Unknown,
		URL:         sourceURL,
	}
}

// Healthy reports whether the record is usable. A record is rejected only when
// both the title and the last-update label are still Unknown.
func (m SourceMetadata) Healthy() bool {
	return !(m.Title == Unknown && m.LastUpdated == Unknown)
}

// Ongoing reports whether the site lists the series as still publishing.
func (m SourceMetadata) Ongoing() bool {
	return strings.EqualFold(strings.TrimSpace(m.Status), "Ongoing")
}

// ChapterRef pairs a normalized chapter key with the chapter reader URL.
type ChapterRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CandidateImage is an image discovered on a chapter reader page.
type CandidateImage struct {
	Width  int
	Height int
	URL    string
	Data   []byte
}

// ArchiveRecord describes an archive that has been written to disk.
type ArchiveRecord struct {
	Path       string    `json:"path"`
	SourceURL  string    `json:"source_url"`
	Title      string    `json:"title"`
	ChapterKey string    `json:"chapter_key"`
	Pages      int       `json:"pages"`
	Digest     string    `json:"digest"`
	Bytes      int64     `json:"bytes"`
	WrittenAt  time.Time `json:"written_at"`
}

// LoadOptions controls how a PageFetcher renders a page.
type LoadOptions struct {
	// WaitSelector must appear before the page counts as loaded.
	WaitSelector string
	// Timeout bounds the wait for WaitSelector.
	Timeout time.Duration
	// CaptureImages records image response bodies keyed by URL.
	CaptureImages bool
	// ScrollToBottom scrolls the page progressively to trigger lazy loading.
	ScrollToBottom bool
	// WaitNetworkIdle waits (bounded) for in-flight requests to settle.
	WaitNetworkIdle bool
}

// ValidateURL checks that raw is an absolute URL with a scheme and host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q needs scheme and host", ErrInvalidURL, raw)
	}
	return u, nil
}

// SourceSlug extracts the series path segment from a source or chapter URL,
// e.g. "https://host/manga/some-title/chapter-3" -> "some-title". When the
// URL has no "manga" segment the first path segment is used.
func SourceSlug(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, p := range parts {
		if strings.EqualFold(p, "manga") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}
