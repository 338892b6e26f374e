// Package catalog adapts a rendered-page fetcher to the three catalog
// operations the pipeline needs: list a source's chapters, read its metadata
// and collect a chapter's page images.
package catalog

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/chapter"
	"github.com/JakeFAU/mangashelf/internal/imagefilter"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

// Selectors locate the regions of the supported site layout.
type Selectors struct {
	Info        string
	Title       string
	Field       string
	Rating      string
	ChapterList string
	ChapterRow  string
	Reader      string
}

// DefaultSelectors matches the supported reader site.
func DefaultSelectors() Selectors {
	return Selectors{
		Info:        ".manga-info-text",
		Title:       "h1",
		Field:       "li",
		Rating:      "#rate_row_cmd",
		ChapterList: ".chapter-list",
		ChapterRow:  ".chapter-list .row",
		Reader:      ".container-chapter-reader",
	}
}

// Config controls page waits and selectors.
type Config struct {
	// SourceTimeout bounds the wait for the source page regions.
	SourceTimeout time.Duration
	// ReaderTimeout bounds the wait for the chapter reader region.
	ReaderTimeout time.Duration
	Selectors     Selectors
}

const (
	defaultSourceTimeout = 5 * time.Second
	defaultReaderTimeout = 30 * time.Second
)

// Client implements the catalog operations over a manga.PageFetcher.
type Client struct {
	fetcher manga.PageFetcher
	codec   manga.ImageCodec
	filter  *imagefilter.Filter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Client. Zero-valued config fields take defaults.
func New(
	fetcher manga.PageFetcher,
	codec manga.ImageCodec,
	filter *imagefilter.Filter,
	cfg Config,
	logger *zap.Logger,
) *Client {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = defaultSourceTimeout
	}
	if cfg.ReaderTimeout <= 0 {
		cfg.ReaderTimeout = defaultReaderTimeout
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if filter == nil {
		filter = imagefilter.New(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		codec:   codec,
		filter:  filter,
		cfg:     cfg,
		logger:  logger,
	}
}

// ListChapters returns the chapters in site order (newest first). Fetch or
// parse failures yield an empty result.
func (c *Client) ListChapters(ctx context.Context, sourceURL string) []manga.ChapterRef {
	doc, base, ok := c.load(ctx, sourceURL, manga.LoadOptions{
		WaitSelector: c.cfg.Selectors.ChapterList,
		Timeout:      c.cfg.SourceTimeout,
	})
	if !ok {
		return nil
	}

	var refs []manga.ChapterRef
	seen := make(map[string]struct{})
	doc.Find(c.cfg.Selectors.ChapterRow).Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		if link.Length() == 0 {
			return
		}
		href, found := link.Attr("href")
		href = strings.TrimSpace(href)
		if !found || href == "" {
			return
		}
		key := chapter.Normalize(link.Text())
		if _, dup := seen[key]; dup {
			c.logger.Debug("duplicate chapter key", zap.String("chapter_key", key), zap.String("chapter_url", href))
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, manga.ChapterRef{Key: key, URL: resolve(base, href)})
	})

	c.logger.Info("chapters listed", zap.String("source_url", sourceURL), zap.Int("chapters", len(refs)))
	return refs
}

// FetchMetadata reads the labelled info fields of a source page. Fields that
// cannot be found stay Unknown.
func (c *Client) FetchMetadata(ctx context.Context, sourceURL string) manga.SourceMetadata {
	meta := manga.NewSourceMetadata(sourceURL, manga.Unknown)
	doc, _, ok := c.load(ctx, sourceURL, manga.LoadOptions{
		WaitSelector: c.cfg.Selectors.Info,
		Timeout:      c.cfg.SourceTimeout,
	})
	if !ok {
		return meta
	}

	info := doc.Find(c.cfg.Selectors.Info).First()
	if title := strings.TrimSpace(info.Find(c.cfg.Selectors.Title).First().Text()); title != "" {
		meta.Title = title
	}
	info.Find(c.cfg.Selectors.Field).Each(func(_ int, li *goquery.Selection) {
		text := li.Text()
		switch {
		case labelled(text, "Author(s) :", &meta.Author):
		case labelled(text, "Status :", &meta.Status):
		case labelled(text, "Last updated :", &meta.LastUpdated):
		case labelled(text, "View :", &meta.Views):
		case strings.Contains(text, "Genres :"):
			genres := make([]string, 0)
			li.Find("a").Each(func(_ int, a *goquery.Selection) {
				if g := strings.TrimSpace(a.Text()); g != "" {
					genres = append(genres, g)
				}
			})
			meta.Genres = genres
		}
	})
	if rating := strings.TrimSpace(info.Find(c.cfg.Selectors.Rating).First().Text()); rating != "" {
		meta.Rating = rating
	}

	c.logger.Info("metadata fetched",
		zap.String("source_url", sourceURL),
		zap.String("title", meta.Title),
		zap.String("status", meta.Status),
		zap.String("last_updated", meta.LastUpdated),
	)
	return meta
}

// FetchChapterImages renders a chapter reader page, collects every image in
// the reader region and returns the ones accepted as content pages, in
// reading order.
func (c *Client) FetchChapterImages(ctx context.Context, chapterURL string) []manga.CandidateImage {
	if _, err := manga.ValidateURL(chapterURL); err != nil {
		c.logger.Warn("invalid chapter url", zap.String("chapter_url", chapterURL), zap.Error(err))
		return nil
	}

	page, err := c.fetcher.Load(ctx, chapterURL, manga.LoadOptions{
		WaitSelector:    c.cfg.Selectors.Reader,
		Timeout:         c.cfg.ReaderTimeout,
		CaptureImages:   true,
		ScrollToBottom:  true,
		WaitNetworkIdle: true,
	})
	if err != nil {
		c.logger.Warn("chapter page load failed", zap.String("chapter_url", chapterURL), zap.Error(err))
		return nil
	}
	defer c.closePage(page)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML()))
	if err != nil {
		c.logger.Warn("chapter page parse failed", zap.String("chapter_url", chapterURL), zap.Error(err))
		return nil
	}
	base := baseURL(page.URL(), chapterURL)

	var sources []string
	doc.Find(c.cfg.Selectors.Reader + " img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src != "" {
			sources = append(sources, resolve(base, src))
		}
	})
	c.logger.Info("reader images found", zap.String("chapter_url", chapterURL), zap.Int("images", len(sources)))

	candidates := make([]manga.CandidateImage, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			return nil
		}
		data, ok := page.Captured(src)
		if !ok {
			c.logger.Debug("image not captured, fetching directly", zap.String("image_url", src))
			data, err = page.FetchBytes(ctx, src)
			if err != nil {
				c.logger.Warn("image fetch failed", zap.String("image_url", src), zap.Error(err))
				continue
			}
		}
		width, height, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("image decode failed", zap.String("image_url", src), zap.Error(err))
			continue
		}
		candidates = append(candidates, manga.CandidateImage{Width: width, Height: height, URL: src, Data: data})
	}

	accepted := c.filter.Select(candidates, manga.SourceSlug(chapterURL))
	c.logger.Info("chapter images accepted",
		zap.String("chapter_url", chapterURL),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(accepted)),
	)
	return accepted
}

func (c *Client) load(ctx context.Context, rawURL string, opts manga.LoadOptions) (*goquery.Document, *url.URL, bool) {
	page, err := c.fetcher.Load(ctx, rawURL, opts)
	if err != nil {
		c.logger.Warn("page load failed", zap.String("url", rawURL), zap.Error(err))
		return nil, nil, false
	}
	defer c.closePage(page)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML()))
	if err != nil {
		c.logger.Warn("page parse failed", zap.String("url", rawURL), zap.Error(err))
		return nil, nil, false
	}
	return doc, baseURL(page.URL(), rawURL), true
}

func (c *Client) closePage(page manga.PageHandle) {
	if err := page.Close(); err != nil {
		c.logger.Warn("page close failed", zap.String("url", page.URL()), zap.Error(err))
	}
}

func labelled(text, label string, dst *string) bool {
	_, value, found := strings.Cut(text, label)
	if !found {
		return false
	}
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
	return true
}

func baseURL(final, requested string) *url.URL {
	for _, raw := range []string{final, requested} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u
		}
	}
	return nil
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
