// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/manga"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	Headless          bool
	ExecPath          string
	NavigationTimeout time.Duration
	// NetworkIdleTimeout bounds the wait for in-flight requests to settle.
	NetworkIdleTimeout time.Duration
	// NetworkIdleQuiet is how long the network must stay idle.
	NetworkIdleQuiet time.Duration
	ScrollStep       int
	ScrollInterval   time.Duration
}

// BytesFetcher downloads a resource directly, outside the browser.
type BytesFetcher interface {
	Fetch(ctx context.Context, rawURL, referer string) ([]byte, error)
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements manga.PageFetcher using chromedp and headless Chrome.
// All pages share one browser; each Load opens its own tab.
type Fetcher struct {
	cfg     Config
	direct  BytesFetcher
	limiter RateLimiter
	logger  *zap.Logger

	allocator     context.Context
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc

	startOnce sync.Once
	startErr  error
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// launched on first use.
func NewChromedp(cfg Config, direct BytesFetcher, limiter RateLimiter, logger *zap.Logger) (*Fetcher, error) {
	if direct == nil {
		return nil, errors.New("direct fetcher is required")
	}
	if cfg.ScrollStep < 0 {
		return nil, fmt.Errorf("scroll step must be >= 0")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Fetcher{
		cfg:           cfg,
		direct:        direct,
		limiter:       limiter,
		logger:        logger,
		allocator:     allocCtx,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = 10 * time.Second
	}
	if cfg.NetworkIdleQuiet <= 0 {
		cfg.NetworkIdleQuiet = 500 * time.Millisecond
	}
	if cfg.ScrollStep == 0 {
		cfg.ScrollStep = 100
	}
	if cfg.ScrollInterval <= 0 {
		cfg.ScrollInterval = 100 * time.Millisecond
	}
	return cfg
}

// Close shuts down the browser and its allocator.
func (f *Fetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

func (f *Fetcher) start() error {
	f.startOnce.Do(func() {
		if err := chromedp.Run(f.browser); err != nil {
			f.startErr = fmt.Errorf("launch browser: %w", err)
		}
	})
	return f.startErr
}

// Load opens rawURL in a new tab and waits according to opts. The returned
// handle owns the tab until Close.
func (f *Fetcher) Load(ctx context.Context, rawURL string, opts manga.LoadOptions) (manga.PageHandle, error) {
	if err := f.start(); err != nil {
		return nil, err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	stop := context.AfterFunc(ctx, tabCancel)
	release := func() {
		stop()
		tabCancel()
	}
	// Allocate the tab on tabCtx itself so timeouts below do not close it.
	if err := chromedp.Run(tabCtx); err != nil {
		release()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	capture := newCapture(opts.CaptureImages, func(id network.RequestID) ([]byte, error) {
		c := chromedp.FromContext(tabCtx)
		if c == nil || c.Target == nil {
			return nil, errors.New("tab closed")
		}
		body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(tabCtx, c.Target))
		if err != nil {
			return nil, fmt.Errorf("get response body: %w", err)
		}
		return body, nil
	})
	chromedp.ListenTarget(tabCtx, capture.handle)

	html, finalURL, err := f.render(tabCtx, rawURL, opts, capture)
	if err != nil {
		release()
		return nil, err
	}

	if opts.CaptureImages {
		if err := capture.waitBodies(ctx, f.cfg.NetworkIdleTimeout); err != nil {
			f.logger.Debug("image capture incomplete", zap.String("url", rawURL), zap.Error(err))
		}
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	f.logger.Debug("page rendered",
		zap.String("url", finalURL),
		zap.Int("html_bytes", len(html)),
		zap.Int("captured_images", capture.count()),
	)

	return &page{
		url:     finalURL,
		html:    html,
		bodies:  capture.snapshot(),
		direct:  f.direct,
		limiter: f.limiter,
		closeFn: func() error {
			stop()
			err := chromedp.Cancel(tabCtx)
			tabCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("close tab: %w", err)
			}
			return nil
		},
	}, nil
}

func (f *Fetcher) render(
	tabCtx context.Context,
	rawURL string,
	opts manga.LoadOptions,
	capture *capture,
) (string, string, error) {
	navCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, f.networkSetupAction(), chromedp.Navigate(rawURL)); err != nil {
		return "", "", fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	if opts.WaitSelector != "" {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = f.cfg.NavigationTimeout
		}
		waitCtx, waitCancel := context.WithTimeout(tabCtx, timeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(opts.WaitSelector, chromedp.ByQuery))
		waitCancel()
		if err != nil {
			return "", "", fmt.Errorf("wait for %q: %w", opts.WaitSelector, err)
		}
	}

	if opts.ScrollToBottom {
		scrollCtx, scrollCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
		var done bool
		err := chromedp.Run(scrollCtx, chromedp.Evaluate(scrollScript(f.cfg.ScrollStep, f.cfg.ScrollInterval), &done, awaitPromise))
		scrollCancel()
		if err != nil {
			f.logger.Debug("scroll incomplete", zap.String("url", rawURL), zap.Error(err))
		}
	}

	if opts.WaitNetworkIdle {
		if !capture.waitIdle(tabCtx, f.cfg.NetworkIdleTimeout, f.cfg.NetworkIdleQuiet) {
			f.logger.Debug("network did not settle", zap.String("url", rawURL))
		}
	}

	var html, finalURL string
	snapCtx, snapCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer snapCancel()
	if err := chromedp.Run(snapCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", fmt.Errorf("read dom: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func scrollScript(step int, interval time.Duration) string {
	return fmt.Sprintf(`new Promise((resolve) => {
	let scrolled = 0;
	const timer = setInterval(() => {
		window.scrollBy(0, %d);
		scrolled += %d;
		if (scrolled >= document.body.scrollHeight) {
			clearInterval(timer);
			resolve(true);
		}
	}, %d);
})`, step, step, interval.Milliseconds())
}

// page is a rendered tab snapshot.
type page struct {
	url     string
	html    string
	bodies  map[string][]byte
	direct  BytesFetcher
	limiter RateLimiter

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func (p *page) URL() string  { return p.url }
func (p *page) HTML() string { return p.html }

func (p *page) Captured(rawURL string) ([]byte, bool) {
	b, ok := p.bodies[rawURL]
	return b, ok
}

func (p *page) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	body, err := p.direct.Fetch(ctx, rawURL, p.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return body, nil
}

func (p *page) Close() error {
	p.closeOnce.Do(func() {
		if p.closeFn != nil {
			p.closeErr = p.closeFn()
		}
	})
	return p.closeErr
}
