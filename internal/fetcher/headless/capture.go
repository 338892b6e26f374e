package headless

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

type bodyFunc func(id network.RequestID) ([]byte, error)

// capture tracks in-flight requests for idle detection and, when enabled,
// records image response bodies keyed by response URL.
type capture struct {
	images bool
	fetch  bodyFunc

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	pending      map[network.RequestID]string
	bodies       map[string][]byte
	lastActivity time.Time
	// outstanding counts running body fetches; drained is closed when it
	// returns to zero. closed stops new fetches once bodies are handed out.
	outstanding int
	drained     chan struct{}
	closed      bool
}

func newCapture(images bool, fetch bodyFunc) *capture {
	return &capture{
		images:       images,
		fetch:        fetch,
		inflight:     make(map[network.RequestID]struct{}),
		pending:      make(map[network.RequestID]string),
		bodies:       make(map[string][]byte),
		lastActivity: time.Now(),
	}
}

// handle runs on the chromedp event loop and must not block.
func (c *capture) handle(ev any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.inflight[e.RequestID] = struct{}{}
		c.lastActivity = time.Now()
	case *network.EventResponseReceived:
		if c.images && e.Type == network.ResourceTypeImage && e.Response != nil {
			c.pending[e.RequestID] = e.Response.URL
		}
	case *network.EventLoadingFinished:
		delete(c.inflight, e.RequestID)
		c.lastActivity = time.Now()
		rawURL, ok := c.pending[e.RequestID]
		if !ok {
			return
		}
		delete(c.pending, e.RequestID)
		if c.closed {
			return
		}
		c.outstanding++
		go c.store(e.RequestID, rawURL)
	case *network.EventLoadingFailed:
		delete(c.inflight, e.RequestID)
		delete(c.pending, e.RequestID)
		c.lastActivity = time.Now()
	}
}

func (c *capture) store(id network.RequestID, rawURL string) {
	body, err := c.fetch(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && len(body) > 0 && !c.closed {
		c.bodies[rawURL] = body
	}
	c.outstanding--
	if c.outstanding == 0 && c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
}

// waitIdle polls until no request has been in flight for quiet, or timeout
// elapses. It reports whether the network settled.
func (c *capture) waitIdle(ctx context.Context, timeout, quiet time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(max(quiet/5, 10*time.Millisecond))
	defer tick.Stop()

	for {
		if c.idleFor() >= quiet {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

func (c *capture) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inflight) > 0 {
		return 0
	}
	return time.Since(c.lastActivity)
}

// waitBodies waits for outstanding body fetches, bounded by timeout. Events
// may keep arriving while it waits; it returns once the count reaches zero.
func (c *capture) waitBodies(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.outstanding == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.drained == nil {
		c.drained = make(chan struct{})
	}
	done := c.drained
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

// snapshot hands out the captured bodies and stops further capture. The tab
// stays open until the page is closed, so late events are ignored.
func (c *capture) snapshot() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := make(map[string][]byte, len(c.bodies))
	for k, v := range c.bodies {
		out[k] = v
	}
	return out
}
