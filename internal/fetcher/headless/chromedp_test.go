package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirect struct {
	referer string
	body    []byte
	err     error
}

func (s *stubDirect) Fetch(_ context.Context, _ string, referer string) ([]byte, error) {
	s.referer = referer
	return s.body, s.err
}

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return nil
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{}, nil, nil, nil)
	require.Error(t, err)

	_, err = NewChromedp(Config{ScrollStep: -1}, &stubDirect{}, nil, nil)
	require.Error(t, err)

	f, err := NewChromedp(Config{Headless: true}, &stubDirect{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	assert.Equal(t, DefaultUserAgent, f.cfg.UserAgent)
	assert.Equal(t, 45*time.Second, f.cfg.NavigationTimeout)
	assert.Equal(t, 10*time.Second, f.cfg.NetworkIdleTimeout)
	assert.Equal(t, 100, f.cfg.ScrollStep)
}

func TestScrollScript(t *testing.T) {
	t.Parallel()

	script := scrollScript(100, 100*time.Millisecond)
	assert.Contains(t, script, "window.scrollBy(0, 100)")
	assert.Contains(t, script, "}, 100);")
	assert.True(t, strings.HasPrefix(script, "new Promise"))
}

func TestCaptureStoresImageBodies(t *testing.T) {
	t.Parallel()

	c := newCapture(true, func(id network.RequestID) ([]byte, error) {
		if id == "bad" {
			return nil, errors.New("evicted")
		}
		return []byte("body-" + string(id)), nil
	})

	c.handle(&network.EventRequestWillBeSent{RequestID: "img"})
	c.handle(&network.EventRequestWillBeSent{RequestID: "doc"})
	c.handle(&network.EventRequestWillBeSent{RequestID: "bad"})
	c.handle(&network.EventResponseReceived{
		RequestID: "img",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://cdn.example/1.jpg"},
	})
	c.handle(&network.EventResponseReceived{
		RequestID: "doc",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{URL: "https://reader.example/"},
	})
	c.handle(&network.EventResponseReceived{
		RequestID: "bad",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://cdn.example/2.jpg"},
	})
	c.handle(&network.EventLoadingFinished{RequestID: "img"})
	c.handle(&network.EventLoadingFinished{RequestID: "doc"})
	c.handle(&network.EventLoadingFinished{RequestID: "bad"})

	require.NoError(t, c.waitBodies(context.Background(), time.Second))
	bodies := c.snapshot()
	assert.Equal(t, map[string][]byte{"https://cdn.example/1.jpg": []byte("body-img")}, bodies)
	assert.Equal(t, 1, c.count())
}

func TestCaptureIgnoresImagesWhenDisabled(t *testing.T) {
	t.Parallel()

	c := newCapture(false, func(network.RequestID) ([]byte, error) {
		t.Fatal("body fetched while capture disabled")
		return nil, nil
	})
	c.handle(&network.EventRequestWillBeSent{RequestID: "img"})
	c.handle(&network.EventResponseReceived{
		RequestID: "img",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://cdn.example/1.jpg"},
	})
	c.handle(&network.EventLoadingFinished{RequestID: "img"})
	require.NoError(t, c.waitBodies(context.Background(), time.Second))
	assert.Empty(t, c.snapshot())
}

func TestCaptureWaitBodiesWhileEventsArrive(t *testing.T) {
	t.Parallel()

	var fetched atomic.Int32
	c := newCapture(true, func(id network.RequestID) ([]byte, error) {
		fetched.Add(1)
		time.Sleep(time.Duration(len(id)%3) * time.Millisecond)
		return []byte(id), nil
	})

	feed := func(from, to int) {
		for i := from; i < to; i++ {
			id := network.RequestID(fmt.Sprintf("img-%d", i))
			c.handle(&network.EventResponseReceived{
				RequestID: id,
				Type:      network.ResourceTypeImage,
				Response:  &network.Response{URL: fmt.Sprintf("https://cdn.example/%d.jpg", i)},
			})
			c.handle(&network.EventLoadingFinished{RequestID: id})
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		feed(0, 2000)
	}()
	for i := 0; i < 200; i++ {
		_ = c.waitBodies(context.Background(), time.Millisecond)
	}
	<-done
	require.NoError(t, c.waitBodies(context.Background(), 5*time.Second))
	assert.Len(t, c.snapshot(), 2000)

	// Events after the snapshot start no new fetches.
	before := fetched.Load()
	feed(2000, 2100)
	require.NoError(t, c.waitBodies(context.Background(), time.Second))
	assert.Equal(t, before, fetched.Load())
	assert.Equal(t, 2000, c.count())
}

func TestCaptureWaitIdle(t *testing.T) {
	t.Parallel()

	c := newCapture(false, nil)
	c.handle(&network.EventRequestWillBeSent{RequestID: "slow"})

	// A request that never finishes hits the bound.
	start := time.Now()
	assert.False(t, c.waitIdle(context.Background(), 100*time.Millisecond, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	c.handle(&network.EventLoadingFailed{RequestID: "slow"})
	assert.True(t, c.waitIdle(context.Background(), time.Second, 20*time.Millisecond))
}

func TestPageHandle(t *testing.T) {
	t.Parallel()

	direct := &stubDirect{body: []byte("jpeg")}
	limiter := &countingLimiter{}
	closes := 0
	p := &page{
		url:     "https://reader.example/manga/a/chapter-1",
		html:    "<html></html>",
		bodies:  map[string][]byte{"https://cdn.example/1.jpg": []byte("captured")},
		direct:  direct,
		limiter: limiter,
		closeFn: func() error {
			closes++
			return nil
		},
	}

	b, ok := p.Captured("https://cdn.example/1.jpg")
	assert.True(t, ok)
	assert.Equal(t, []byte("captured"), b)
	_, ok = p.Captured("https://cdn.example/2.jpg")
	assert.False(t, ok)

	body, err := p.FetchBytes(context.Background(), "https://cdn.example/2.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), body)
	assert.Equal(t, p.url, direct.referer)
	assert.Equal(t, int32(1), limiter.calls.Load())

	direct.err = errors.New("forbidden")
	_, err = p.FetchBytes(context.Background(), "https://cdn.example/3.jpg")
	require.Error(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, closes)
}
