package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.limiter))
}

func TestFetcherTimeoutDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, 45*time.Second, fetcher.navTimeout())
	require.Equal(t, 10*time.Second, fetcher.waitTimeout())

	fetcher.cfg.NavigationTimeout = time.Second
	fetcher.cfg.WaitTimeout = 2 * time.Second
	require.Equal(t, time.Second, fetcher.navTimeout())
	require.Equal(t, 2*time.Second, fetcher.waitTimeout())
}

func TestWaitSelector(t *testing.T) {
	t.Parallel()

	require.Empty(t, waitSelector(nil))
	require.Equal(t, ".structItem-title a, a.thread-link", waitSelector([]string{" .structItem-title a ", "", "a.thread-link"}))
}

func TestRequestHeadersAddsAcceptLanguage(t *testing.T) {
	t.Parallel()

	f := &Fetcher{cfg: Config{AcceptLanguage: "tr-TR"}}
	h := f.requestHeaders(nil)
	require.Equal(t, "tr-TR", h.Get("Accept-Language"))

	src := http.Header{"Accept-Language": {"en-US"}}
	h = f.requestHeaders(src)
	require.Equal(t, "en-US", h.Get("Accept-Language"), "explicit request headers win")

	f.cfg.AcceptLanguage = ""
	require.Nil(t, f.requestHeaders(nil))
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	require.Len(t, src["X-Test"], 2, "source header mutated")

	netHeaders := toNetworkHeaders(src)
	v, ok := netHeaders["X-Test"].([]string)
	require.True(t, ok)
	require.Len(t, v, 2)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://www.r10.net/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 203, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://www.r10.net/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)
}

func TestNoopFetcherIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{})
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, crawler.NewExponentialRetryPolicy().ShouldRetry(err, 1))
}
