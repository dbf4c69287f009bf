package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
)

var robotsRetryPolicy = crawler.RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    time.Second,
}

// robotsFallbackTransport retries robots.txt fetches on transient network
// errors and answers allow-all when they keep failing. Other requests pass
// straight through.
type robotsFallbackTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *robotsFallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func (t *robotsFallbackTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := crawler.Retry(req.Context(), robotsRetryPolicy, nil, func(ctx context.Context) (*http.Response, error) {
		resp, err := t.base.RoundTrip(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		if !isTransientNetError(err) {
			return nil, crawler.Permanent(err)
		}
		return nil, err
	})
	if err == nil {
		return resp, nil
	}
	if req.Context().Err() != nil || !isTransientNetError(err) {
		return nil, fmt.Errorf("robots roundtrip: %w", err)
	}
	if t.logger != nil {
		t.logger.Warn("robots.txt unreachable, allowing all",
			zap.String("host", req.URL.Host), zap.Error(err))
	}
	metrics.ObserveRobotsFallback()
	return syntheticRobotsAllowAllResponse(req), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
