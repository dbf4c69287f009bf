package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

func TestNewRequiresURLAndToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "https://hooks.test/leads"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = New(Config{Token: "x"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	s, err := New(Config{URL: "https://hooks.test/leads", Token: "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, s.client.Timeout)
}

func TestSendPostsJSON(t *testing.T) {
	t.Parallel()

	var got crawler.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s, err := New(Config{URL: srv.URL, Token: "secret"}, srv.Client())
	require.NoError(t, err)

	payload := crawler.NewPayload("secret", "wmaraci", []crawler.EnrichedItem{
		{Key: "wmaraci:1", Title: "Site yaptırılacak", URL: "https://wmaraci.com/forum/a-1.html", Content: "içerik", Score: 7},
	})
	require.NoError(t, s.Send(context.Background(), payload))
	assert.Equal(t, "external_crawl", got.Type)
	assert.Equal(t, "secret", got.Token)
	require.Len(t, got.Data, 1)
	require.NotNil(t, got.Data[0].Score)
	assert.InDelta(t, 7.0, *got.Data[0].Score, 1e-9)
}

func TestSendClassifiesStatus(t *testing.T) {
	t.Parallel()

	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("invalid token"))
	}))
	t.Cleanup(srv.Close)

	s, err := New(Config{URL: srv.URL, Token: "secret"}, srv.Client())
	require.NoError(t, err)
	policy := crawler.RetryPolicy{MaxAttempts: 2}

	err = s.Send(context.Background(), crawler.Payload{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "invalid token", statusErr.Body)
	assert.False(t, policy.ShouldRetry(err, 1))

	status = http.StatusBadGateway
	err = s.Send(context.Background(), crawler.Payload{})
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, policy.ShouldRetry(err, 1))
}

func TestSendHonorsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	s, err := New(Config{URL: srv.URL, Token: "secret", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.Error(t, s.Send(context.Background(), crawler.Payload{}))
}
