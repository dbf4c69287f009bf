// Package webhook delivers lead payloads as JSON over HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 25 * time.Second

// ErrNotConfigured is returned when the URL or token is missing.
var ErrNotConfigured = errors.New("webhook url and token are required")

// StatusError reports a non-2xx response from the consumer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Config configures the sender.
type Config struct {
	URL       string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// Sender implements crawler.Sender.
type Sender struct {
	cfg    Config
	client *http.Client
}

// New validates cfg and builds a Sender. client may be nil.
func New(cfg Config, client *http.Client) (*Sender, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sender{cfg: cfg, client: client}, nil
}

// Send posts the payload. Client errors other than 408 and 429 are
// permanent; the consumer will not accept the same body on a retry.
func (s *Sender) Send(ctx context.Context, payload crawler.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return crawler.Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return crawler.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return crawler.Permanent(statusErr)
	}
	return statusErr
}
