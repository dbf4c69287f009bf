package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/forum-lead-crawler/internal/classify"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ledger.Backend != BackendLocal || cfg.Ledger.Path != "state.json" {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.Ledger.MaxAttempts != 3 || cfg.Ledger.PruneLimit != 50_000 {
		t.Fatalf("unexpected ledger caps: %+v", cfg.Ledger)
	}
	if cfg.Enrich.Concurrency != 4 || cfg.Enrich.Politeness != 350*time.Millisecond {
		t.Fatalf("unexpected enrich defaults: %+v", cfg.Enrich)
	}
	if cfg.Delivery.Timeout != 25*time.Second || cfg.Delivery.Attempts != 2 {
		t.Fatalf("unexpected delivery defaults: %+v", cfg.Delivery)
	}
	if cfg.Classify.High != 3 || cfg.Classify.Weights.StrongDemand != 3 {
		t.Fatalf("unexpected classify defaults: %+v", cfg.Classify)
	}

	sources, err := cfg.BuildSources()
	if err != nil {
		t.Fatalf("BuildSources() error = %v", err)
	}
	tags := make([]string, 0, len(sources))
	for _, s := range sources {
		tags = append(tags, s.Tag)
		if s.Limit != 200 {
			t.Fatalf("expected default limit 200 for %s, got %d", s.Tag, s.Limit)
		}
	}
	if strings.Join(tags, ",") != "r10,wmaraci,bhw" {
		t.Fatalf("unexpected default sources %v", tags)
	}
	wm := sources[1]
	optional := 0
	for _, st := range wm.Strategies {
		if l, ok := st.(crawler.Listing); ok && l.Optional {
			optional++
		}
	}
	if optional != 2 {
		t.Fatalf("expected 2 optional wmaraci listings, got %d", optional)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: true
ledger:
  backend: redis
  redis:
    addr: localhost:6379
enrich:
  concurrency: 8
  politeness: 1s
delivery:
  transport: kafka
  token: secret
  kafka:
    brokers: ["localhost:9092"]
    topic: leads
classify:
  high: 4
  label_override: false
sources:
  - tag: demo
    hosts: [forum.example.com]
    thread_patterns: ['^/t/[0-9]+']
    id_rules:
      - path: '^/t/([0-9]+)'
    limit: 25
    feeds:
      - name: rss
        url: https://forum.example.com/feed.xml
    sitemaps:
      - name: sm
        url: https://forum.example.com/sitemap.xml
        max_depth: 2
    content:
      selectors: [".post-body"]
      min_length: 40
  - tag: paused
    disabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Logging.Development || cfg.Ledger.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected overrides to apply: %+v", cfg)
	}
	if cfg.Enrich.Concurrency != 8 || cfg.Enrich.Politeness != time.Second {
		t.Fatalf("unexpected enrich config: %+v", cfg.Enrich)
	}
	if err := cfg.ValidateDelivery(); err != nil {
		t.Fatalf("ValidateDelivery() error = %v", err)
	}

	policy := cfg.Policy()
	if policy.High != 4 || policy.LabelOverride {
		t.Fatalf("unexpected policy: %+v", policy)
	}

	sources, err := cfg.BuildSources()
	if err != nil {
		t.Fatalf("BuildSources() error = %v", err)
	}
	if len(sources) != 1 || sources[0].Tag != "demo" {
		t.Fatalf("expected only the enabled source, got %+v", sources)
	}
	demo := sources[0]
	if demo.Limit != 25 || len(demo.Strategies) != 2 || demo.Content.MinLength != 40 {
		t.Fatalf("unexpected source: %+v", demo)
	}
	if sm, ok := demo.Strategies[1].(crawler.Sitemap); !ok || sm.MaxDepth != 2 {
		t.Fatalf("expected sitemap strategy, got %#v", demo.Strategies[1])
	}

	keys, err := cfg.Canonicalizer()
	if err != nil {
		t.Fatalf("Canonicalizer() error = %v", err)
	}
	key, err := keys.Key("demo", "https://forum.example.com/t/42?page=2")
	if err != nil || key != "demo:42" {
		t.Fatalf("expected demo:42, got %q (%v)", key, err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
sources:
  - tag: bad
    thread_patterns: ['(']
    listings:
      - url: https://example.com/
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "thread pattern") {
		t.Fatalf("expected thread pattern error, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEADCRAWLER_DELIVERY_TOKEN", "from-env")
	t.Setenv("LEADCRAWLER_DELIVERY_WEBHOOK_URL", "https://hooks.example.com/leads")
	t.Setenv("LEADCRAWLER_ENRICH_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Delivery.Token != "from-env" || cfg.Enrich.Concurrency != 2 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if err := cfg.ValidateDelivery(); err != nil {
		t.Fatalf("ValidateDelivery() error = %v", err)
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := validConfig(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Enrich.Concurrency = 0 }, "enrich.concurrency"},
		{"invalid timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"thresholds inverted", func(c *Config) { c.Classify.High = -5 }, "classify.high"},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "etcd" }, "ledger.backend"},
		{"gcs without bucket", func(c *Config) { c.Ledger.Backend = BackendGCS }, "ledger.gcs.bucket"},
		{"no enabled sources", func(c *Config) {
			c.Sources = []SourceConfig{{Tag: "x", Disabled: true}}
		}, "at least one source"},
		{"bad id rule", func(c *Config) {
			c.Sources = append([]SourceConfig(nil), c.Sources...)
			c.Sources[0].IDRules = []IDRuleConfig{{Path: "no-group"}}
		}, "capture group"},
		{"bad classify rule", func(c *Config) {
			c.Classify.Rules = []classify.RuleSpec{{Name: "x", Pattern: "y", Category: "both", Strength: "strong"}}
		}, "unknown category"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateDelivery(t *testing.T) {
	t.Parallel()

	base := validConfig(t)

	tests := []struct {
		name   string
		mutate func(*DeliveryConfig)
		want   string
	}{
		{"missing token", func(d *DeliveryConfig) { d.Webhook.URL = "https://x" }, "delivery.token"},
		{"webhook without url", func(d *DeliveryConfig) { d.Token = "t" }, "delivery.webhook.url"},
		{"pubsub without topic", func(d *DeliveryConfig) {
			d.Token = "t"
			d.Transport = TransportPubSub
			d.PubSub.ProjectID = "p"
		}, "delivery.pubsub"},
		{"unknown transport", func(d *DeliveryConfig) {
			d.Token = "t"
			d.Transport = "smtp"
		}, "delivery.transport"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg.Delivery)
			err := cfg.ValidateDelivery()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := base
	cfg.Delivery.Transport = TransportMemory
	if err := cfg.ValidateDelivery(); err != nil {
		t.Fatalf("memory transport needs no token: %v", err)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "enrich:\n  concurrency: 2\n")
	changes := make(chan Config, 4)
	cfg, err := Watch(path, nil, func(c Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if cfg.Enrich.Concurrency != 2 {
		t.Fatalf("expected initial concurrency 2, got %d", cfg.Enrich.Concurrency)
	}

	if err := os.WriteFile(path, []byte("enrich:\n  concurrency: 6\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case next := <-changes:
		if next.Enrich.Concurrency != 6 {
			t.Fatalf("expected reloaded concurrency 6, got %d", next.Enrich.Concurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("config change not observed")
	}
}
