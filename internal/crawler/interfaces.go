package crawler

import (
	"context"
	"time"
)

// HTMLFetcher fetches a URL and returns the body plus metadata.
type HTMLFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// PageFetcher fetches a thread page and extracts its readable content.
type PageFetcher interface {
	FetchContent(ctx context.Context, url string, spec ExtractionSpec) (Content, error)
}

// Sender delivers one payload to the downstream consumer.
type Sender interface {
	Send(ctx context.Context, payload Payload) error
}

// Pauser blocks for a politeness delay or until the context ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
