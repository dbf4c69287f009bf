package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

func TestPublisherStoresPayloads(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	require.NoError(t, pub.Send(ctx, crawler.NewPayload("t", "r10", []crawler.EnrichedItem{{Key: "r10:1"}, {Key: "r10:2"}})))
	require.NoError(t, pub.Send(ctx, crawler.NewPayload("t", "bhw", []crawler.EnrichedItem{{Key: "bhw:1"}})))

	payloads := pub.Payloads()
	require.Len(t, payloads, 2)
	require.Equal(t, "r10", payloads[0].Source)
	require.Equal(t, 3, pub.Items())

	payloads[0].Source = "modified"
	require.Equal(t, "r10", pub.Payloads()[0].Source, "Payloads returns a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("down")
	pub.FailWith(boom)
	require.ErrorIs(t, pub.Send(context.Background(), crawler.Payload{}), boom)
	require.Empty(t, pub.Payloads())

	pub.FailWith(nil)
	require.NoError(t, pub.Send(context.Background(), crawler.Payload{}))
}
