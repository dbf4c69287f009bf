package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeenSet(t *testing.T) {
	var seen SeenSet
	require.True(t, seen.MarkIfNew("bhw:101"))
	require.False(t, seen.MarkIfNew("bhw:101"))
	require.True(t, seen.MarkIfNew("bhw:102"))
	require.False(t, seen.MarkIfNew(""))
}

func TestHostBlocker(t *testing.T) {
	blocker := NewHostBlocker(2)
	require.False(t, blocker.IsBlocked("www.r10.net"))
	require.False(t, blocker.MarkForbidden("www.r10.net"))
	require.True(t, blocker.MarkForbidden("www.r10.net"))
	require.True(t, blocker.IsBlocked("WWW.R10.NET"), "host comparison should be case-insensitive")

	var nilBlocker *HostBlocker
	require.False(t, nilBlocker.IsBlocked("www.r10.net"))
}

func TestTimerPauserHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	TimerPauser{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}
