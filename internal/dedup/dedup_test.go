package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetMarksFirstSeen(t *testing.T) {
	s := NewMemorySet(time.Hour)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, first)

	again, err := s.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, again)

	other, err := s.MarkSeen(ctx, "evt-2")
	require.NoError(t, err)
	require.True(t, other)
}

func TestMemorySetUnmarkForgetsEventID(t *testing.T) {
	s := NewMemorySet(time.Hour)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, s.Unmark(ctx, "evt-1"))

	fresh, err := s.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, fresh)

	// Unmarking an unknown id is harmless.
	require.NoError(t, s.Unmark(ctx, "evt-unknown"))
}

func TestMemorySetEvictsPastRetentionHorizon(t *testing.T) {
	now := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	s := NewMemorySet(time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "evt-old")
	require.NoError(t, err)
	require.True(t, first)

	// Inside the retention window the event still counts as seen.
	now = now.Add(30 * time.Second)
	again, err := s.MarkSeen(ctx, "evt-old")
	require.NoError(t, err)
	require.False(t, again)

	// Past the horizon the entry is evicted and the id reads as fresh.
	now = now.Add(2 * time.Minute)
	fresh, err := s.MarkSeen(ctx, "evt-old")
	require.NoError(t, err)
	require.True(t, fresh)
}
