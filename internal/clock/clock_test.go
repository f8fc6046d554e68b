package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/clock/manual"
)

func TestWallIsUTC(t *testing.T) {
	t.Parallel()
	before := time.Now().Add(-time.Second)
	got := clock.Wall.Now()
	require.Equal(t, time.UTC, got.Location())
	require.WithinRange(t, got, before, time.Now().Add(time.Second))
}

func TestUntil(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := manual.New(start)

	require.Equal(t, 90*time.Second, clock.Until(clk, start.Add(90*time.Second)))
	clk.Advance(2 * time.Minute)
	require.Zero(t, clock.Until(clk, start.Add(90*time.Second)))
}
