package dedup

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock/manual"
	"github.com/JakeFAU/corpus-crawler/internal/store/sqlite"
)

const article = `Drinking a glass of water first thing in the morning helps you wake up.
Keep a bottle on your desk so you remember to sip during the day, and refill it
at lunch. Herbal tea counts too, but sugary drinks do not.`

const unrelated = `Sharpen kitchen knives on a whetstone at a twenty degree angle,
alternating sides every few strokes until a burr forms along the whole edge.`

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func allTiers() Config {
	return Config{SimilarityThreshold: 0.05, ExactEnabled: true, SimhashEnabled: true, EmbeddingEnabled: true}
}

func TestExactHashIsDeterministic(t *testing.T) {
	t.Parallel()
	require.Equal(t, ExactHash("Hello,   World!"), ExactHash("hello world"))
	require.Equal(t, ExactHash(article), ExactHash(article))
	require.NotEqual(t, ExactHash(article), ExactHash(unrelated))
	require.Equal(t, "hello world", NormalizeText("  Hello,\n\tWorld!  "))
}

func TestSimhashSimilarity(t *testing.T) {
	t.Parallel()
	a := Simhash(article)
	require.Equal(t, a, Simhash(article))
	require.InDelta(t, 1.0, SimhashSimilarity(a, a), 1e-9)

	b := Simhash(unrelated)
	require.Equal(t, SimhashSimilarity(a, b), SimhashSimilarity(b, a))
	require.Less(t, SimhashSimilarity(a, b), 0.95)
	require.Zero(t, Simhash("   "))

	parsed, err := ParseSimhash(FormatSimhash(a))
	require.NoError(t, err)
	require.Equal(t, a, parsed)
	require.Len(t, FormatSimhash(1), 16)
}

func TestSimhashSimilarityDropsWithDistance(t *testing.T) {
	t.Parallel()
	base := uint64(0)
	prev := 1.0
	for flipped := 1; flipped <= 64; flipped++ {
		other := base
		for b := 0; b < flipped; b++ {
			other |= 1 << uint(b)
		}
		s := SimhashSimilarity(base, other)
		require.Less(t, s, prev)
		prev = s
	}
	require.Zero(t, prev)
}

func TestHashingEmbedder(t *testing.T) {
	t.Parallel()
	e := NewHashingEmbedder(64, 10)
	ctx := context.Background()

	v, err := e.Embed(ctx, article)
	require.NoError(t, err)
	require.Len(t, v, 64)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	again, err := e.Embed(ctx, article)
	require.NoError(t, err)
	require.Equal(t, v, again)

	empty, err := e.Embed(ctx, "")
	require.NoError(t, err)
	require.Equal(t, make([]float32, 64), empty)
}

func TestFlatIndex(t *testing.T) {
	t.Parallel()
	x := NewFlatIndex(2)
	_, _, ok := x.Search([]float32{1, 0})
	require.False(t, ok)

	require.NoError(t, x.Add("east", []float32{1, 0}))
	require.NoError(t, x.Add("north", []float32{0, 1}))
	require.Error(t, x.Add("bad", []float32{1}))

	id, score, ok := x.Search([]float32{0.6, 0.8})
	require.True(t, ok)
	require.Equal(t, "north", id)
	require.InDelta(t, 0.8, score, 1e-6)

	x.Reset()
	require.Zero(t, x.Len())
}

func TestDetectorTiers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := manual.New(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		cfg  Config
		tier Tier
	}{
		{"exact", allTiers(), TierExact},
		{"simhash", Config{SimhashEnabled: true}, TierSimhash},
		{"embedding", Config{EmbeddingEnabled: true}, TierEmbedding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := NewDetector(openStore(t), NewHashingEmbedder(128, 512), clk, zap.NewNop(), tc.cfg)

			res, err := d.Check(ctx, "doc-a", article)
			require.NoError(t, err)
			require.False(t, res.IsDuplicate)
			require.NoError(t, d.Add(ctx, "doc-a", article))

			res, err = d.Check(ctx, "doc-b", article)
			require.NoError(t, err)
			require.True(t, res.IsDuplicate)
			require.Equal(t, tc.tier, res.Tier)
			require.Equal(t, "doc-a", res.MatchedDocID)
			require.GreaterOrEqual(t, res.Similarity, 0.95)

			res, err = d.Check(ctx, "doc-c", unrelated)
			require.NoError(t, err)
			require.False(t, res.IsDuplicate)

			stats := d.Stats()
			require.Equal(t, int64(3), stats.TotalChecks)
			require.Equal(t, int64(1), stats.UniqueDocuments)
			require.InDelta(t, 1.0/3, stats.DuplicateRate, 1e-9)
		})
	}
}

func TestDetectorExactIgnoresFormatting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDetector(openStore(t), nil, manual.New(time.Now()), nil, allTiers())
	require.NoError(t, d.Add(ctx, "doc-a", "Stay hydrated: drink water!"))

	res, err := d.Check(ctx, "doc-b", "stay   hydrated drink WATER")
	require.NoError(t, err)
	require.Equal(t, TierExact, res.Tier)
}

func TestDetectorSimhashWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{SimhashEnabled: true, SimhashWindow: 1}
	d := NewDetector(openStore(t), nil, manual.New(time.Now()), nil, cfg)

	require.NoError(t, d.Add(ctx, "doc-a", article))
	require.NoError(t, d.Add(ctx, "doc-b", unrelated))

	res, err := d.Check(ctx, "doc-c", article)
	require.NoError(t, err)
	require.False(t, res.IsDuplicate, "fingerprints outside the window are not compared")
}

func TestDetectorLoadAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	clk := manual.New(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	first := NewDetector(st, nil, clk, nil, allTiers())
	require.NoError(t, first.Add(ctx, "doc-a", article))
	require.NoError(t, first.Add(ctx, "doc-a", article))

	restarted := NewDetector(st, nil, clk, nil, allTiers())
	n, err := restarted.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, restarted.Stats().IndexedVectors)

	cfg := Config{EmbeddingEnabled: true}
	semantic := NewDetector(st, nil, clk, nil, cfg)
	_, err = semantic.Load(ctx)
	require.NoError(t, err)
	res, err := semantic.Check(ctx, "doc-b", article)
	require.NoError(t, err)
	require.Equal(t, TierEmbedding, res.Tier)

	clk.Advance(40 * 24 * time.Hour)
	deleted, err := restarted.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
	require.Zero(t, restarted.Stats().IndexedVectors)

	res, err = restarted.Check(ctx, "doc-b", article)
	require.NoError(t, err)
	require.False(t, res.IsDuplicate)
}
