package classify

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const panTip = "Soak the pan in warm water with a spoon of baking soda for twenty minutes. " +
	"Scrub gently with a soft sponge and rinse well before drying it on a rack. " +
	"Repeat once a week to keep the surface clean and free of stubborn residue."

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(Config{
		Allowed: []string{"cleaning_techniques", "cooking_techniques"},
		Keywords: map[string][]string{
			"cleaning_techniques": {"Baking Soda", "vinegar"},
			"cooking_techniques":  {"oven"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestClassifyPicksBestTopic(t *testing.T) {
	c := newTestClassifier(t)
	res := c.Classify("", panTip)

	require.True(t, res.IsAllowed, "rejected: %s", res.RejectionReason)
	require.Equal(t, "cleaning_techniques", res.Topic)
	require.Equal(t, "sanitation_methods", res.Subdomain)
	require.Equal(t, []string{"baking soda", "clean", "residue", "scrub"}, res.MatchedKeywords)

	wantScore := 7 / math.Log(45)
	require.InDelta(t, wantScore, res.RuleScore, 1e-9)
	require.InDelta(t, wantScore/5, res.Confidence, 1e-9)
}

func TestClassifyRejections(t *testing.T) {
	c := newTestClassifier(t)

	cases := []struct {
		name    string
		content string
		reason  string
	}{
		{"empty", "  ", ReasonEmptyContent},
		{"no match", "The quarterly figures arrived on Tuesday afternoon.", ReasonNoMatch},
		{"excluded", panTip + " Read the latest news about it.", ReasonExcluded},
		{"promotional", panTip + " Buy it. Click here. Visit the website. Order today for a discount deal.", ReasonLowQuality},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := c.Classify("", tc.content)
			require.False(t, res.IsAllowed)
			require.Empty(t, res.Topic)
			require.Equal(t, tc.reason, res.RejectionReason)
		})
	}

	counts := c.Rejections()
	require.Equal(t, int64(1), counts[ReasonExcluded])
	require.Equal(t, int64(1), counts[ReasonLowQuality])
	require.Len(t, counts, 4)
}

func TestClassifyLowConfidence(t *testing.T) {
	c, err := New(Config{
		Allowed:  []string{"widgets"},
		Patterns: map[string][]string{"widgets": {`(?i)\bwidget\b`}},
	})
	require.NoError(t, err)

	content := "widget " + strings.Repeat("filler ", 100)
	res := c.Classify("", content)
	require.False(t, res.IsAllowed)
	require.Equal(t, "low_confidence_0.04", res.RejectionReason)
	require.Equal(t, "widgets", res.Subdomain)
}

func TestClassifyRepetitiveContentIsLowQuality(t *testing.T) {
	c := newTestClassifier(t)
	spam := strings.Repeat("Scrub the stain with soap and clean the residue well. ", 6)
	res := c.Classify("", spam)
	require.Equal(t, ReasonLowQuality, res.RejectionReason)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Config{
		Allowed:  []string{"broken"},
		Patterns: map[string][]string{"broken": {`(unclosed`}},
	})
	require.Error(t, err)
}

func TestAllowed(t *testing.T) {
	c := newTestClassifier(t)
	require.True(t, c.Allowed("cooking_techniques"))
	require.False(t, c.Allowed("politics"))
}
