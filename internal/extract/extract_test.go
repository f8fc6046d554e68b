package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const articleParagraphs = `
<p>Soak the pan in warm water with a spoon of baking soda for twenty minutes before you start.</p>
<p>Scrub gently with a soft sponge and rinse well before drying it on a rack near the window.</p>
<p>Repeat once a week to keep the surface clean and free of stubborn residue and old grease.</p>
<p>A little white vinegar on a cloth lifts the last cloudy marks without scratching the coating.</p>
`

const articlePage = `<!DOCTYPE html>
<html lang="en-US">
<head>
<title>How to Clean a Burnt Pan | Home Tips</title>
<meta name="author" content="Sam Rivera">
<meta name="description" content="A simple routine for rescuing burnt pans with baking soda, vinegar and a soft sponge.">
<meta name="keywords" content="cleaning, kitchen, Cleaning, pans">
<meta property="article:published_time" content="2024-03-05">
</head>
<body>
<header><a href="/">Home</a></header>
<nav><a href="/a">Tips</a> <a href="/b">Recipes</a> <a href="/c">About us and our friends</a></nav>
<article class="post-content">
<h1 class="entry-title">How to Clean a Burnt Pan</h1>
` + articleParagraphs + `
</article>
<footer>Copyright notice and many more links for everyone to read.</footer>
</body>
</html>`

func newTestExtractor() *Extractor {
	return New(Config{MinLength: 200}, zap.NewNop())
}

func TestExtractArticle(t *testing.T) {
	got := newTestExtractor().Extract("https://tips.example/pan", []byte(articlePage), "text/html; charset=utf-8")

	require.False(t, got.Failed())
	require.Contains(t, []string{MethodTrafilatura, MethodHeuristic}, got.Method)
	require.Contains(t, got.Content, "baking soda")
	require.Contains(t, got.Content, "white vinegar")
	require.NotContains(t, got.Content, "Recipes")
	require.NotEmpty(t, got.Title)
	require.Equal(t, "Sam Rivera", got.Author)
	require.Equal(t, "en", got.Language)
	require.NotEmpty(t, got.PublishDate)
	require.Positive(t, got.QualityScore)
	require.Positive(t, got.WordCount)
	require.Equal(t, 1, got.ReadingTime)
}

func TestExtractFailsOnUnusableInput(t *testing.T) {
	e := newTestExtractor()

	short := e.Extract("https://x.example/", []byte("<html><body>hi</body></html>"), "text/html")
	require.Equal(t, MethodFailed, short.Method)
	require.Empty(t, short.Content)

	junk := e.Extract("https://x.example/", []byte(strings.Repeat("<<<>>>", 25)), "text/html")
	require.True(t, junk.Failed())
	require.Equal(t, MethodFailed, junk.Method)
}

func TestHeuristicPicksContentBlock(t *testing.T) {
	got, ok := newTestExtractor().fromHeuristic(articlePage)
	require.True(t, ok)
	require.Equal(t, MethodHeuristic, got.Method)
	require.Equal(t, "How to Clean a Burnt Pan", got.Title)
	require.True(t, strings.HasPrefix(got.Content, "Soak the pan"))
	require.Equal(t, 3, strings.Count(got.Content, "\n\n"))
	require.NotContains(t, got.Content, "Copyright")
}

func TestFillFromMeta(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articlePage))
	require.NoError(t, err)

	var c Content
	fillFromMeta(&c, doc)
	require.Equal(t, "Sam Rivera", c.Author)
	require.Equal(t, "2024-03-05", c.PublishDate)
	require.True(t, strings.HasPrefix(c.Description, "A simple routine"))
	require.Equal(t, []string{"cleaning", "kitchen", "pans"}, c.Keywords)
	require.Equal(t, "en-US", c.Language)
	require.Equal(t, "en", primaryLanguage(c.Language))
}

func TestDecodeLatin1(t *testing.T) {
	body := []byte("<html><body>caf\xe9 cr\xe8me</body></html>")
	require.Equal(t, "<html><body>café crème</body></html>", decode(body, "text/html; charset=iso-8859-1"))
}

func TestTidy(t *testing.T) {
	in := "  Line one  \t here!!!\r\n\r\n\r\n\n  Line two ...  "
	require.Equal(t, "Line one here!\n\nLine two .", tidy(in))
}

func TestQualityRewardsMetadata(t *testing.T) {
	e := newTestExtractor()
	base := Content{Content: strings.Repeat("Plain words repeat often here. ", 10)}
	rich := base
	rich.Title = "A descriptive headline"
	rich.Author = "Sam"
	rich.Keywords = []string{"tips"}
	require.Greater(t, e.quality(rich), e.quality(base))
	require.Zero(t, e.quality(Content{}))
}
