package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "form",
	"nav", "aside", "footer", "header",
	`[class*="sidebar"]`, `[id*="sidebar"]`,
	`[class*="comment"]`, `[id*="comment"]`,
	`[class*="share"]`, `[class*="social"]`,
	`[class*="related"]`, `[class*="popup"]`, `[class*="modal"]`,
	`[class*="advert"]`, `[id*="advert"]`,
	`[class*="menu"]`, `[id*="menu"]`,
}, ", ")

var contentSelectors = []string{
	"article",
	`[role="main"]`,
	"main",
	".article-content", ".entry-content", ".post-content",
	".content", "#content",
	".article-body", ".story-body",
	`[class*="article"][class*="body"]`,
	`[class*="post"][class*="body"]`,
}

var titleSelectors = []string{
	`h1[class*="title"]`,
	`h1[class*="headline"]`,
	".article-title", ".entry-title", ".post-title",
	"h1",
	"title",
}

const blockSelector = "p, h2, h3, h4, h5, h6, li, blockquote, pre"

var reSentenceStart = regexp.MustCompile(`[.!?]+\s+[A-Z]`)

// fromHeuristic strips page chrome and keeps the densest content block.
func (e *Extractor) fromHeuristic(html string) (Content, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Content{}, false
	}
	title := pickTitle(doc)
	doc.Find(noiseSelectors).Remove()

	var best *goquery.Selection
	bestScore := 0.0
	consider := func(_ int, s *goquery.Selection) {
		if score := scoreBlock(s); score > bestScore {
			best, bestScore = s, score
		}
	}
	for _, sel := range contentSelectors {
		doc.Find(sel).Each(consider)
	}
	if best == nil {
		doc.Find("div, section").Each(consider)
	}
	if best == nil {
		return Content{}, false
	}

	text := blockText(best)
	if utf8.RuneCountInString(text) < e.cfg.MinLength {
		return Content{}, false
	}
	return Content{Title: title, Content: text, Method: MethodHeuristic}, true
}

func pickTitle(doc *goquery.Document) string {
	if og := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); og != "" {
		return og
	}
	for _, sel := range titleSelectors {
		t := strings.TrimSpace(doc.Find(sel).First().Text())
		if utf8.RuneCountInString(t) > 10 {
			return t
		}
	}
	return ""
}

// scoreBlock rewards long, paragraph-rich, sentence-rich blocks and
// penalises link farms.
func scoreBlock(s *goquery.Selection) float64 {
	text := strings.TrimSpace(s.Text())
	if text == "" {
		return 0
	}
	paragraphs := s.Find("p").Length()
	score := min(float64(utf8.RuneCountInString(text))/1000, 10)
	score += min(float64(paragraphs)*0.5, 5)
	score += min(float64(len(reSentenceStart.FindAllStringIndex(text, -1)))*0.1, 3)
	score += min(float64(len(reWord.FindAllStringIndex(text, -1)))/100, 5)

	linkRatio := float64(s.Find("a").Length()) / float64(max(paragraphs, 1))
	if linkRatio > 0.3 {
		score -= linkRatio * 2
	}
	switch goquery.NodeName(s) {
	case "article", "section", "main":
		score += 2
	}
	class := strings.ToLower(s.AttrOr("class", ""))
	for _, hint := range []string{"content", "article", "post", "entry", "story"} {
		if strings.Contains(class, hint) {
			score++
			break
		}
	}
	return max(score, 0)
}

// blockText joins the block-level children with blank lines, falling back to
// the raw text when the block has no structure.
func blockText(s *goquery.Selection) string {
	var parts []string
	s.Find(blockSelector).Each(func(_ int, b *goquery.Selection) {
		if b.Find(blockSelector).Length() > 0 {
			return
		}
		if t := strings.Join(strings.Fields(b.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.Join(strings.Fields(s.Text()), " ")
	}
	return strings.Join(parts, "\n\n")
}
