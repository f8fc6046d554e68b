package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const maxKeywords = 10

// fillFromMeta completes fields the winning method left empty.
func fillFromMeta(c *Content, doc *goquery.Document) {
	if c.Title == "" {
		c.Title = pickTitle(doc)
	}
	if c.Author == "" {
		c.Author = firstOf(doc, 100,
			`meta[name="author"]`, `meta[property="article:author"]`,
			`[itemprop="author"]`, `[rel="author"]`, ".author", ".byline")
	}
	if c.PublishDate == "" {
		c.PublishDate = firstOf(doc, 50,
			`meta[property="article:published_time"]`, `meta[name="date"]`,
			`[itemprop="datePublished"]`, "time[datetime]")
	}
	if c.Description == "" {
		for _, sel := range []string{
			`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="twitter:description"]`,
		} {
			d := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", ""))
			if n := utf8.RuneCountInString(d); n >= 50 && n <= 300 {
				c.Description = d
				break
			}
		}
	}
	if len(c.Keywords) == 0 {
		raw := doc.Find(`meta[name="keywords"]`).First().AttrOr("content", "")
		c.Keywords = limitKeywords(strings.Split(raw, ","))
	}
	if c.Language == "" {
		c.Language = doc.Find("html").First().AttrOr("lang", "")
	}
}

// primaryLanguage reduces a tag such as "en-US" to "en".
func primaryLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// firstOf returns the first non-empty value among selectors: the content or
// datetime attribute when present, otherwise the element text up to maxLen.
func firstOf(doc *goquery.Document, maxLen int, selectors ...string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		for _, attr := range []string{"content", "datetime"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		if t := strings.TrimSpace(s.Text()); t != "" && utf8.RuneCountInString(t) < maxLen {
			return t
		}
	}
	return ""
}

func limitKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// quality scores a candidate on length, structure, vocabulary and metadata.
func (e *Extractor) quality(c Content) float64 {
	if c.Content == "" {
		return 0
	}
	score := 0.0
	if n := utf8.RuneCountInString(c.Content); n >= e.cfg.MinLength {
		score += min(float64(n)/100, 30)
	}
	if utf8.RuneCountInString(c.Title) > 10 {
		score += 10
	}
	if sentences := len(reSentenceStart.FindAllStringIndex(c.Content, -1)); sentences > 5 {
		score += float64(min(sentences, 20))
	}
	words := reWord.FindAllString(strings.ToLower(c.Content), -1)
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		score += float64(len(unique)) / float64(len(words)) * 10
	}
	if c.Author != "" {
		score += 2
	}
	if c.PublishDate != "" {
		score += 2
	}
	if c.Description != "" {
		score += 3
	}
	if len(c.Keywords) > 0 {
		score += 3
	}
	return min(score, 100)
}
