// Package extract pulls the main article text and its metadata out of HTML.
package extract

import (
	"bytes"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// Extraction methods reported in Content.Method.
const (
	MethodTrafilatura = "trafilatura"
	MethodHeuristic   = "heuristic"
	MethodFailed      = "failed"
)

// minHTMLBytes is the smallest body worth parsing.
const minHTMLBytes = 100

// Content is what was extracted from one page.
type Content struct {
	Title        string
	Content      string
	Author       string
	PublishDate  string
	Description  string
	Keywords     []string
	Language     string
	WordCount    int
	ReadingTime  int
	QualityScore float64
	Method       string
}

// Failed reports whether no method produced text.
func (c Content) Failed() bool {
	return c.Method == MethodFailed || c.Content == ""
}

// Config tunes extraction.
type Config struct {
	// MinLength is the shortest text a method may return.
	MinLength int
}

// Extractor runs trafilatura and a DOM heuristic and keeps the better result.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

var (
	reSpaces   = regexp.MustCompile(`[ \t\f\v]+`)
	reNewlines = regexp.MustCompile(`\n\s*\n\s*\n+`)
	rePunctRun = regexp.MustCompile(`([.!?])[.!?]+`)
	reWord     = regexp.MustCompile(`\w+`)
)

// Extract never fails: unusable input yields Method "failed" and no text.
// contentType is used to pick the body's character set.
func (e *Extractor) Extract(pageURL string, body []byte, contentType string) Content {
	if len(bytes.TrimSpace(body)) < minHTMLBytes {
		return Content{Method: MethodFailed}
	}
	html := decode(body, contentType)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Debug("parse html", zap.String("url", pageURL), zap.Error(err))
		doc = nil
	}

	var candidates []Content
	if c, ok := e.fromTrafilatura(pageURL, html); ok {
		candidates = append(candidates, c)
	}
	if c, ok := e.fromHeuristic(html); ok {
		candidates = append(candidates, c)
	}

	best := Content{Method: MethodFailed}
	for _, c := range candidates {
		c.QualityScore = e.quality(c)
		if best.Method == MethodFailed || c.QualityScore > best.QualityScore {
			best = c
		}
	}
	if best.Method == MethodFailed {
		e.logger.Debug("no extraction method succeeded", zap.String("url", pageURL))
		return best
	}

	if doc != nil {
		fillFromMeta(&best, doc)
	}
	best.Content = tidy(best.Content)
	best.Title = tidy(best.Title)
	best.Language = primaryLanguage(best.Language)
	if best.Language == "" {
		best.Language = detectLanguage(best.Content)
	}
	best.WordCount = len(reWord.FindAllString(best.Content, -1))
	best.ReadingTime = max(1, best.WordCount/200)
	return best
}

func (e *Extractor) fromTrafilatura(pageURL, html string) (Content, bool) {
	opts := trafilatura.Options{ExcludeComments: true}
	if u, err := url.Parse(pageURL); err == nil {
		opts.OriginalURL = u
	}
	res, err := trafilatura.Extract(strings.NewReader(html), opts)
	if err != nil || res == nil {
		if err != nil {
			e.logger.Debug("trafilatura extract", zap.String("url", pageURL), zap.Error(err))
		}
		return Content{}, false
	}
	text := strings.TrimSpace(res.ContentText)
	if len([]rune(text)) < e.cfg.MinLength {
		return Content{}, false
	}
	c := Content{
		Title:       res.Metadata.Title,
		Content:     text,
		Author:      res.Metadata.Author,
		Description: res.Metadata.Description,
		Keywords:    limitKeywords(res.Metadata.Tags),
		Language:    res.Metadata.Language,
		Method:      MethodTrafilatura,
	}
	if !res.Metadata.Date.IsZero() {
		c.PublishDate = res.Metadata.Date.Format("2006-01-02")
	}
	return c, true
}

// decode converts body to UTF-8 using the declared or sniffed charset.
func decode(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return strings.ToValidUTF8(string(body), "")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(body), "")
	}
	return strings.ToValidUTF8(strings.ReplaceAll(string(out), "\x00", ""), "")
}

func tidy(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	text = rePunctRun.ReplaceAllString(text, "$1")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func detectLanguage(text string) string {
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
