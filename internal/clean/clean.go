// Package clean normalizes extracted text, masks personal data and scores
// the result.
package clean

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Issue names a quality problem found while cleaning.
type Issue string

// Cleaning issues.
const (
	IssueEmptyText          Issue = "empty_text"
	IssueTooShort           Issue = "too_short"
	IssueEmptyAfterCleaning Issue = "empty_after_cleaning"
	IssueGarbled            Issue = "garbled_text"
)

// PII kinds reported in Result.PIIFound.
const (
	PIIEmail = "email"
	PIICard  = "credit_card"
	PIIIP    = "ip"
	PIIPhone = "phone"
)

// Config tunes the cleaner.
type Config struct {
	MinLength    int
	RemoveEmojis bool
	MaskPII      bool
}

// Result is the cleaned text plus what was done to it.
type Result struct {
	CleanedText       string
	Issues            []Issue
	QualityScore      float64
	PIIFound          []string
	EmojisRemoved     int
	FormattingChanges int
}

// OK reports whether the text passed every quality gate.
func (r Result) OK() bool {
	return len(r.Issues) == 0 && r.CleanedText != ""
}

// Has reports whether issue was raised.
func (r Result) Has(issue Issue) bool {
	for _, i := range r.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

type piiRule struct {
	kind        string
	placeholder string
	patterns    []*regexp.Regexp
}

// Card and IP run before phone so their digit groups are not taken as
// phone numbers.
var piiRules = []piiRule{
	{PIIEmail, "[EMAIL]", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`),
	}},
	{PIICard, "[CARD]", []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
	}},
	{PIIIP, "[IP]", []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	}},
	{PIIPhone, "[PHONE]", []*regexp.Regexp{
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`),
		regexp.MustCompile(`\b\d{3}[-. ]?\d{3}[-. ]?\d{4}\b`),
	}},
}

var (
	reCRLF           = regexp.MustCompile(`\r\n?`)
	reManyNewlines   = regexp.MustCompile(`\n{3,}`)
	reHorizontalWS   = regexp.MustCompile(`[ \t]{2,}|\t`)
	reTrailingWS     = regexp.MustCompile(`(?m)[ \t]+$`)
	reManyPeriods    = regexp.MustCompile(`\.{2,}`)
	reManyBangs      = regexp.MustCompile(`!{2,}`)
	reManyQuestions  = regexp.MustCompile(`\?{2,}`)
	reSpacedPunct    = regexp.MustCompile(`[ \t]+([.!?,:;])`)
	reSmartQuotes    = regexp.MustCompile("[\u201c\u201d\u2018\u2019`]")
	reRepeatedQuotes = regexp.MustCompile(`"{2,}`)
	reBullets        = regexp.MustCompile(`[\x{00b7}\x{25aa}\x{25ab}\x{2023}\x{2043}]`)
	reDashes         = regexp.MustCompile(`\x{2013}`)
	reTemperature    = regexp.MustCompile(`(\d+)\s*°\s*([CF])\b`)
	reMeasurement    = regexp.MustCompile(`(\d+)\s+(cm|mm|km|ft|lb|kg|oz|g)\b`)
	reWord           = regexp.MustCompile(`\w+`)
	reSentenceSplit  = regexp.MustCompile(`[.!?]+`)
)

// Cleaner runs the normalization, masking and scoring steps.
type Cleaner struct {
	cfg Config
}

// New builds a Cleaner.
func New(cfg Config) *Cleaner {
	return &Cleaner{cfg: cfg}
}

// Clean processes text and never fails; problems are reported as Issues.
func (c *Cleaner) Clean(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Issues: []Issue{IssueEmptyText}}
	}

	out := text
	var res Result
	if c.cfg.RemoveEmojis {
		out, res.EmojisRemoved = RemoveEmojis(out)
	}
	out, res.FormattingChanges = Normalize(out)
	if c.cfg.MaskPII {
		out, res.PIIFound = MaskPII(out)
	}
	res.CleanedText = out

	if utf8.RuneCountInString(out) < c.cfg.MinLength {
		res.Issues = append(res.Issues, IssueTooShort)
	}
	if strings.TrimSpace(out) == "" {
		res.Issues = append(res.Issues, IssueEmptyAfterCleaning)
	}
	if IsGarbled(out) {
		res.Issues = append(res.Issues, IssueGarbled)
	}
	res.QualityScore = score(text, res)
	return res
}

// RemoveEmojis strips pictographic runes and returns how many were removed.
// Joiners and variation selectors are dropped without being counted.
func RemoveEmojis(text string) (string, int) {
	var b strings.Builder
	b.Grow(len(text))
	n := 0
	for _, r := range text {
		switch {
		case isEmoji(r):
			n++
		case r == '\u200d' || (r >= '\ufe00' && r <= '\ufe0f'):
		default:
			b.WriteRune(r)
		}
	}
	if n == 0 {
		return text, 0
	}
	return b.String(), n
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	case r == 0x231A || r == 0x231B || r == 0x23F0 || r == 0x23F3:
		return true
	}
	return false
}

func isControl(r rune) bool {
	if r == '\n' || r == '\t' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

// Normalize applies NFKC, drops control characters and tidies whitespace,
// punctuation, quotes and units. It returns the number of edits made.
func Normalize(text string) (string, int) {
	changes := 0
	t := transform.Chain(norm.NFKC, runes.Remove(runes.Predicate(isControl)))
	if normalized, _, err := transform.String(t, text); err == nil {
		if normalized != text {
			changes++
			text = normalized
		}
	}

	sub := func(re *regexp.Regexp, repl string) {
		if n := len(re.FindAllStringIndex(text, -1)); n > 0 {
			changes += n
			text = re.ReplaceAllString(text, repl)
		}
	}
	sub(reCRLF, "\n")
	sub(reManyNewlines, "\n\n")
	sub(reHorizontalWS, " ")
	sub(reTrailingWS, "")
	sub(reManyPeriods, "...")
	sub(reManyBangs, "!")
	sub(reManyQuestions, "?")
	sub(reSpacedPunct, "$1")
	sub(reSmartQuotes, `"`)
	sub(reRepeatedQuotes, `"`)
	sub(reBullets, "•")
	sub(reDashes, "—")
	sub(reTemperature, "$1°$2")
	sub(reMeasurement, "$1$2")

	return strings.TrimSpace(text), changes
}

// MaskPII replaces personal data with placeholders and lists the kinds found.
func MaskPII(text string) (string, []string) {
	var found []string
	for _, rule := range piiRules {
		hit := false
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				text = re.ReplaceAllString(text, rule.placeholder)
				hit = true
			}
		}
		if hit {
			found = append(found, rule.kind)
		}
	}
	return text, found
}

// IsGarbled flags text of at least 50 characters that looks corrupted: too
// many unprintable runes, too many one-letter words or very short sentences.
func IsGarbled(text string) bool {
	total := utf8.RuneCountInString(text)
	if total < 50 {
		return false
	}
	printable := 0
	for _, r := range text {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	if float64(printable)/float64(total) < 0.9 {
		return true
	}

	words := reWord.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return true
	}
	single := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) == 1 {
			single++
		}
	}
	if float64(single)/float64(len(words)) > 0.3 {
		return true
	}

	sentences := reSentenceSplit.Split(text, -1)
	if len(sentences) < 2 {
		return false
	}
	wordsInSentences := 0
	for _, s := range sentences {
		wordsInSentences += len(strings.Fields(s))
	}
	return float64(wordsInSentences)/float64(len(sentences)) < 3
}

func score(original string, res Result) float64 {
	if res.CleanedText == "" {
		return 0
	}
	s := 100.0
	for _, issue := range res.Issues {
		switch issue {
		case IssueTooShort:
			s -= 30
		case IssueEmptyAfterCleaning:
			s -= 50
		case IssueGarbled:
			s -= 40
		}
	}
	origLen := utf8.RuneCountInString(original)
	if origLen > 0 {
		diff := origLen - utf8.RuneCountInString(res.CleanedText)
		if diff < 0 {
			diff = -diff
		}
		if ratio := float64(diff) / float64(origLen); ratio > 0.5 {
			s -= ratio * 20
		}
	}
	if len(res.PIIFound) > 3 {
		s -= float64(len(res.PIIFound)) * 5
	}
	if res.EmojisRemoved > 10 {
		s -= float64(min(res.EmojisRemoved, 20))
	}
	if res.FormattingChanges > 0 {
		s += min(float64(res.FormattingChanges)*0.1, 5)
	}
	return max(0, min(100, s))
}
