// Package classify assigns documents to an allowed topic with keyword and
// pattern rules.
package classify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Rejection reasons that do not carry a value.
const (
	ReasonEmptyContent = "empty_content"
	ReasonNoMatch      = "no_matching_topics"
	ReasonExcluded     = "excluded_topic"
	ReasonLowQuality   = "low_quality"
)

// DefaultMinConfidence applies when Config.MinConfidence is zero.
const DefaultMinConfidence = 0.3

// Config describes the allowed topics and how to recognise them.
type Config struct {
	Allowed  []string
	Keywords map[string][]string
	// Patterns overrides DefaultPatterns per topic.
	Patterns   map[string][]string
	Subdomains map[string]string
	// Exclusions defaults to DefaultExclusions when nil.
	Exclusions    []string
	MinConfidence float64
}

// Result is the verdict for one document.
type Result struct {
	Topic           string   `json:"topic,omitempty"`
	Subdomain       string   `json:"subdomain,omitempty"`
	Confidence      float64  `json:"confidence"`
	RuleScore       float64  `json:"rule_score"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	IsAllowed       bool     `json:"is_allowed"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
}

// Classifier scores text against every allowed topic.
type Classifier struct {
	allowed       []string
	patterns      map[string][]*regexp.Regexp
	keywords      map[string][]string
	subdomains    map[string]string
	exclusions    []*regexp.Regexp
	promos        []*regexp.Regexp
	minConfidence float64

	mu         sync.Mutex
	rejections map[string]int64
}

// New compiles the configured rules.
func New(cfg Config) (*Classifier, error) {
	c := &Classifier{
		allowed:       cfg.Allowed,
		patterns:      make(map[string][]*regexp.Regexp, len(cfg.Allowed)),
		keywords:      make(map[string][]string, len(cfg.Allowed)),
		subdomains:    make(map[string]string, len(cfg.Allowed)),
		minConfidence: cfg.MinConfidence,
		rejections:    make(map[string]int64),
	}
	if c.minConfidence <= 0 {
		c.minConfidence = DefaultMinConfidence
	}
	for _, topic := range cfg.Allowed {
		sources, ok := cfg.Patterns[topic]
		if !ok {
			sources = DefaultPatterns[topic]
		}
		compiled, err := compileAll(sources)
		if err != nil {
			return nil, fmt.Errorf("compile patterns for %s: %w", topic, err)
		}
		c.patterns[topic] = compiled

		for _, kw := range cfg.Keywords[topic] {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				c.keywords[topic] = append(c.keywords[topic], kw)
			}
		}

		switch {
		case cfg.Subdomains[topic] != "":
			c.subdomains[topic] = cfg.Subdomains[topic]
		case DefaultSubdomains[topic] != "":
			c.subdomains[topic] = DefaultSubdomains[topic]
		default:
			c.subdomains[topic] = topic
		}
	}

	exclusions := cfg.Exclusions
	if exclusions == nil {
		exclusions = DefaultExclusions
	}
	var err error
	if c.exclusions, err = compileAll(exclusions); err != nil {
		return nil, fmt.Errorf("compile exclusions: %w", err)
	}
	if c.promos, err = compileAll(promoPatterns); err != nil {
		return nil, fmt.Errorf("compile promo patterns: %w", err)
	}
	return c, nil
}

func compileAll(sources []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify picks the best topic for title and content and decides whether it
// is allowed.
func (c *Classifier) Classify(title, content string) Result {
	res := c.classify(title, content)
	if !res.IsAllowed {
		c.mu.Lock()
		c.rejections[res.RejectionReason]++
		c.mu.Unlock()
	}
	return res
}

func (c *Classifier) classify(title, content string) Result {
	if strings.TrimSpace(content) == "" {
		return Result{RejectionReason: ReasonEmptyContent}
	}
	text := strings.ToLower(title + " " + content)
	wordCount := len(strings.Fields(text))

	scores := make([]float64, len(c.allowed))
	matched := make([][]string, len(c.allowed))
	best := -1
	for i, topic := range c.allowed {
		scores[i], matched[i] = c.topicScore(topic, text, wordCount)
		if scores[i] > 0 && (best < 0 || scores[i] > scores[best]) {
			best = i
		}
	}
	if best < 0 {
		return Result{RejectionReason: ReasonNoMatch}
	}

	topic := c.allowed[best]
	res := Result{
		Topic:           topic,
		Subdomain:       c.subdomains[topic],
		Confidence:      confidence(scores[best], scores),
		RuleScore:       scores[best],
		MatchedKeywords: matched[best],
	}
	if res.Confidence < c.minConfidence {
		res.Topic = ""
		res.RejectionReason = fmt.Sprintf("low_confidence_%.2f", res.Confidence)
		return res
	}
	if c.excluded(text) {
		return c.reject(res, ReasonExcluded)
	}
	if c.lowQuality(content) {
		return c.reject(res, ReasonLowQuality)
	}
	res.IsAllowed = true
	return res
}

func (c *Classifier) reject(res Result, reason string) Result {
	res.Topic = ""
	res.Subdomain = ""
	res.Confidence = 0
	res.RejectionReason = reason
	return res
}

// topicScore weighs pattern hits at 2 and keyword occurrences at 1, damped by
// the log of the text's word count.
func (c *Classifier) topicScore(topic, text string, wordCount int) (float64, []string) {
	score := 0.0
	seen := make(map[string]struct{})
	for _, re := range c.patterns[topic] {
		hits := re.FindAllString(text, -1)
		score += 2 * float64(len(hits))
		for _, h := range hits {
			seen[h] = struct{}{}
		}
	}
	for _, kw := range c.keywords[topic] {
		if n := strings.Count(text, kw); n > 0 {
			score += float64(n)
			seen[kw] = struct{}{}
		}
	}
	if wordCount > 0 {
		score /= math.Log(float64(wordCount) + 1)
	}
	matched := make([]string, 0, len(seen))
	for k := range seen {
		matched = append(matched, k)
	}
	sort.Strings(matched)
	return score, matched
}

// confidence grows with the best score's lead over the runner-up.
func confidence(best float64, all []float64) float64 {
	if len(all) == 1 {
		return min(best/10, 1)
	}
	sorted := append([]float64(nil), all...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if sorted[1] == 0 {
		return min(best/5, 1)
	}
	return max(0, min(best/sorted[1]/3, 1))
}

func (c *Classifier) excluded(text string) bool {
	for _, re := range c.exclusions {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (c *Classifier) lowQuality(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < 100 {
		return true
	}

	words := len(strings.Fields(content))
	promo := 0
	for _, re := range c.promos {
		promo += len(re.FindAllStringIndex(content, -1))
	}
	if words > 0 && float64(promo)/float64(words) > 0.1 {
		return true
	}

	if len(content) > 50 && strings.ToUpper(content) == content && strings.ToLower(content) != content {
		return true
	}

	sentences := strings.Split(content, ".")
	if len(sentences) > 3 {
		unique := make(map[string]struct{}, len(sentences))
		for _, s := range sentences {
			unique[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
		}
		if float64(len(unique))/float64(len(sentences)) < 0.7 {
			return true
		}
	}
	return false
}

// Allowed reports whether topic is one of the configured topics.
func (c *Classifier) Allowed(topic string) bool {
	for _, t := range c.allowed {
		if t == topic {
			return true
		}
	}
	return false
}

// Rejections returns a copy of the rejection counters keyed by reason.
func (c *Classifier) Rejections() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.rejections))
	for k, v := range c.rejections {
		out[k] = v
	}
	return out
}
