package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clean"
	"github.com/JakeFAU/corpus-crawler/internal/dedup"
	"github.com/JakeFAU/corpus-crawler/internal/extract"
	"github.com/JakeFAU/corpus-crawler/internal/fetch"
	"github.com/JakeFAU/corpus-crawler/internal/frontier"
	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Page outcomes, used as the metrics label.
const (
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
	outcomeAccepted  = "accepted"
	outcomeError     = "error"
)

const defaultLanguage = "en"

// DocID derives the document id from the page URL and its cleaned text.
func DocID(rawURL, cleaned string) string {
	return sha256.String(rawURL + "#" + sha256.String(cleaned)[:16])[:16]
}

// handle resolves one fetched URL and records its counters.
func (p *Pipeline) handle(ctx context.Context, f fetched) {
	row := f.row
	delta := store.CrawlStat{
		Date:                  p.clock.Now().UTC().Format("2006-01-02"),
		Domain:                row.Domain,
		PagesCrawled:          1,
		ProcessingTimeSeconds: f.elapsed.Seconds(),
	}
	p.stats.update(func(s *Stats) {
		s.PagesCrawled++
		s.ProcessingTime += f.elapsed
	})

	var outcome string
	if !f.res.OK() {
		outcome = outcomeFailed
		delta.PagesFailed = 1
		p.stats.update(func(s *Stats) { s.PagesFailed++ })
		p.fail(ctx, row, f.res)
	} else {
		delta.PagesSuccessful = 1
		p.stats.update(func(s *Stats) { s.PagesSuccessful++ })
		var err error
		outcome, err = p.process(ctx, row, f.res, &delta)
		if err != nil {
			outcome = outcomeError
			p.logger.Error("process page", zap.String("url", row.URL), zap.Error(err))
			if err := p.frontier.MarkFailed(ctx, row.ID, row.URL, false, 0); err != nil {
				p.logger.Error("mark url failed", zap.String("url", row.URL), zap.Error(err))
			}
		} else if err := p.frontier.MarkCompleted(ctx, row.ID, row.URL); err != nil {
			p.logger.Error("mark url completed", zap.String("url", row.URL), zap.Error(err))
		}
	}
	metrics.ObservePage(row.Domain, outcome)

	if err := p.store.AddCrawlStats(ctx, delta); err != nil {
		p.logger.Warn("update crawl stats", zap.String("domain", row.Domain), zap.Error(err))
	}

	if crawled := p.stats.snapshot().PagesCrawled; crawled%int64(p.cfg.CheckpointInterval) == 0 {
		p.periodic(ctx, crawled)
	}
}

// fail reschedules URLs whose last attempt was retryable, after the server's
// Retry-After when it sent one, and fails the rest.
func (p *Pipeline) fail(ctx context.Context, row *store.FrontierURL, res fetch.Result) {
	retry := res.Outcome.Kind == fetch.Retryable
	p.logger.Debug("fetch failed",
		zap.String("url", row.URL),
		zap.Int("status", res.StatusCode),
		zap.String("reason", res.Outcome.Reason),
		zap.Int("attempts", res.Attempts),
		zap.Bool("retry", retry),
		zap.Error(res.Err),
	)
	if err := p.frontier.MarkFailed(ctx, row.ID, row.URL, retry, res.Outcome.RetryAfter); err != nil {
		p.logger.Error("mark url failed", zap.String("url", row.URL), zap.Error(err))
	}
}

// process runs a downloaded page through the content stages. Rejections are
// normal outcomes; only storage errors are returned.
func (p *Pipeline) process(ctx context.Context, row *store.FrontierURL, res fetch.Result, delta *store.CrawlStat) (string, error) {
	content := p.extractor.Extract(row.URL, res.Body, res.ContentType)
	if content.Failed() {
		p.logger.Debug("extraction failed", zap.String("url", row.URL))
		return outcomeRejected, nil
	}
	p.stats.update(func(s *Stats) { s.ContentExtracted++ })

	cleaned := p.cleaner.Clean(content.Content)
	if !cleaned.OK() || cleaned.CleanedText == "" {
		p.logger.Debug("content rejected by cleaner",
			zap.String("url", row.URL), zap.Strings("issues", issueNames(cleaned.Issues)))
		return outcomeRejected, nil
	}
	p.stats.update(func(s *Stats) { s.ContentCleaned++ })

	cls := p.classifier.Classify(content.Title, cleaned.CleanedText)
	p.stats.update(func(s *Stats) { s.ContentClassified++ })
	if !cls.IsAllowed {
		p.stats.update(func(s *Stats) { s.ContentRejected++ })
		p.logger.Debug("content rejected by classifier",
			zap.String("url", row.URL), zap.String("reason", cls.RejectionReason))
		return outcomeRejected, nil
	}
	p.stats.update(func(s *Stats) { s.ContentAllowed++ })

	docID := DocID(row.URL, cleaned.CleanedText)
	dup, err := p.dedup.Check(ctx, docID, cleaned.CleanedText)
	if err != nil {
		return "", fmt.Errorf("check duplicate: %w", err)
	}
	if dup.IsDuplicate {
		p.duplicate(row, delta, dup)
		return outcomeDuplicate, nil
	}

	doc := p.document(docID, row, res, content, cleaned.CleanedText, cleaned.QualityScore, cls.Topic, cls.Subdomain)
	doc.Metadata.Confidence = cls.Confidence
	doc.Metadata.MatchedKeywords = cls.MatchedKeywords
	if err := p.store.InsertDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			p.duplicate(row, delta, dedup.Result{IsDuplicate: true, Tier: dedup.TierExact, Similarity: 1, MatchedDocID: docID})
			return outcomeDuplicate, nil
		}
		return "", fmt.Errorf("store document: %w", err)
	}
	delta.EntriesExtracted = 1
	if err := p.dedup.Add(ctx, docID, cleaned.CleanedText); err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}

	written, err := p.exporter.ExportDocument(ctx, doc)
	if err != nil {
		// The document stays pending for the next sweep.
		p.logger.Warn("export document", zap.String("doc_id", docID), zap.Error(err))
	}
	if written {
		delta.EntriesExported = 1
		p.stats.update(func(s *Stats) { s.EntriesExported++ })
	}

	base := row.URL
	if res.FinalURL != "" {
		base = res.FinalURL
	}
	added, err := p.frontier.AddDiscovered(ctx, row, frontier.Discover(base, res.Body))
	if err != nil {
		p.logger.Warn("add discovered links", zap.String("url", row.URL), zap.Error(err))
	}
	p.logger.Debug("document accepted",
		zap.String("url", row.URL),
		zap.String("doc_id", docID),
		zap.String("topic", doc.Topic),
		zap.Float64("confidence", cls.Confidence),
		zap.Bool("exported", written),
		zap.Int("links_added", added),
	)
	return outcomeAccepted, nil
}

func (p *Pipeline) duplicate(row *store.FrontierURL, delta *store.CrawlStat, dup dedup.Result) {
	delta.DuplicatesFound = 1
	p.stats.update(func(s *Stats) { s.DuplicatesFound++ })
	p.logger.Debug("duplicate content",
		zap.String("url", row.URL),
		zap.String("tier", string(dup.Tier)),
		zap.Float64("similarity", dup.Similarity),
		zap.String("matched_doc_id", dup.MatchedDocID),
	)
}

func (p *Pipeline) document(
	docID string,
	row *store.FrontierURL,
	res fetch.Result,
	content extract.Content,
	text string,
	cleanScore float64,
	topic, subdomain string,
) *store.ProcessedDocument {
	lang := content.Language
	if lang == "" {
		lang = defaultLanguage
	}
	return &store.ProcessedDocument{
		DocID:          docID,
		URL:            row.URL,
		URLHash:        frontier.URLHash(row.URL),
		ContentHash:    sha256.String(text),
		Title:          content.Title,
		ContentLength:  utf8.RuneCountInString(text),
		Topic:          topic,
		Subdomain:      subdomain,
		Language:       lang,
		ProcessingDate: p.clock.Now().UTC(),
		ExportStatus:   store.ExportPending,
		QualityScore:   (content.QualityScore + cleanScore) / 2,
		Metadata: store.DocumentMetadata{
			Content:      text,
			Author:       content.Author,
			PublishDate:  content.PublishDate,
			Description:  content.Description,
			Keywords:     content.Keywords,
			WordCount:    content.WordCount,
			ReadingTime:  content.ReadingTime,
			FinalURL:     res.FinalURL,
			ContentType:  res.ContentType,
			ResponseTime: res.ResponseTime.Seconds(),
		},
	}
}

// periodic writes a checkpoint and sweeps pending exports, and every
// CleanupEvery checkpoints drops rows older than the retention window.
func (p *Pipeline) periodic(ctx context.Context, crawled int64) {
	if n, err := p.exporter.ExportPending(ctx, p.cfg.ExportBatch); err != nil {
		p.logger.Warn("export sweep", zap.Error(err))
	} else if n > 0 {
		p.stats.update(func(s *Stats) { s.EntriesExported += int64(n) })
	}
	if err := p.checkpoint(ctx); err != nil {
		p.logger.Warn("write checkpoint", zap.Error(err))
	}

	s := p.stats.snapshot()
	elapsed := p.Elapsed()
	p.logger.Info(fmt.Sprintf("progress: %d pages, %d exported, %.1f%% success, %.2f pages/s",
		s.PagesCrawled, s.EntriesExported, s.SuccessRate()*100, s.PagesPerSecond(elapsed)),
		zap.Int64("pages_failed", s.PagesFailed),
		zap.Int64("duplicates_found", s.DuplicatesFound),
		zap.Int64("content_rejected", s.ContentRejected),
	)

	if crawled%int64(p.cfg.CheckpointInterval*p.cfg.CleanupEvery) != 0 {
		return
	}
	urls, err := p.frontier.Cleanup(ctx, p.cfg.Retention)
	if err != nil {
		p.logger.Warn("frontier cleanup", zap.Error(err))
	}
	entries, err := p.dedup.Cleanup(ctx, p.cfg.Retention)
	if err != nil {
		p.logger.Warn("dedup cleanup", zap.Error(err))
	}
	p.logger.Info("retention cleanup", zap.Int64("urls_removed", urls), zap.Int64("dedup_entries_removed", entries))
}

func issueNames(issues []clean.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = string(is)
	}
	return out
}
