package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 365
	statsTimeout     = 3 * time.Second
)

// crawlStats handles GET /v1/crawl-stats?days=N or ?since=YYYY-MM-DD. It
// returns {"since": ..., "stats": [...]} or 400 for bad filters.
func (s *Server) crawlStats(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	rows, err := s.store.ListCrawlStats(ctx, since)
	if err != nil {
		s.logger.Error("list crawl stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl stats")
		return
	}
	out := make([]crawlStatDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, crawlStatDTO{
			Date:                  row.Date,
			Domain:                row.Domain,
			PagesCrawled:          row.PagesCrawled,
			PagesSuccessful:       row.PagesSuccessful,
			PagesFailed:           row.PagesFailed,
			EntriesExtracted:      row.EntriesExtracted,
			EntriesExported:       row.EntriesExported,
			DuplicatesFound:       row.DuplicatesFound,
			ProcessingTimeSeconds: row.ProcessingTimeSeconds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "stats": out})
}

// parseSince resolves the since date from either query parameter. An
// explicit since wins over days.
func parseSince(r *http.Request, now time.Time) (string, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return "", errors.New("invalid since, want YYYY-MM-DD")
		}
		return d.Format(time.DateOnly), nil
	}
	days := defaultStatsDays
	if raw := q.Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return "", errors.New("invalid days")
		}
		days = min(v, maxStatsDays)
	}
	return now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly), nil
}

type crawlStatDTO struct {
	Date                  string  `json:"date"`
	Domain                string  `json:"domain"`
	PagesCrawled          int64   `json:"pages_crawled"`
	PagesSuccessful       int64   `json:"pages_successful"`
	PagesFailed           int64   `json:"pages_failed"`
	EntriesExtracted      int64   `json:"entries_extracted"`
	EntriesExported       int64   `json:"entries_exported"`
	DuplicatesFound       int64   `json:"duplicates_found"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}
