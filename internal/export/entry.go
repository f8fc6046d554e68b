// Package export writes accepted documents into rotating JSONL shards.
package export

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Meta is the per-entry metadata block.
type Meta struct {
	Lang            string `json:"lang"`
	URL             string `json:"url"`
	Source          string `json:"source"`
	Type            string `json:"type"`
	ProcessingDate  string `json:"processing_date"`
	DeliveryVersion string `json:"delivery_version"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	Author          string `json:"author,omitempty"`
	PublishDate     string `json:"publish_date,omitempty"`
	Description     string `json:"description,omitempty"`
}

// ContentInfo classifies the entry.
type ContentInfo struct {
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
}

// Entry is one shard line.
type Entry struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Meta        Meta        `json:"meta"`
	ContentInfo ContentInfo `json:"content_info"`
}

// TextLength counts runes, the unit min_length is expressed in.
func (e Entry) TextLength() int {
	return utf8.RuneCountInString(e.Text)
}

// EntryOptions carries the settings BuildEntry needs.
type EntryOptions struct {
	MinLength       int
	DeliveryVersion string
}

// BuildEntry maps a processed document to its shard record.
func BuildEntry(doc *store.ProcessedDocument, opts EntryOptions) Entry {
	content := doc.Metadata.Content
	text := content
	if doc.Title != "" {
		withTitle := doc.Title + "\n" + content
		if utf8.RuneCountInString(withTitle) >= opts.MinLength {
			text = withTitle
		}
	}
	version := opts.DeliveryVersion
	if version == "" {
		version = "V1.0"
	}
	subdomain := doc.Subdomain
	if subdomain == "" {
		subdomain = doc.Topic
	}
	if subdomain == "" {
		subdomain = "general"
	}
	return Entry{
		ID:   doc.DocID,
		Text: text,
		Meta: Meta{
			Lang:            doc.Language,
			URL:             doc.URL,
			Source:          sourceOf(doc.URL),
			Type:            doc.Topic,
			ProcessingDate:  doc.ProcessingDate.UTC().Format("2006-01-02"),
			DeliveryVersion: version,
			Title:           doc.Title,
			Content:         content,
			Author:          doc.Metadata.Author,
			PublishDate:     doc.Metadata.PublishDate,
			Description:     doc.Metadata.Description,
		},
		ContentInfo: ContentInfo{Domain: doc.Topic, Subdomain: subdomain},
	}
}

func sourceOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
