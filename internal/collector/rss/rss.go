// Package rss collects items from RSS and Atom feeds.
package rss

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"digestd/internal/collector"
	"digestd/internal/storage"
)

// SourceType is the registry tag for feed sources.
const SourceType = "rss"

const defaultMaxItems = 100

// Register binds the feed collector factory into a registry.
func Register(r *collector.Registry) {
	r.Register(SourceType, func() collector.Collector { return New() })
}

// Collector fetches a single feed per source. Feeds carry no credentials;
// the feed URL lives in the source config.
//
// Config: {"url": "https://blog.example/feed.xml", "max_items": 100}.
type Collector struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// New creates a feed collector.
func New() *Collector {
	return &Collector{
		parser: gofeed.NewParser(),
		logger: slog.Default(),
	}
}

// SourceType implements collector.Collector.
func (c *Collector) SourceType() string { return SourceType }

// Collect implements collector.Collector. Entries published or updated before
// the since bound are skipped.
func (c *Collector) Collect(ctx context.Context, sourceID string, _, config map[string]any, since time.Time) ([]storage.Item, error) {
	feedURL, _ := config["url"].(string)
	if feedURL == "" {
		return nil, collector.ConfigError("missing feed url in source config")
	}

	maxItems := defaultMaxItems
	if v, ok := config["max_items"].(float64); ok && v > 0 {
		maxItems = int(v)
	}

	log := c.logger.With("source_id", sourceID, "source_type", SourceType, "feed_url", feedURL)

	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, collector.NetworkError("fetching feed", err)
	}

	cutoff := collector.Since(since)
	items := make([]storage.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= maxItems {
			break
		}

		updatedAt := entryTime(entry)
		if updatedAt != nil && updatedAt.Before(cutoff) {
			continue
		}

		items = append(items, entryToItem(sourceID, feed.Title, entry, updatedAt))
	}

	log.Info("feed collection completed", "entry_count", len(items))
	return items, nil
}

// ValidateCredentials always succeeds: feeds are public, the URL is validated
// at collection time.
func (c *Collector) ValidateCredentials(_ context.Context, _ map[string]any) (bool, error) {
	return true, nil
}

// entryTime prefers the updated timestamp, then published.
func entryTime(entry *gofeed.Item) *time.Time {
	if entry.UpdatedParsed != nil {
		u := entry.UpdatedParsed.UTC()
		return &u
	}
	if entry.PublishedParsed != nil {
		p := entry.PublishedParsed.UTC()
		return &p
	}
	return nil
}

func entryToItem(sourceID, feedTitle string, entry *gofeed.Item, updatedAt *time.Time) storage.Item {
	externalID := entry.GUID
	if externalID == "" {
		externalID = entry.Link
	}

	content := map[string]any{
		"summary": entry.Description,
	}
	if len(entry.Authors) > 0 {
		content["assignee"] = entry.Authors[0].Name
	}

	metadata := map[string]any{
		"feed_title": feedTitle,
	}

	var createdAt *time.Time
	if entry.PublishedParsed != nil {
		p := entry.PublishedParsed.UTC()
		createdAt = &p
	}

	return collector.NewItem(
		sourceID,
		externalID,
		storage.ItemArticle,
		entry.Title,
		content,
		metadata,
		entry.Link,
		createdAt,
		updatedAt,
	)
}
