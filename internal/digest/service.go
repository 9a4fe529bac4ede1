// Package digest orchestrates one digest's lifecycle: fan out to active
// sources, merge results, detect changed items, format, and record what was
// shown.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digestd/internal/collector"
	"digestd/internal/event"
	"digestd/internal/format"
	"digestd/internal/storage"
)

// Store is the persistence surface the orchestrator consumes.
type Store interface {
	GetActiveSources() ([]storage.Source, error)
	UpdateSourceLastSynced(id string, at time.Time) error

	UpsertItems(items []storage.Item) ([]string, error)
	ChangedSinceLastDigest(sourceID string) ([]storage.StoredItem, error)

	CreateDigest(digestType string, scheduledAt time.Time) (storage.Digest, error)
	UpdateDigestStatus(id, status, errorMessage string) error
	AddDigestItems(digestID string, entries []storage.LedgerEntry) error
	MarkDigestSent(id string, messageID int64, content string, itemCount int) error

	CreateCollectorError(sourceID, kind, message string) (storage.CollectorError, error)
	MarkErrorsResolved(sourceID string) error

	GetSetting(key string) (string, error)
	ListProjects() ([]storage.Project, error)
}

// Publisher is the event-bus surface the orchestrator uses to announce progress.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Formatter renders the merged item set into the outbound message body.
type Formatter func(entries []format.Entry, digestType, lang string) string

// LanguageSetting is the settings key holding the digest locale.
const LanguageSetting = "digest_language"

const defaultLanguage = "en"

// Service drives digest generation. All state transitions are persisted
// through the store; the Service itself holds no mutable digest state.
type Service struct {
	store     Store
	registry  *collector.Registry
	bus       Publisher
	formatter Formatter
	logger    *slog.Logger
}

// NewService wires the orchestrator. A nil formatter falls back to the
// default Telegram HTML renderer.
func NewService(store Store, registry *collector.Registry, bus Publisher, formatter Formatter) *Service {
	if formatter == nil {
		formatter = format.Digest
	}
	return &Service{
		store:     store,
		registry:  registry,
		bus:       bus,
		formatter: formatter,
		logger:    slog.Default(),
	}
}

// Generate runs one digest generation and returns the digest ID. projectIDs
// optionally restricts collection to sources owned by those projects; nil
// means all projects.
//
// Per-source failures are recorded and announced but never abort the run.
// Failures outside the per-source boundary transition the digest to failed,
// publish DigestFailed, and are returned to the caller.
func (s *Service) Generate(ctx context.Context, digestType string, projectIDs []string) (string, error) {
	log := s.logger.With("digest_type", digestType)
	log.Info("starting digest generation")

	d, err := s.store.CreateDigest(digestType, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("creating digest: %w", err)
	}

	if err := s.generate(ctx, d, projectIDs, log); err != nil {
		log.Error("digest generation failed", "digest_id", d.ID, "error", err)
		if updErr := s.store.UpdateDigestStatus(d.ID, storage.DigestFailed, err.Error()); updErr != nil {
			log.Error("recording digest failure", "digest_id", d.ID, "error", updErr)
		}
		s.publish(ctx, event.NewDigestFailed(d.ID, err.Error()))
		return d.ID, err
	}

	return d.ID, nil
}

func (s *Service) generate(ctx context.Context, d storage.Digest, projectIDs []string, log *slog.Logger) error {
	if err := s.store.UpdateDigestStatus(d.ID, storage.DigestCollecting, ""); err != nil {
		return fmt.Errorf("transitioning to collecting: %w", err)
	}

	sources, err := s.sourcesForDigest(projectIDs)
	if err != nil {
		return fmt.Errorf("resolving sources: %w", err)
	}
	log.Info("collecting from sources", "source_count", len(sources))

	// Sources are collected sequentially: failures are isolated per source,
	// throughput is not.
	type sourcedItem struct {
		item   storage.StoredItem
		source storage.Source
	}
	var merged []sourcedItem
	for _, src := range sources {
		changed := s.collectFromSource(ctx, src, d.ID)
		for _, item := range changed {
			merged = append(merged, sourcedItem{item: item, source: src})
		}
	}

	if len(merged) == 0 {
		log.Info("no changed items, closing digest empty", "digest_id", d.ID)
		if err := s.store.UpdateDigestStatus(d.ID, storage.DigestSent, ""); err != nil {
			return fmt.Errorf("closing empty digest: %w", err)
		}
		return nil
	}

	if err := s.store.UpdateDigestStatus(d.ID, storage.DigestFormatting, ""); err != nil {
		return fmt.Errorf("transitioning to formatting: %w", err)
	}

	projects, err := s.store.ListProjects()
	if err != nil {
		return fmt.Errorf("loading projects: %w", err)
	}
	projectByID := make(map[string]storage.Project, len(projects))
	for _, p := range projects {
		projectByID[p.ID] = p
	}

	entries := make([]format.Entry, 0, len(merged))
	for _, m := range merged {
		p, ok := projectByID[m.source.ProjectID]
		if !ok {
			continue
		}
		entries = append(entries, format.Entry{Item: m.item, Project: p})
	}

	content := s.formatter(entries, d.Type, s.language())

	s.publish(ctx, event.NewDigestReady(d.ID, content, len(merged)))

	ledger := make([]storage.LedgerEntry, 0, len(merged))
	for _, m := range merged {
		ledger = append(ledger, storage.LedgerEntry{ItemID: m.item.ID, ContentHash: m.item.ContentHash})
	}
	if err := s.store.AddDigestItems(d.ID, ledger); err != nil {
		return fmt.Errorf("recording shown items: %w", err)
	}

	log.Info("digest generated", "digest_id", d.ID, "item_count", len(merged), "content_length", len(content))
	return nil
}

// MarkSent transitions a digest to sent after the delivery collaborator
// confirms it, and announces DigestSent.
func (s *Service) MarkSent(ctx context.Context, digestID string, messageID int64, content string, itemCount int) error {
	if err := s.store.MarkDigestSent(digestID, messageID, content, itemCount); err != nil {
		return fmt.Errorf("marking digest sent: %w", err)
	}
	s.publish(ctx, event.NewDigestSent(digestID, messageID))
	s.logger.Info("digest marked sent", "digest_id", digestID, "message_id", messageID)
	return nil
}

// MarkFailed transitions a digest to failed when delivery cannot complete,
// and announces DigestFailed.
func (s *Service) MarkFailed(ctx context.Context, digestID, reason string) error {
	if err := s.store.UpdateDigestStatus(digestID, storage.DigestFailed, reason); err != nil {
		return fmt.Errorf("marking digest failed: %w", err)
	}
	s.publish(ctx, event.NewDigestFailed(digestID, reason))
	s.logger.Warn("digest marked failed", "digest_id", digestID, "reason", reason)
	return nil
}

func (s *Service) sourcesForDigest(projectIDs []string) ([]storage.Source, error) {
	sources, err := s.store.GetActiveSources()
	if err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		return sources, nil
	}

	wanted := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		wanted[id] = true
	}
	filtered := sources[:0]
	for _, src := range sources {
		if wanted[src.ProjectID] {
			filtered = append(filtered, src)
		}
	}
	return filtered, nil
}

// collectFromSource runs the per-source step of the pipeline. Every failure
// inside it, taxonomy or unexpected, is recorded as a collector error and
// announced via CollectorFailed; it never propagates.
func (s *Service) collectFromSource(ctx context.Context, src storage.Source, digestID string) []storage.StoredItem {
	log := s.logger.With("source_id", src.ID, "source_type", src.Type, "source_name", src.Name)

	s.publish(ctx, event.NewCollectionStarted(src.ID, digestID))

	coll, ok := s.registry.Create(src.Type)
	if !ok {
		log.Warn("no collector registered for source type")
		return nil
	}

	changed, err := s.runCollection(ctx, coll, src)
	if err != nil {
		kind := collector.Classify(err)
		log.Error("collection failed", "error_kind", kind, "error", err)

		if _, recErr := s.store.CreateCollectorError(src.ID, kind, err.Error()); recErr != nil {
			log.Error("recording collector error", "error", recErr)
		}
		s.publish(ctx, event.NewCollectorFailed(src.ID, kind, err.Error()))
		return nil
	}

	s.publish(ctx, event.NewCollectionCompleted(src.ID, digestID, changed.collected, len(changed.items)))
	log.Info("collection completed", "total_items", changed.collected, "changed_items", len(changed.items))
	return changed.items
}

type collectionResult struct {
	collected int
	items     []storage.StoredItem
}

func (s *Service) runCollection(ctx context.Context, coll collector.Collector, src storage.Source) (collectionResult, error) {
	var since time.Time
	if src.LastSyncedAt != nil {
		since = *src.LastSyncedAt
	}

	items, err := coll.Collect(ctx, src.ID, src.Credentials, src.Config, since)
	if err != nil {
		return collectionResult{}, err
	}

	if _, err := s.store.UpsertItems(items); err != nil {
		return collectionResult{}, fmt.Errorf("storing items: %w", err)
	}
	if err := s.store.UpdateSourceLastSynced(src.ID, time.Now().UTC()); err != nil {
		return collectionResult{}, fmt.Errorf("updating last synced: %w", err)
	}
	if err := s.store.MarkErrorsResolved(src.ID); err != nil {
		return collectionResult{}, fmt.Errorf("resolving previous errors: %w", err)
	}

	changed, err := s.store.ChangedSinceLastDigest(src.ID)
	if err != nil {
		return collectionResult{}, fmt.Errorf("querying changed items: %w", err)
	}

	return collectionResult{collected: len(items), items: changed}, nil
}

func (s *Service) language() string {
	lang, err := s.store.GetSetting(LanguageSetting)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading language setting", "error", err)
		}
		return defaultLanguage
	}
	return lang
}

func (s *Service) publish(ctx context.Context, ev event.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing event", "event", ev.Name(), "error", err)
	}
}
