package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertItems inserts or updates items keyed on (source_id, external_id) and
// returns the row IDs in input order. Re-collecting the same remote item
// overwrites the stored copy rather than duplicating it.
func (s *Store) UpsertItems(items []Item) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := s.upsertItem(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) upsertItem(item Item) (string, error) {
	content, err := marshalJSON(item.Content)
	if err != nil {
		return "", err
	}
	meta, err := marshalJSON(item.Metadata)
	if err != nil {
		return "", err
	}

	fetchedAt := item.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	var id string
	err = s.db.QueryRow(`
		INSERT INTO items (id, source_id, external_id, item_type, title, content,
			content_hash, metadata, external_url, external_created_at, external_updated_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			external_url = excluded.external_url,
			external_updated_at = excluded.external_updated_at,
			fetched_at = excluded.fetched_at
		RETURNING id`,
		uuid.New().String(), item.SourceID, item.ExternalID, item.Type, item.Title,
		content, item.ContentHash, meta, item.URL,
		formatNullableTime(item.ExternalCreatedAt), formatNullableTime(item.ExternalUpdatedAt),
		formatTime(fetchedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting item %s: %w", item.ExternalID, err)
	}
	return id, nil
}

// GetItem returns an item by row ID.
func (s *Store) GetItem(id string) (StoredItem, error) {
	row := s.db.QueryRow(`
		SELECT id, source_id, external_id, item_type, title, content, content_hash,
			metadata, external_url, external_created_at, external_updated_at, fetched_at
		FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return StoredItem{}, ErrNotFound
	}
	return item, err
}

// ChangedSinceLastDigest returns the items of a source whose current content
// hash differs from the hash recorded when they were last shown in a sent
// digest, plus items never shown at all.
//
// "Last shown" means the ledger entry tied to the chronologically latest sent
// digest referencing the item; ties on sent_at are broken by digest
// created_at, then digest ID, so the result is deterministic under coarse
// clock resolution.
func (s *Store) ChangedSinceLastDigest(sourceID string) ([]StoredItem, error) {
	rows, err := s.db.Query(`
		SELECT i.id, i.source_id, i.external_id, i.item_type, i.title, i.content,
			i.content_hash, i.metadata, i.external_url, i.external_created_at,
			i.external_updated_at, i.fetched_at
		FROM items i
		WHERE i.source_id = ?
		  AND i.content_hash <> COALESCE((
			SELECT di.content_hash_at_send
			FROM digest_items di
			JOIN digests d ON d.id = di.digest_id
			WHERE di.item_id = i.id AND d.status = 'sent'
			ORDER BY d.sent_at DESC, d.created_at DESC, d.id DESC
			LIMIT 1
		  ), '')
		ORDER BY i.external_updated_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying changed items: %w", err)
	}
	defer rows.Close()

	var items []StoredItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(r rowScanner) (StoredItem, error) {
	var (
		item               StoredItem
		content, meta      string
		createdAt, updated sql.NullString
		fetchedAt          string
	)
	err := r.Scan(&item.ID, &item.SourceID, &item.ExternalID, &item.Type, &item.Title,
		&content, &item.ContentHash, &meta, &item.URL, &createdAt, &updated, &fetchedAt)
	if err != nil {
		return StoredItem{}, err
	}
	if item.Content, err = unmarshalJSON(content); err != nil {
		return StoredItem{}, err
	}
	if item.Metadata, err = unmarshalJSON(meta); err != nil {
		return StoredItem{}, err
	}
	if item.ExternalCreatedAt, err = parseNullableTime(createdAt); err != nil {
		return StoredItem{}, err
	}
	if item.ExternalUpdatedAt, err = parseNullableTime(updated); err != nil {
		return StoredItem{}, err
	}
	if item.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return StoredItem{}, err
	}
	return item, nil
}
