package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"digestd/internal/storage"
)

// ContentHash computes the SHA-256 fingerprint of a content map over its
// canonical JSON form: keys sorted, no whitespace. Two maps with the same
// entries hash identically regardless of insertion order.
func ContentHash(content map[string]any) string {
	// encoding/json marshals map keys in sorted order with no padding,
	// which is exactly the canonical form needed here.
	normalized, err := json.Marshal(content)
	if err != nil {
		// Content maps come from decoded JSON, so marshalling cannot fail in
		// practice; hash the error text to keep the signature infallible.
		normalized = []byte(fmt.Sprintf("unhashable:%v", err))
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

// NewItem builds a storage.Item with its content hash derived from the
// change-relevant fields: title, status, priority, assignee, and the external
// update time. Changes to any other content field do not alter the hash.
func NewItem(sourceID, externalID, itemType, title string, content, metadata map[string]any, url string, createdAt, updatedAt *time.Time) storage.Item {
	hashFields := map[string]any{
		"title":      title,
		"status":     content["status"],
		"priority":   content["priority"],
		"assignee":   content["assignee"],
		"updated_at": nil,
	}
	if updatedAt != nil {
		hashFields["updated_at"] = updatedAt.UTC().Format(time.RFC3339)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	return storage.Item{
		SourceID:          sourceID,
		ExternalID:        externalID,
		Type:              itemType,
		Title:             title,
		Content:           content,
		ContentHash:       ContentHash(hashFields),
		Metadata:          metadata,
		URL:               url,
		ExternalCreatedAt: createdAt,
		ExternalUpdatedAt: updatedAt,
		FetchedAt:         time.Now().UTC(),
	}
}
