package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var digestColumns = []string{
	"id", "digest_type", "status", "scheduled_at", "sent_at", "message_id",
	"content", "item_count", "error_message", "created_at",
}

// CreateDigest inserts a new digest in the pending state.
func (s *Store) CreateDigest(digestType string, scheduledAt time.Time) (Digest, error) {
	d := Digest{
		ID:          uuid.New().String(),
		Type:        digestType,
		Status:      DigestPending,
		ScheduledAt: &scheduledAt,
		CreatedAt:   time.Now().UTC(),
	}

	query, args, err := builder.Insert("digests").
		Columns("id", "digest_type", "status", "scheduled_at", "created_at").
		Values(d.ID, d.Type, d.Status, formatTime(scheduledAt), formatTime(d.CreatedAt)).
		ToSql()
	if err != nil {
		return Digest{}, fmt.Errorf("building digest insert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return Digest{}, fmt.Errorf("inserting digest: %w", err)
	}
	return d, nil
}

// GetDigest returns a digest by ID.
func (s *Store) GetDigest(id string) (Digest, error) {
	query, args, err := builder.Select(digestColumns...).
		From("digests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Digest{}, fmt.Errorf("building digest select: %w", err)
	}
	d, err := scanDigest(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return Digest{}, ErrNotFound
	}
	return d, err
}

// ListDigests returns digests newest-first with pagination.
func (s *Store) ListDigests(limit, offset int) ([]Digest, error) {
	query, args, err := builder.Select(digestColumns...).
		From("digests").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building digests select: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying digests: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// UpdateDigestStatus transitions a digest, optionally recording an error message.
func (s *Store) UpdateDigestStatus(id, status, errorMessage string) error {
	query, args, err := builder.Update("digests").
		Set("status", status).
		Set("error_message", errorMessage).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("updating digest status: %w", err)
	}
	return nil
}

// AddDigestItems writes shown-item ledger entries: one per included item with
// the content hash the item had at the moment it was shown.
func (s *Store) AddDigestItems(digestID string, entries []LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO digest_items (digest_id, item_id, content_hash_at_send)
			VALUES (?, ?, ?)`, digestID, e.ItemID, e.ContentHash); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting ledger entry for item %s: %w", e.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger entries: %w", err)
	}
	return nil
}

// LedgerEntry associates an item with the hash it carried when shown.
type LedgerEntry struct {
	ItemID      string
	ContentHash string
}

// DigestItems returns the ledger entries of a digest.
func (s *Store) DigestItems(digestID string) ([]LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT item_id, content_hash_at_send FROM digest_items WHERE digest_id = ?`, digestID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ItemID, &e.ContentHash); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDigestSent transitions a digest to sent with delivery details.
func (s *Store) MarkDigestSent(id string, messageID int64, content string, itemCount int) error {
	query, args, err := builder.Update("digests").
		Set("status", DigestSent).
		Set("sent_at", formatTime(time.Now().UTC())).
		Set("message_id", messageID).
		Set("content", content).
		Set("item_count", itemCount).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building sent update: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("marking digest sent: %w", err)
	}
	return nil
}

func scanDigest(r rowScanner) (Digest, error) {
	var (
		d                     Digest
		scheduledAt, sentAt   sql.NullString
		createdAt             string
	)
	err := r.Scan(&d.ID, &d.Type, &d.Status, &scheduledAt, &sentAt, &d.MessageID,
		&d.Content, &d.ItemCount, &d.ErrorMessage, &createdAt)
	if err != nil {
		return Digest{}, err
	}
	if d.ScheduledAt, err = parseNullableTime(scheduledAt); err != nil {
		return Digest{}, err
	}
	if d.SentAt, err = parseNullableTime(sentAt); err != nil {
		return Digest{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Digest{}, err
	}
	return d, nil
}
