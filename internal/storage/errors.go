package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// CreateCollectorError records one collection failure for a source.
func (s *Store) CreateCollectorError(sourceID, kind, message string) (CollectorError, error) {
	e := CollectorError{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	query, args, err := builder.Insert("collector_errors").
		Columns("id", "source_id", "error_kind", "error_message", "resolved", "created_at").
		Values(e.ID, e.SourceID, e.Kind, e.Message, false, formatTime(e.CreatedAt)).
		ToSql()
	if err != nil {
		return CollectorError{}, fmt.Errorf("building error insert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return CollectorError{}, fmt.Errorf("inserting collector error: %w", err)
	}
	return e, nil
}

// MarkErrorsResolved bulk-resolves all unresolved errors of a source. Called
// after the source next collects successfully.
func (s *Store) MarkErrorsResolved(sourceID string) error {
	query, args, err := builder.Update("collector_errors").
		Set("resolved", true).
		Where(sq.Eq{"source_id": sourceID, "resolved": false}).ToSql()
	if err != nil {
		return fmt.Errorf("building resolve update: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("resolving collector errors: %w", err)
	}
	return nil
}

// UnresolvedErrors returns open errors, optionally filtered by source
// (empty sourceID means all sources).
func (s *Store) UnresolvedErrors(sourceID string) ([]CollectorError, error) {
	b := builder.Select("id", "source_id", "error_kind", "error_message", "resolved", "created_at").
		From("collector_errors").
		Where(sq.Eq{"resolved": false}).
		OrderBy("created_at DESC")
	if sourceID != "" {
		b = b.Where(sq.Eq{"source_id": sourceID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building errors select: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying collector errors: %w", err)
	}
	defer rows.Close()

	var errs []CollectorError
	for rows.Next() {
		var e CollectorError
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Kind, &e.Message, &e.Resolved, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
