package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// GetSetting returns the value for a key, or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting upserts a key-value setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upserting setting %s: %w", key, err)
	}
	return nil
}

// --- Schedules ---

// CreateSchedule inserts a recurring digest trigger.
func (s *Store) CreateSchedule(sch Schedule) (Schedule, error) {
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	if sch.Timezone == "" {
		sch.Timezone = "UTC"
	}
	sch.CreatedAt = time.Now().UTC()

	projectIDs, err := json.Marshal(sch.ProjectIDs)
	if err != nil {
		return Schedule{}, fmt.Errorf("encoding project ids: %w", err)
	}

	query, args, err := builder.Insert("schedules").
		Columns("id", "name", "digest_type", "at_time", "timezone", "is_active", "project_ids", "created_at").
		Values(sch.ID, sch.Name, sch.DigestType, sch.At, sch.Timezone, sch.Active,
			string(projectIDs), formatTime(sch.CreatedAt)).ToSql()
	if err != nil {
		return Schedule{}, fmt.Errorf("building schedule insert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return Schedule{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return sch, nil
}

// GetActiveSchedules returns all schedules with the active flag set.
func (s *Store) GetActiveSchedules() ([]Schedule, error) {
	query, args, err := builder.
		Select("id", "name", "digest_type", "at_time", "timezone", "is_active", "project_ids", "created_at").
		From("schedules").Where(sq.Eq{"is_active": true}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building schedules select: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var sch Schedule
		var projectIDs, createdAt string
		if err := rows.Scan(&sch.ID, &sch.Name, &sch.DigestType, &sch.At, &sch.Timezone,
			&sch.Active, &projectIDs, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(projectIDs), &sch.ProjectIDs); err != nil {
			return nil, fmt.Errorf("decoding project ids: %w", err)
		}
		if sch.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}
