package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var sourceColumns = []string{
	"id", "project_id", "source_type", "name", "credentials", "config",
	"is_active", "last_synced_at", "created_at",
}

// CreateSource inserts a new source and returns it with generated fields set.
func (s *Store) CreateSource(src Source) (Source, error) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	src.CreatedAt = time.Now().UTC()

	creds, err := marshalJSON(src.Credentials)
	if err != nil {
		return Source{}, err
	}
	cfg, err := marshalJSON(src.Config)
	if err != nil {
		return Source{}, err
	}

	query, args, err := builder.Insert("sources").
		Columns(sourceColumns...).
		Values(src.ID, src.ProjectID, src.Type, src.Name, creds, cfg,
			src.Active, formatNullableTime(src.LastSyncedAt), formatTime(src.CreatedAt)).
		ToSql()
	if err != nil {
		return Source{}, fmt.Errorf("building source insert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return Source{}, fmt.Errorf("inserting source: %w", err)
	}
	return src, nil
}

// GetSource returns a source by ID.
func (s *Store) GetSource(id string) (Source, error) {
	query, args, err := builder.Select(sourceColumns...).
		From("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Source{}, fmt.Errorf("building source select: %w", err)
	}
	row := s.db.QueryRow(query, args...)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return Source{}, ErrNotFound
	}
	return src, err
}

// ListSources returns all sources ordered by name.
func (s *Store) ListSources() ([]Source, error) {
	return s.querySources(builder.Select(sourceColumns...).From("sources").OrderBy("name"))
}

// GetActiveSources returns all sources with the active flag set.
func (s *Store) GetActiveSources() ([]Source, error) {
	return s.querySources(builder.Select(sourceColumns...).
		From("sources").Where(sq.Eq{"is_active": true}).OrderBy("name"))
}

func (s *Store) querySources(b sq.SelectBuilder) ([]Source, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sources select: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpdateSourceLastSynced sets the last successful collection time for a source.
func (s *Store) UpdateSourceLastSynced(id string, at time.Time) error {
	query, args, err := builder.Update("sources").
		Set("last_synced_at", formatTime(at)).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building last_synced update: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("updating last_synced_at: %w", err)
	}
	return nil
}

// SetSourceActive toggles a source's active flag.
func (s *Store) SetSourceActive(id string, active bool) error {
	query, args, err := builder.Update("sources").
		Set("is_active", active).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building is_active update: %w", err)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating is_active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (Source, error) {
	var (
		src        Source
		creds, cfg string
		lastSynced sql.NullString
		createdAt  string
	)
	err := r.Scan(&src.ID, &src.ProjectID, &src.Type, &src.Name, &creds, &cfg,
		&src.Active, &lastSynced, &createdAt)
	if err != nil {
		return Source{}, err
	}
	if src.Credentials, err = unmarshalJSON(creds); err != nil {
		return Source{}, err
	}
	if src.Config, err = unmarshalJSON(cfg); err != nil {
		return Source{}, err
	}
	if src.LastSyncedAt, err = parseNullableTime(lastSynced); err != nil {
		return Source{}, err
	}
	if src.CreatedAt, err = parseTime(createdAt); err != nil {
		return Source{}, err
	}
	return src, nil
}

// --- Projects ---

// CreateProject inserts a project.
func (s *Store) CreateProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	query, args, err := builder.Insert("projects").
		Columns("id", "name", "color", "created_at").
		Values(p.ID, p.Name, p.Color, formatTime(p.CreatedAt)).ToSql()
	if err != nil {
		return Project{}, fmt.Errorf("building project insert: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return Project{}, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects() ([]Project, error) {
	query, args, err := builder.Select("id", "name", "color", "created_at").
		From("projects").OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building projects select: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Color, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
