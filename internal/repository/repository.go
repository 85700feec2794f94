// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-health/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps history queries that do not set a limit.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo, err := NewWithDB(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewWithDB wraps an open database and runs migrations.
func NewWithDB(db *sql.DB, driver string) (*SQLRepository, error) {
	repo := &SQLRepository{
		db:     db,
		driver: driver,
	}
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAssessment inserts an assessment or replaces the stored one with the same ID.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, user_id, status, age, answers, report, summary, error, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			report = excluded.report,
			summary = excluded.summary,
			error = excluded.error,
			metadata = excluded.metadata
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.UserID, a.Status, a.Age,
		string(answers), string(report), a.Summary, a.Error,
		a.CreatedAt, string(metadata),
	)
	return err
}

const selectAssessment = `
	SELECT id, user_id, status, age, answers, report, summary, error, created_at, metadata
	FROM assessments
`

// GetAssessment retrieves an assessment by ID with user isolation. Rows saved
// without a user stay readable by ID alone; rows owned by a user are only
// returned to that user.
func (r *SQLRepository) GetAssessment(ctx context.Context, userID, id string) (*domain.Assessment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query := selectAssessment + " WHERE id = ? AND (user_id = '' OR user_id = ?)"
	row := r.db.QueryRowContext(ctx, r.rebind(query), id, userID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns a user's assessments, newest first.
func (r *SQLRepository) ListAssessments(ctx context.Context, userID string, limit int) ([]*domain.Assessment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := selectAssessment + `
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(s scanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var answers, report, metadata string

	if err := s.Scan(
		&a.ID, &a.UserID, &a.Status, &a.Age,
		&answers, &report, &a.Summary, &a.Error,
		&a.CreatedAt, &metadata,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, fmt.Errorf("failed to parse answers of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(report), &a.Report); err != nil {
		return nil, fmt.Errorf("failed to parse report of %s: %w", a.ID, err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
