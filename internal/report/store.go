// Package report provides PostgreSQL-backed storage for moderation reports.
// Each report captures an analyzed text, its flags and overall toxicity, and
// the ruleset version that produced them (for moderator review and export).
package report

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/whisper/moderation/internal/moderation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no report has the requested ID.
var ErrNotFound = errors.New("report: not found")

// MaxListLimit caps ListRecent.
const MaxListLimit = 100

// Store manages moderation reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report is a persisted moderation result.
type Report struct {
	ID             uuid.UUID            `json:"id"`
	Result         *moderation.Result   `json:"result"`
	RiskLevel      moderation.RiskLevel `json:"risk_level"`
	RulesetVersion string               `json:"ruleset_version"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Open connects to PostgreSQL at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations. It is a no-op when the
// schema is current.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("report: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("report: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("report: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("report: migrate up: %w", err)
	}
	return nil
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts res and returns the new report's ID. Flags are marshalled
// to JSONB.
func (s *Store) Create(ctx context.Context, res *moderation.Result, rulesetVersion string) (uuid.UUID, error) {
	if res == nil {
		return uuid.Nil, errors.New("report: nil result")
	}
	flags := res.Flags
	if flags == nil {
		flags = []moderation.Flag{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return uuid.Nil, fmt.Errorf("report: marshal flags: %w", err)
	}

	id := uuid.New()
	const query = `
		INSERT INTO moderation_reports (id, text, flags, overall_toxicity, risk_level, ruleset_version)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		id,
		res.Text,
		flagsJSON,
		res.OverallToxicity,
		string(res.Risk()),
		rulesetVersion,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("report: insert: %w", err)
	}
	return id, nil
}

// Get returns the report with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	const query = `
		SELECT id, text, flags, overall_toxicity, risk_level, ruleset_version, created_at
		FROM moderation_reports
		WHERE id = $1`

	r, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("report: get: %w", err)
	}
	return r, nil
}

// ListRecent returns up to limit reports, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Report, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	const query = `
		SELECT id, text, flags, overall_toxicity, risk_level, ruleset_version, created_at
		FROM moderation_reports
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("report: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r         Report
		res       moderation.Result
		flagsJSON []byte
		risk      string
	)
	if err := row.Scan(&r.ID, &res.Text, &flagsJSON, &res.OverallToxicity, &risk, &r.RulesetVersion, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flagsJSON, &res.Flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	if res.Flags == nil {
		res.Flags = []moderation.Flag{}
	}
	r.Result = &res
	r.RiskLevel = moderation.RiskLevel(risk)
	return &r, nil
}
