// Package store persists scan findings in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrNotFound = errors.New("finding not found")

// Filter narrows List and Export. Domain and Rule are substring matches.
type Filter struct {
	Domain       string
	Rule         string
	DetectedOnly bool
	// Limit caps the number of rows. 0 means no limit.
	Limit int
}

// SQLiteStore is safe for concurrent use; writes are serialized.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger

	writeMu sync.Mutex
}

// Open opens or creates the findings database at cfg.Path.
func Open(cfg Config, logger logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.Path == "" {
		return nil, errors.New("store: database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps pragmas applied and writers from racing on the file lock.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug("findings store opened", logging.Field{Key: "path", Value: cfg.Path})
	return &SQLiteStore{db: db, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Upsert records f, replacing any earlier finding for the same domain and rule.
func (s *SQLiteStore) Upsert(ctx context.Context, f model.Finding) error {
	if f.ScannedAt.IsZero() {
		f.ScannedAt = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (domain, rule_name, matched_path, detected, scanned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, rule_name) DO UPDATE SET
			matched_path = excluded.matched_path,
			detected     = excluded.detected,
			scanned_at   = excluded.scanned_at`,
		f.Domain, f.RuleName, f.MatchedPath, boolToInt(f.Detected), f.ScannedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert finding %s/%s: %w", f.Domain, f.RuleName, err)
	}
	return nil
}

// UpsertBatch records findings in a single transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (domain, rule_name, matched_path, detected, scanned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain, rule_name) DO UPDATE SET
			matched_path = excluded.matched_path,
			detected     = excluded.detected,
			scanned_at   = excluded.scanned_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, f := range findings {
		ts := f.ScannedAt
		if ts.IsZero() {
			ts = now
		}
		if _, err := stmt.ExecContext(ctx, f.Domain, f.RuleName, f.MatchedPath, boolToInt(f.Detected), ts.Unix()); err != nil {
			return fmt.Errorf("upsert finding %s/%s: %w", f.Domain, f.RuleName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit findings: %w", err)
	}
	return nil
}

// Get returns the finding for domain and rule, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, domain, rule string) (*model.Finding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain, rule_name, matched_path, detected, scanned_at
		FROM findings WHERE domain = ? AND rule_name = ?`, domain, rule)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get finding %s/%s: %w", domain, rule, err)
	}
	return f, nil
}

// List returns findings matching filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]model.Finding, error) {
	where, args := filter.where()
	query := `SELECT domain, rule_name, matched_path, detected, scanned_at FROM findings` +
		where + ` ORDER BY scanned_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return out, nil
}

// Count returns the number of findings matching filter. Limit is ignored.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return n, nil
}

// UniqueDomains returns the number of distinct domains with a detected finding.
func (s *SQLiteStore) UniqueDomains(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT domain) FROM findings WHERE detected = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count domains: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Domain != "" {
		clauses = append(clauses, "domain LIKE ?")
		args = append(args, "%"+f.Domain+"%")
	}
	if f.Rule != "" {
		clauses = append(clauses, "rule_name LIKE ?")
		args = append(args, "%"+f.Rule+"%")
	}
	if f.DetectedOnly {
		clauses = append(clauses, "detected = 1")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFinding(row rowScanner) (*model.Finding, error) {
	var (
		f        model.Finding
		detected int
		ts       int64
	)
	if err := row.Scan(&f.Domain, &f.RuleName, &f.MatchedPath, &detected, &ts); err != nil {
		return nil, err
	}
	f.Detected = detected != 0
	f.ScannedAt = time.Unix(ts, 0).UTC()
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
