package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultSummaryCap bounds the number of summary records kept.
const DefaultSummaryCap = 100

// Store wraps a SQLite database holding summary records, session snapshots
// and the background job queue.
type Store struct {
	db         *sql.DB
	summaryCap int
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vidsum.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, summaryCap: DefaultSummaryCap}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// SetSummaryCap changes how many summary records are retained. Values below
// one are ignored.
func (s *Store) SetSummaryCap(n int) {
	if n > 0 {
		s.summaryCap = n
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that have not been run yet, in
// filename order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Summary records ---

// PutSummary inserts or replaces the summary for videoRef, marks it most
// recently used and evicts the least recently used records beyond the cap.
func (s *Store) PutSummary(ctx context.Context, videoRef, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning summary transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO summary_records (video_ref, summary, created_at, updated_at, used_seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(used_seq), 0) + 1 FROM summary_records))
		ON CONFLICT(video_ref) DO UPDATE SET
			summary = excluded.summary,
			updated_at = excluded.updated_at,
			used_seq = excluded.used_seq`,
		videoRef, summary, now, now,
	); err != nil {
		return fmt.Errorf("upserting summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM summary_records WHERE video_ref NOT IN (
			SELECT video_ref FROM summary_records ORDER BY used_seq DESC LIMIT ?
		)`, s.summaryCap,
	); err != nil {
		return fmt.Errorf("evicting summaries: %w", err)
	}

	return tx.Commit()
}

// LookupSummary returns the summary for videoRef and refreshes its recency.
func (s *Store) LookupSummary(ctx context.Context, videoRef string) (string, bool, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM summary_records WHERE video_ref = ?`, videoRef).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE summary_records
		SET used_seq = (SELECT COALESCE(MAX(used_seq), 0) + 1 FROM summary_records)
		WHERE video_ref = ?`, videoRef,
	); err != nil {
		return "", false, fmt.Errorf("touching summary: %w", err)
	}
	return summary, true, nil
}

// ListSummaries returns summary records, most recently used first.
func (s *Store) ListSummaries(ctx context.Context, limit, offset int) ([]SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_ref, summary, created_at, updated_at
		FROM summary_records ORDER BY used_seq DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []SummaryRecord{}
	for rows.Next() {
		var r SummaryRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&r.VideoRef, &r.Summary, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := parseTimes(&r, createdAt, updatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func parseTimes(r *SummaryRecord, createdAt, updatedAt string) error {
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}

// --- Session snapshots ---

func (s *Store) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session_snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE name = ?`, name)
	return err
}
