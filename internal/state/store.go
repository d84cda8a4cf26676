package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"taskpipe/internal/record"
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Store keeps run bookkeeping and persisted records in SQLite or Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

type RunRecord struct {
	RunID      string
	Command    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
	Processed  int
	Succeeded  int
	Failed     int
}

type StoredRecord struct {
	RecordID  string
	RunID     string
	Record    record.ExecutionRecord
	CreatedAt time.Time
}

type StatusSummary struct {
	Runs       int            `json:"runs"`
	Records    int            `json:"records"`
	ByStatus   map[string]int `json:"by_status"`
	LastRunID  string         `json:"last_run_id,omitempty"`
	LastStatus string         `json:"last_status,omitempty"`
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, driver: DriverSQLite}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects through pgx and pings before returning.
func OpenPostgres(ctx context.Context, url string, pingTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open(DriverPostgres, url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{db: db, driver: DriverPostgres}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
		  run_id TEXT PRIMARY KEY,
		  command TEXT NOT NULL,
		  started_at TEXT NOT NULL,
		  finished_at TEXT,
		  outcome TEXT,
		  processed_count INTEGER NOT NULL DEFAULT 0,
		  success_count INTEGER NOT NULL DEFAULT 0,
		  failed_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS records (
		  record_id TEXT PRIMARY KEY,
		  run_id TEXT,
		  status TEXT NOT NULL,
		  document TEXT NOT NULL,
		  created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
		  key TEXT PRIMARY KEY,
		  value TEXT NOT NULL,
		  updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.SetKV("schema_version", "1")
}

func (s *Store) BeginRun(command string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(s.rebind(`INSERT INTO runs (run_id, command, started_at) VALUES (?, ?, ?)`),
		runID, command, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", err
	}
	return runID, nil
}

// FinishRun closes a run row. outcome is a record status, or "interrupted"
// and "error" for runs that stored no record.
func (s *Store) FinishRun(runID string, finishedAt time.Time, outcome string, processed, success, failed int) error {
	_, err := s.db.Exec(s.rebind(`
		UPDATE runs
		SET finished_at = ?, outcome = ?, processed_count = ?, success_count = ?, failed_count = ?
		WHERE run_id = ?`),
		finishedAt.UTC().Format(timeLayout), nullable(outcome), processed, success, failed, runID)
	return err
}

func (s *Store) GetRun(runID string) (RunRecord, bool, error) {
	var (
		rec         RunRecord
		startedRaw  string
		finishedRaw sql.NullString
		outcome     sql.NullString
	)
	err := s.db.QueryRow(s.rebind(`
		SELECT run_id, command, started_at, finished_at, outcome, processed_count, success_count, failed_count
		FROM runs WHERE run_id = ?`), runID).
		Scan(&rec.RunID, &rec.Command, &startedRaw, &finishedRaw, &outcome, &rec.Processed, &rec.Succeeded, &rec.Failed)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	rec.Outcome = outcome.String
	if t, err := time.Parse(timeLayout, startedRaw); err == nil {
		rec.StartedAt = t
	}
	if finishedRaw.Valid {
		if t, err := time.Parse(timeLayout, finishedRaw.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	return rec, true, nil
}

// Save stores rec, linked to the run id carried by ctx if any.
func (s *Store) Save(ctx context.Context, rec record.ExecutionRecord) error {
	doc, err := record.Marshal(rec, 0)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO records (record_id, run_id, status, document, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(),
		nullable(record.RunIDFromContext(ctx)),
		string(rec.Status()),
		string(doc),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) LatestRecord(ctx context.Context) (StoredRecord, bool, error) {
	recs, err := s.ListRecords(ctx, 1)
	if err != nil || len(recs) == 0 {
		return StoredRecord{}, false, err
	}
	return recs[0], true, nil
}

// ListRecords returns up to limit records, newest first.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT record_id, run_id, document, created_at
		FROM records
		ORDER BY created_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredRecord, 0)
	for rows.Next() {
		var (
			sr         StoredRecord
			runID      sql.NullString
			doc        string
			createdRaw string
		)
		if err := rows.Scan(&sr.RecordID, &runID, &doc, &createdRaw); err != nil {
			return nil, err
		}
		sr.RunID = runID.String
		sr.Record, err = record.Unmarshal([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", sr.RecordID, err)
		}
		if t, err := time.Parse(timeLayout, createdRaw); err == nil {
			sr.CreatedAt = t
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) SetKV(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, now)
	return err
}

func (s *Store) GetKV(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(s.rebind(`SELECT value FROM kv WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Summary(ctx context.Context) (StatusSummary, error) {
	summary := StatusSummary{ByStatus: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&summary.Runs); err != nil {
		return summary, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return summary, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, err
		}
		summary.ByStatus[status] = count
		summary.Records += count
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}
	rows.Close()

	if latest, ok, err := s.LatestRecord(ctx); err == nil && ok {
		summary.LastRunID = latest.RunID
		summary.LastStatus = string(latest.Record.Status())
	}
	return summary, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
