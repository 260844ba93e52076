package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/valentindosimont/usagedash/internal/usage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps the history of collected snapshots in SQLite
type Store struct {
	db *sql.DB
}

// Entry is one provider record from a past snapshot
type Entry struct {
	SnapshotID  string
	GeneratedAt time.Time
	Record      usage.StatusRecord
}

// New opens (creating if needed) the history database at dbPath
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "store: create db directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return eris.Wrap(err, "store: read migrations")
	}
	for _, e := range entries {
		schema, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", e.Name())
		}
		if _, err := s.db.Exec(string(schema)); err != nil {
			return eris.Wrapf(err, "store: exec migration %s", e.Name())
		}
	}
	return nil
}

// RecordSnapshot stores every provider record of snap and returns the new snapshot id
func (s *Store) RecordSnapshot(ctx context.Context, snap usage.Snapshot) (string, error) {
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, generated_at) VALUES (?, ?)`,
		id, snap.GeneratedAt.UTC().UnixMilli(),
	); err != nil {
		return "", eris.Wrap(err, "store: insert snapshot")
	}

	for _, rec := range snap.Providers {
		messages, err := json.Marshal(nonNil(rec.Messages))
		if err != nil {
			return "", eris.Wrap(err, "store: marshal messages")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO provider_records (
				snapshot_id, provider, status, source,
				session_used_pct, session_resets_at, weekly_used_pct, weekly_resets_at,
				last_updated_at, messages
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(rec.Provider), string(rec.Status), string(rec.Source),
			nullFloat(rec.SessionUsedPct), nullMillis(rec.SessionResetsAt),
			nullFloat(rec.WeeklyUsedPct), nullMillis(rec.WeeklyResetsAt),
			rec.LastUpdatedAt.UTC().UnixMilli(), string(messages),
		); err != nil {
			return "", eris.Wrapf(err, "store: insert %s record", rec.Provider)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "store: commit")
	}
	return id, nil
}

// Recent returns up to limit records, newest first. An empty provider
// returns records of every provider.
func (s *Store) Recent(ctx context.Context, provider usage.Provider, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.snapshot_id, s.generated_at, r.provider, r.status, r.source,
		       r.session_used_pct, r.session_resets_at, r.weekly_used_pct, r.weekly_resets_at,
		       r.last_updated_at, r.messages
		FROM provider_records r
		JOIN snapshots s ON s.id = r.snapshot_id
		WHERE ? = '' OR r.provider = ?
		ORDER BY s.generated_at DESC, r.id DESC
		LIMIT ?
	`, string(provider), string(provider), limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: query recent")
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e                          Entry
			generatedAt, lastUpdated   int64
			prov, status, source, msgs string
			sessionPct, weeklyPct      sql.NullFloat64
			sessionReset, weeklyReset  sql.NullInt64
		)
		if err := rows.Scan(&e.SnapshotID, &generatedAt, &prov, &status, &source,
			&sessionPct, &sessionReset, &weeklyPct, &weeklyReset, &lastUpdated, &msgs); err != nil {
			return nil, eris.Wrap(err, "store: scan record")
		}

		e.GeneratedAt = time.UnixMilli(generatedAt).UTC()
		e.Record = usage.StatusRecord{
			Provider:        usage.Provider(prov),
			Status:          usage.Health(status),
			Source:          usage.Source(source),
			SessionUsedPct:  floatPtr(sessionPct),
			SessionResetsAt: millisPtr(sessionReset),
			WeeklyUsedPct:   floatPtr(weeklyPct),
			WeeklyResetsAt:  millisPtr(weeklyReset),
			LastUpdatedAt:   time.UnixMilli(lastUpdated).UTC(),
		}
		if err := json.Unmarshal([]byte(msgs), &e.Record.Messages); err != nil {
			return nil, eris.Wrap(err, "store: decode messages")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate records")
	}
	return entries, nil
}

// Prune deletes snapshots generated before the cutoff and returns how many went
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM provider_records
		WHERE snapshot_id IN (SELECT id FROM snapshots WHERE generated_at < ?)
	`, cutoff); err != nil {
		return 0, eris.Wrap(err, "store: prune records")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE generated_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "store: prune snapshots")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "store: rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "store: commit")
	}
	return n, nil
}

func nonNil(msgs []string) []string {
	if msgs == nil {
		return []string{}
	}
	return msgs
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
