package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

// DB persists provider membership snapshots (WA members, region rosters, ...)
// so that a fresh process does not have to re-download them.
type DB struct {
	sql *sql.DB
}

// SnapshotStat describes one cached snapshot.
type SnapshotStat struct {
	Key       string
	Count     int
	FetchedAt time.Time
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  key         TEXT PRIMARY KEY,
  names       TEXT NOT NULL,
  name_count  INTEGER NOT NULL,
  fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(fetched_at);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SaveSnapshot stores names under key, replacing any previous snapshot.
func (d *DB) SaveSnapshot(ctx context.Context, key string, names []string, fetchedAt time.Time) error {
	if key == "" {
		return errors.New("empty snapshot key")
	}
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `
INSERT INTO snapshots(key, names, name_count, fetched_at) VALUES(?,?,?,?)
ON CONFLICT(key) DO UPDATE SET names = excluded.names, name_count = excluded.name_count, fetched_at = excluded.fetched_at`,
		key, string(raw), len(names), fetchedAt.UTC().UnixNano())
	return err
}

// LoadSnapshot returns the snapshot stored under key. ok is false when there is none.
func (d *DB) LoadSnapshot(ctx context.Context, key string) (names []string, fetchedAt time.Time, ok bool, err error) {
	var raw string
	var ts int64
	err = d.sql.QueryRowContext(ctx, "SELECT names, fetched_at FROM snapshots WHERE key = ?", key).Scan(&raw, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	arr := gjson.Parse(raw).Array()
	names = make([]string, 0, len(arr))
	for _, v := range arr {
		names = append(names, v.String())
	}
	return names, time.Unix(0, ts).UTC(), true, nil
}

// Stats lists every stored snapshot, most recently fetched first.
func (d *DB) Stats(ctx context.Context) ([]SnapshotStat, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT key, name_count, fetched_at FROM snapshots ORDER BY fetched_at DESC, key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SnapshotStat
	for rows.Next() {
		var s SnapshotStat
		var ts int64
		if err := rows.Scan(&s.Key, &s.Count, &ts); err != nil {
			return nil, err
		}
		s.FetchedAt = time.Unix(0, ts).UTC()
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Clear deletes every snapshot and returns how many were removed.
func (d *DB) Clear(ctx context.Context) (int64, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM snapshots")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Prune deletes snapshots fetched before cutoff.
func (d *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM snapshots WHERE fetched_at < ?", cutoff.UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
