// Package settings persists the hot-reloadable runtime configuration (mode,
// prefix, owners, feature toggles) in a SQLite key/value table.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ghostbot/pkg/config"
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// ErrNotSet is returned by Get for a known key that has no stored value.
var ErrNotSet = errors.New("setting not set")

// Entry is one stored setting.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store is the SQLite-backed settings store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating when needed) the settings database at path.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create settings schema: %w", err)
	}

	return &Store{db: db, log: log.With("component", "settings.store")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seed inserts every default whose key is not stored yet; existing values are
// left untouched. It returns the number of keys inserted.
func (s *Store) Seed(ctx context.Context, defaults map[string]string) (int, error) {
	inserted, err := s.write(ctx, "seed", `INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`, defaults)
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		s.log.Info("Seeded default settings", "count", inserted)
	}

	return inserted, nil
}

// Pin writes values over whatever is stored. It returns the number of keys
// whose stored value changed.
func (s *Store) Pin(ctx context.Context, values map[string]string) (int, error) {
	changed, err := s.write(ctx, "pin",
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		 WHERE settings.value <> excluded.value`, values)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.log.Info("Pinned settings from static config", "count", changed)
	}

	return changed, nil
}

// write runs query once per normalized key/value in a single transaction and
// counts affected rows.
func (s *Store) write(ctx context.Context, op, query string, values map[string]string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	affected := 0
	for _, key := range sortedKeys(values) {
		name, value, err := Normalize(key, values[key])
		if err != nil {
			return 0, err
		}

		res, err := tx.ExecContext(ctx, query, name, value, now)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", op, name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			affected++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", op, err)
	}

	return affected, nil
}

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if _, ok := keyRules[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotSet, key)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}

	return value, nil
}

// Set validates and stores value under key, returning the normalized value.
func (s *Store) Set(ctx context.Context, key, value string) (string, error) {
	key, value, err := Normalize(key, value)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("set %s: %w", key, err)
	}

	s.log.Info("Setting updated", "key", key)
	return value, nil
}

// AddAuthUser appends number to the authorized users list. It reports false
// when the number was already present.
func (s *Store) AddAuthUser(ctx context.Context, number string) (bool, error) {
	clean := config.NormalizeNumbers([]string{number})
	if len(clean) == 0 {
		return false, fmt.Errorf("%w: empty number", ErrInvalidValue)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin auth update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, KeyAuthUsers).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read %s: %w", KeyAuthUsers, err)
	}

	users := config.NormalizeNumbers(strings.Split(current, ","))
	if slices.Contains(users, clean[0]) {
		return false, nil
	}
	users = append(users, clean[0])

	_, err = tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyAuthUsers, strings.Join(users, ","), time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("write %s: %w", KeyAuthUsers, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit auth update: %w", err)
	}

	return true, nil
}

// All returns every stored key/value pair, hidden keys included.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		values[entry.Key] = entry.Value
	}

	return values, nil
}

// Visible returns stored entries sorted by key with hidden keys removed.
func (s *Store) Visible(ctx context.Context) ([]Entry, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(entries, func(entry Entry) bool {
		return IsHidden(entry.Key)
	}), nil
}

// Snapshot reads all settings into an immutable per-dispatch view.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.All(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return SnapshotFrom(values), nil
}

func (s *Store) entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			updated int64
		)
		if err := rows.Scan(&entry.Key, &entry.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		entry.UpdatedAt = time.Unix(updated, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}

	return entries, nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}
