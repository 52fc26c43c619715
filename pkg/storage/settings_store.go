package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dougsko/rigd/pkg/logging"
)

// ErrNotFound is returned by Load for a missing key.
var ErrNotFound = errors.New("setting not found")

// SettingsStore persists settings and rig state history in SQLite.
// Values are CBOR encoded so any struct round-trips.
type SettingsStore struct {
	db         *sql.DB
	dbPath     string
	maxHistory int
	logger     *logging.Logger
}

// Entry describes one stored setting.
type Entry struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSettingsStore opens or creates the database. maxHistory bounds the
// state history table; zero keeps everything.
func NewSettingsStore(dbPath string, maxHistory int, logger *logging.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	store := &SettingsStore{
		dbPath:     dbPath,
		maxHistory: maxHistory,
		logger:     logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize settings store: %w", err)
	}

	return store, nil
}

func (ss *SettingsStore) initialize() error {
	if ss.dbPath == "" {
		ss.dbPath = "./rigd.db"
	}
	if err := os.MkdirAll(filepath.Dir(ss.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ss.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ss.db = db

	if err := ss.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	ss.logger.Infof("storage", "Settings store initialized: %s", ss.dbPath)
	return nil
}

func (ss *SettingsStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS state_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		model INTEGER NOT NULL,
		frequency INTEGER NOT NULL DEFAULT 0,
		mode TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		vfo TEXT NOT NULL DEFAULT '',
		ptt BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_state_history_timestamp ON state_history(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_state_history_model ON state_history(model);
	`

	_, err := ss.db.Exec(schema)
	return err
}

// Save stores value under key, replacing any previous value.
func (ss *SettingsStore) Save(key string, value interface{}) error {
	data, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = ss.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load decodes the value stored under key into dst.
func (ss *SettingsStore) Load(key string, dst interface{}) error {
	var data []byte
	err := ss.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := cbor.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (ss *SettingsStore) Delete(key string) error {
	if _, err := ss.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns the stored keys starting with prefix, sorted.
func (ss *SettingsStore) List(prefix string) ([]Entry, error) {
	rows, err := ss.db.Query(`
		SELECT key, length(value), updated_at FROM settings
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Size, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection
func (ss *SettingsStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
