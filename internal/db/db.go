package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens the database, creating the parent directory when needed.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationLists,
		migrationRecipients,
		migrationLanes,
		migrationLetters,
		migrationCampaigns,
		migrationSources,
		migrationDeliveries,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationLists = `
CREATE TABLE IF NOT EXISTS lists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    title TEXT NOT NULL,
    stop INTEGER NOT NULL DEFAULT 0,
    confirm INTEGER NOT NULL DEFAULT 0,
    config TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lists_owner ON lists(owner);
`

const migrationRecipients = `
CREATE TABLE IF NOT EXISTS recipients (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
    email TEXT NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    confirmed INTEGER NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recipients_list_id ON recipients(list_id);
CREATE INDEX IF NOT EXISTS idx_recipients_email ON recipients(email);
`

const migrationLanes = `
CREATE TABLE IF NOT EXISTS lanes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    title TEXT NOT NULL,
    config TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lanes_owner ON lanes(owner);
`

const migrationLetters = `
CREATE TABLE IF NOT EXISTS letters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lane_id INTEGER NOT NULL REFERENCES lanes(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    place INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    speed INTEGER NOT NULL DEFAULT 65536,
    config TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    UNIQUE(lane_id, place)
);
CREATE INDEX IF NOT EXISTS idx_letters_lane_id ON letters(lane_id);
`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    lane_id INTEGER NOT NULL REFERENCES lanes(id),
    title TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    speed INTEGER NOT NULL DEFAULT 65536,
    exhausted TIMESTAMP,
    config TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_owner ON campaigns(owner);
CREATE INDEX IF NOT EXISTS idx_campaigns_lane_id ON campaigns(lane_id);
`

const migrationSources = `
CREATE TABLE IF NOT EXISTS sources (
    campaign_id INTEGER NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
    UNIQUE(campaign_id, list_id)
);
CREATE INDEX IF NOT EXISTS idx_sources_list_id ON sources(list_id);
`

// The (campaign_id, created_at) and (letter_id, created_at) indexes back
// the sliding-window throughput counts computed at selection time.
const migrationDeliveries = `
CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recipient_id INTEGER NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
    campaign_id INTEGER REFERENCES campaigns(id),
    letter_id INTEGER REFERENCES letters(id),
    created_at TIMESTAMP NOT NULL,
    relax TIMESTAMP,
    details TEXT NOT NULL DEFAULT '',
    opened TIMESTAMP,
    bounced TIMESTAMP,
    unsubscribed TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_campaign_created ON deliveries(campaign_id, created_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_letter_created ON deliveries(letter_id, created_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_recipient_created ON deliveries(recipient_id, created_at);
`
