package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB opens the on-device database and ensures the schema exists
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Observation records. uuid is the client-generated identity; server_uuid
	-- is assigned by the remote service on first successful sync.
	CREATE TABLE IF NOT EXISTS datasets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		server_uuid TEXT,
		observation_form TEXT NOT NULL,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_datasets_timestamp ON datasets(timestamp);
	CREATE INDEX IF NOT EXISTS idx_datasets_synced ON datasets(synced);

	-- Image attachments, one row per file. Owned by the dataset with the
	-- matching uuid; position orders files within one field.
	CREATE TABLE IF NOT EXISTS dataset_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dataset_uuid TEXT NOT NULL,
		field_uuid TEXT NOT NULL,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		blob BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_dataset_images_dataset_uuid ON dataset_images(dataset_uuid);
	CREATE INDEX IF NOT EXISTS idx_dataset_images_field_uuid ON dataset_images(field_uuid);
	CREATE INDEX IF NOT EXISTS idx_dataset_images_position ON dataset_images(position);
	CREATE INDEX IF NOT EXISTS idx_dataset_images_timestamp ON dataset_images(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dataset_images_synced ON dataset_images(synced);
	CREATE INDEX IF NOT EXISTS idx_dataset_images_dataset_field ON dataset_images(dataset_uuid, field_uuid);
	`

	_, err := db.Exec(schema)
	return err
}
