package storage

import (
	"database/sql"
	"fmt"
)

// migration is one forward schema step, applied inside a transaction.
type migration struct {
	version int
	stmts   []string
}

// migrations is the ordered list applied to bring a fresh or older database
// up to currentSchemaVersion (spec §4.7: "read schema_version; if lower
// than current, apply migrations sequentially inside a transaction; write
// the new version at end").
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				role TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				tool_call_id TEXT NOT NULL DEFAULT '',
				tool_calls TEXT,
				tokens INTEGER NOT NULL DEFAULT 0,
				timestamp TEXT NOT NULL,
				in_context INTEGER NOT NULL DEFAULT 1,
				summary_of TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS session_markers (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				session_type TEXT NOT NULL,
				session_status TEXT NOT NULL,
				parent_agent_id TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_in_context ON messages (in_context)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_role ON messages (role)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id INTEGER NOT NULL REFERENCES messages(id),
				event_type TEXT NOT NULL,
				data TEXT,
				timestamp TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type)`,
			`CREATE INDEX IF NOT EXISTS idx_events_message_id ON events (message_id)`,
			`CREATE INDEX IF NOT EXISTS idx_session_markers_status ON session_markers (session_status)`,
			`CREATE INDEX IF NOT EXISTS idx_session_markers_type ON session_markers (session_type)`,
		},
	},
}

func (s *Store) migrate() error {
	current, err := readSchemaVersion(s.db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(s.db, m); err != nil {
			return fmt.Errorf("storage: apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("storage: check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema_version: %w", err)
	}
	return int(version.Int64), nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}

	return tx.Commit()
}
