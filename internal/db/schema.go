package db

import (
	"database/sql"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    first_name TEXT,
    last_name TEXT,
    username TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS progress_records (
    instance_key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_state (
    user_id INTEGER PRIMARY KEY,
    active_flow_id TEXT NOT NULL DEFAULT '',
    wizard_message_id INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Columns added after the first release. Each statement fails harmlessly
// with "duplicate column" on databases that already have it.
var migrations = []string{
	`ALTER TABLE chat_state ADD COLUMN awaiting_input_step TEXT NOT NULL DEFAULT ''`,
}

func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return err
		}
	}

	return nil
}
