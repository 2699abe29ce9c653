package memory

// migrations is the ordered list of SQL migration statements.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_username_id ON messages(username, id)`,
	`CREATE TABLE IF NOT EXISTS summary (
		username TEXT PRIMARY KEY,
		summary_text TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS summary_pointer (
		username TEXT PRIMARY KEY,
		last_summarized_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	)`,
	`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`,
}
