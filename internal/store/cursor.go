package store

import (
	"database/sql"
	"time"
)

// Cursor resource keys. Per-chat message cursors append the chat id.
const (
	CursorChats   = "chats"
	CursorFriends = "friends"
)

// MessageCursor returns the cursor resource key for one chat's messages.
func MessageCursor(chatID string) string {
	return "messages:" + chatID
}

// GetCursor returns the last-synced server timestamp for a resource,
// or 0 when the resource has never synced.
func (db *DB) GetCursor(resource string) (int64, error) {
	var ts int64
	err := db.QueryRow(`SELECT last_synced_at FROM sync_cursors WHERE resource = ?`, resource).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return ts, err
}

// SetCursor records the last-synced server timestamp for a resource.
// Written only after a sync batch is fully applied; a crash before the
// write repeats the batch, which the engine applies idempotently.
func (db *DB) SetCursor(resource string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (resource, last_synced_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		resource, ts, now)
	return err
}

// ResetCursor drops a resource back to the epoch, forcing a full
// refetch on the next sync.
func (db *DB) ResetCursor(resource string) error {
	return db.SetCursor(resource, 0)
}

// ResetAllCursors drops every resource back to the epoch.
func (db *DB) ResetAllCursors() error {
	_, err := db.Exec(`DELETE FROM sync_cursors`)
	return err
}

// MessageCursorChats lists the chat ids that have a message cursor,
// i.e. the chats whose timelines have synced at least once.
func (db *DB) MessageCursorChats() ([]string, error) {
	rows, err := db.Query(`SELECT resource FROM sync_cursors WHERE resource LIKE 'messages:%'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, err
		}
		ids = append(ids, res[len("messages:"):])
	}
	return ids, rows.Err()
}
