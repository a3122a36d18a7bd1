package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertChat inserts or updates a chat record. Unread count is owned
// by the increment/reset helpers and is not touched on update.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, name, is_group, creator_id, created_at, unread_count, last_message_content, last_message_ts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			is_group = excluded.is_group,
			creator_id = CASE WHEN excluded.creator_id != '' THEN excluded.creator_id ELSE chats.creator_id END,
			created_at = CASE WHEN excluded.created_at != 0 THEN excluded.created_at ELSE chats.created_at END,
			updated_at = excluded.updated_at`,
		c.ChatID, c.Name, c.IsGroup, c.CreatorID, c.CreatedAt, c.UnreadCount,
		nullable(c.LastMessageContent), c.LastMessageTS, now)
	return err
}

// UpdateChatLastMessage refreshes the cached last-message summary, but
// only forward in time: replaying an old page never regresses it.
func (db *DB) UpdateChatLastMessage(chatID, content string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats
		SET last_message_content = ?, last_message_ts = ?, updated_at = ?
		WHERE chat_id = ? AND COALESCE(last_message_ts, 0) < ?`,
		content, ts, now, chatID, ts)
	return err
}

// GetChat returns a single chat, or nil if unknown.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	var c Chat
	var lastContent sql.NullString
	var lastTS sql.NullInt64
	err := db.QueryRow(`
		SELECT chat_id, name, is_group, creator_id, created_at, unread_count, last_message_content, last_message_ts
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.Name, &c.IsGroup, &c.CreatorID, &c.CreatedAt, &c.UnreadCount, &lastContent, &lastTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastMessageContent = lastContent.String
	c.LastMessageTS = lastTS.Int64
	return &c, nil
}

// ListChats returns chats sorted by last message timestamp descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT chat_id, name, is_group, creator_id, created_at, unread_count, last_message_content, last_message_ts
		FROM chats
		ORDER BY COALESCE(last_message_ts, created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var lastContent sql.NullString
		var lastTS sql.NullInt64
		if err := rows.Scan(&c.ChatID, &c.Name, &c.IsGroup, &c.CreatorID, &c.CreatedAt, &c.UnreadCount, &lastContent, &lastTS); err != nil {
			return nil, err
		}
		c.LastMessageContent = lastContent.String
		c.LastMessageTS = lastTS.Int64
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat with its messages and participants.
func (db *DB) DeleteChat(chatID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM participants WHERE chat_id = ?`,
		`DELETE FROM chats WHERE chat_id = ?`,
	} {
		if _, err := tx.Exec(q, chatID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IncrementUnread bumps a chat's unread counter.
func (db *DB) IncrementUnread(chatID string) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = unread_count + 1 WHERE chat_id = ?`, chatID)
	return err
}

// ResetUnread clears a chat's unread counter.
func (db *DB) ResetUnread(chatID string) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = 0 WHERE chat_id = ?`, chatID)
	return err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
