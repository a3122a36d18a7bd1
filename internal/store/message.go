package store

import (
	"database/sql"
	"time"
)

const messageColumns = `id, client_message_id, COALESCE(server_message_id, ''), chat_id, sender_id, content, COALESCE(reply_to_message_id, ''), status, timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ClientMessageID, &m.ServerMessageID, &m.ChatID,
		&m.SenderID, &m.Content, &m.ReplyToMessageID, &m.Status, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertMessage inserts a new message row and records its rowid.
func (db *DB) InsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (client_message_id, server_message_id, chat_id, sender_id, content, reply_to_message_id, status, timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ClientMessageID, nullable(m.ServerMessageID), m.ChatID, m.SenderID,
		m.Content, nullable(m.ReplyToMessageID), m.Status, m.Timestamp, now, now)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// UpdateMessage rewrites a message row by rowid.
func (db *DB) UpdateMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages
		SET client_message_id = ?, server_message_id = ?, sender_id = ?, content = ?,
		    reply_to_message_id = ?, status = ?, timestamp = ?, updated_at = ?
		WHERE id = ?`,
		m.ClientMessageID, nullable(m.ServerMessageID), m.SenderID, m.Content,
		nullable(m.ReplyToMessageID), m.Status, m.Timestamp, now, m.ID)
	return err
}

// GetMessageByServerID returns the message with the given server id,
// or nil if none exists.
func (db *DB) GetMessageByServerID(serverID string) (*Message, error) {
	if serverID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE server_message_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMessageByClientID returns the message with the given client id,
// or nil if none exists.
func (db *DB) GetMessageByClientID(clientID string) (*Message, error) {
	if clientID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE client_message_id = ?`, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMessagesBefore returns up to limit messages strictly older than
// beforeTS, in ascending (timestamp, client_message_id) order.
func (db *DB) ListMessagesBefore(chatID string, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, client_message_id DESC
		LIMIT ?`, chatID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query runs newest-first to apply the limit; callers want oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesForChat returns every message of a chat, oldest first.
func (db *DB) MessagesForChat(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, client_message_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// OldestTimestamp returns the oldest loaded message timestamp for a
// chat, or 0 when the chat has no messages.
func (db *DB) OldestTimestamp(chatID string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MIN(timestamp) FROM messages WHERE chat_id = ?`, chatID).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// DeleteMessageByServerID removes a message by server identity.
func (db *DB) DeleteMessageByServerID(serverID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE server_message_id = ?`, serverID)
	return err
}

// DeleteMessageByClientID removes a message by client identity.
func (db *DB) DeleteMessageByClientID(clientID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE client_message_id = ?`, clientID)
	return err
}

// ClearChatMessages removes every message of a chat.
func (db *DB) ClearChatMessages(chatID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

// UnreadInboundServerIDs returns the server ids of messages in a chat
// that were sent by someone else and are not yet marked read.
func (db *DB) UnreadInboundServerIDs(chatID, selfID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT server_message_id
		FROM messages
		WHERE chat_id = ? AND sender_id != ? AND status != 'read' AND server_message_id IS NOT NULL
		ORDER BY timestamp ASC, client_message_id ASC`, chatID, selfID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageCount returns the number of stored messages for a chat.
func (db *DB) MessageCount(chatID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}

// QueuedMessages returns every message still awaiting a send, oldest
// composed first so delivery preserves authoring order.
func (db *DB) QueuedMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = 'queued'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
