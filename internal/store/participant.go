package store

import (
	"fmt"
	"time"
)

// ReplaceParticipants swaps a chat's participant set for the given
// one. The server owns the authoritative set; the local copy is a
// cache invalidated wholesale by sync.
func (db *DB) ReplaceParticipants(chatID string, members []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM participants WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	for _, p := range members {
		joined := p.JoinedAt
		if joined == 0 {
			joined = time.Now().UnixMilli()
		}
		if _, err := tx.Exec(`
			INSERT INTO participants (chat_id, user_id, username, role, joined_at)
			VALUES (?, ?, ?, ?, ?)`,
			chatID, p.UserID, p.Username, p.Role, joined); err != nil {
			return fmt.Errorf("insert participant %q: %w", p.UserID, err)
		}
	}
	return tx.Commit()
}

// ParticipantsForChat returns a chat's cached participant set.
func (db *DB) ParticipantsForChat(chatID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT chat_id, user_id, username, role, joined_at
		FROM participants WHERE chat_id = ? ORDER BY joined_at ASC, user_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Username, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, rows.Err()
}
