package store

import (
	"database/sql"
	"time"
)

// UpsertFriend inserts or updates a friend record.
func (db *DB) UpsertFriend(f *Friend) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO friends (user_id, username, name, email, picture, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE friends.name END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE friends.email END,
			picture = excluded.picture,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		f.UserID, f.Username, f.Name, f.Email, nullable(f.Picture), nullable(f.Status), now)
	return err
}

// GetFriend returns a friend by user id, or nil if unknown.
func (db *DB) GetFriend(userID string) (*Friend, error) {
	var f Friend
	var picture, status sql.NullString
	err := db.QueryRow(`
		SELECT user_id, username, name, email, picture, status
		FROM friends WHERE user_id = ?`, userID).
		Scan(&f.UserID, &f.Username, &f.Name, &f.Email, &picture, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Picture = picture.String
	f.Status = status.String
	return &f, nil
}

// ListFriends returns all friends ordered by username.
func (db *DB) ListFriends() ([]Friend, error) {
	rows, err := db.Query(`
		SELECT user_id, username, name, email, picture, status
		FROM friends ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []Friend
	for rows.Next() {
		var f Friend
		var picture, status sql.NullString
		if err := rows.Scan(&f.UserID, &f.Username, &f.Name, &f.Email, &picture, &status); err != nil {
			return nil, err
		}
		f.Picture = picture.String
		f.Status = status.String
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// DeleteFriend removes a friend record.
func (db *DB) DeleteFriend(userID string) error {
	_, err := db.Exec(`DELETE FROM friends WHERE user_id = ?`, userID)
	return err
}
