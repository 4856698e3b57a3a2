package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dfalcao/parley/internal/model"
)

// UpsertUser inserts or updates a user record.
func (db *DB) UpsertUser(u *model.User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, name, avatar, presence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			presence = excluded.presence`,
		u.ID, u.Name, u.AvatarRef, string(u.Presence))
	return err
}

// GetUser returns a single user by id, nil when missing.
func (db *DB) GetUser(id string) (*model.User, error) {
	var u model.User
	var presence string
	err := db.QueryRow(`SELECT id, name, avatar, presence FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.AvatarRef, &presence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Presence = model.Presence(presence)
	return &u, nil
}

// ListUsers returns all users ordered by name.
func (db *DB) ListUsers() ([]model.User, error) {
	rows, err := db.Query(`SELECT id, name, avatar, presence FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var presence string
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarRef, &presence); err != nil {
			return nil, err
		}
		u.Presence = model.Presence(presence)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersByIDs returns full user records for the given ids, keyed by id.
func (db *DB) UsersByIDs(ids []string) (map[string]model.User, error) {
	if len(ids) == 0 {
		return map[string]model.User{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf(
		`SELECT id, name, avatar, presence FROM users WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	users := make(map[string]model.User, len(ids))
	for rows.Next() {
		var u model.User
		var presence string
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarRef, &presence); err != nil {
			return nil, err
		}
		u.Presence = model.Presence(presence)
		users[u.ID] = u
	}
	return users, rows.Err()
}
