package store

import (
	"fmt"
	"strings"

	"github.com/dfalcao/parley/internal/model"
)

// CreateChat inserts a chat row and all its participant rows in one
// transaction. Position records join order so participant ordering in
// loaded chats is stable. Either everything lands or nothing does.
func (db *DB) CreateChat(chatID string, createdAt int64, participantIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO chats (id, created_at) VALUES (?, ?)`, chatID, createdAt); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	for i, userID := range participantIDs {
		if _, err := tx.Exec(`
			INSERT INTO chat_participants (id, chat_id, user_id, position)
			VALUES (?, ?, ?, ?)`,
			fmt.Sprintf("cp-%s-%s", chatID, userID), chatID, userID, i); err != nil {
			return fmt.Errorf("insert participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chat: %w", err)
	}
	return nil
}

// ChatIDsForUser returns the ids of every chat userID participates in,
// oldest chat first.
func (db *DB) ChatIDsForUser(userID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT cp.chat_id
		FROM chat_participants cp
		JOIN chats c ON c.id = cp.chat_id
		WHERE cp.user_id = ?
		ORDER BY c.created_at, c.id`, userID)
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

// ParticipantsForChats returns full user records per chat for the given
// chat ids, in join order, as a single set-based query.
func (db *DB) ParticipantsForChats(chatIDs []string) (map[string][]model.User, error) {
	result := make(map[string][]model.User, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(chatIDs)-1) + "?"
	args := make([]any, len(chatIDs))
	for i, id := range chatIDs {
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT cp.chat_id, u.id, u.name, u.avatar, u.presence
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.chat_id IN (%s)
		ORDER BY cp.chat_id, cp.position`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var chatID, presence string
		var u model.User
		if err := rows.Scan(&chatID, &u.ID, &u.Name, &u.AvatarRef, &presence); err != nil {
			return nil, err
		}
		u.Presence = model.Presence(presence)
		result[chatID] = append(result[chatID], u)
	}
	return result, rows.Err()
}
