package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/status"
)

// InsertMessage persists a new message row. Media columns are NULL for
// text-only messages.
func (db *DB) InsertMessage(m *model.Message) error {
	var kind, uri, name any
	var size any
	if m.Media != nil {
		kind = string(m.Media.Kind)
		uri = m.Media.URI
		name = m.Media.Name
		if m.Media.SizeBytes > 0 {
			size = m.Media.SizeBytes
		}
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, text, timestamp, status, media_kind, media_uri, media_size, media_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.Timestamp, string(m.Status), kind, uri, size, name)
	return err
}

// MessagesForChats loads every message for the given chats with read
// receipts merged, grouped by chat and ascending by (timestamp, id).
//
// The LEFT JOIN yields one row per receipt, so a message read by two
// users arrives twice; rows are deduplicated by message id while the
// receipts accumulate. Without the dedupe a message would show up once
// per reader in the UI.
func (db *DB) MessagesForChats(chatIDs []string) (map[string][]*model.Message, error) {
	result := make(map[string][]*model.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(chatIDs)-1) + "?"
	args := make([]any, len(chatIDs))
	for i, id := range chatIDs {
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT m.id, m.chat_id, m.sender_id, m.text, m.timestamp, m.status,
		       m.media_kind, m.media_uri, m.media_size, m.media_name,
		       r.user_id, r.timestamp
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id
		WHERE m.chat_id IN (%s)
		ORDER BY m.chat_id, m.timestamp, m.id, r.timestamp`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]*model.Message)
	for rows.Next() {
		var m model.Message
		var st string
		var mediaKind, mediaURI, mediaName, readUser sql.NullString
		var mediaSize, readTS sql.NullInt64

		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Timestamp, &st,
			&mediaKind, &mediaURI, &mediaSize, &mediaName, &readUser, &readTS); err != nil {
			return nil, err
		}

		msg, ok := seen[m.ID]
		if !ok {
			m.Status = status.Status(st)
			if mediaKind.Valid {
				m.Media = &model.Media{
					Kind:      model.MediaKind(mediaKind.String),
					URI:       mediaURI.String,
					Name:      mediaName.String,
					SizeBytes: mediaSize.Int64,
				}
			}
			msg = &m
			seen[m.ID] = msg
			result[m.ChatID] = append(result[m.ChatID], msg)
		}
		if readUser.Valid {
			msg.Reads = append(msg.Reads, model.ReadReceipt{
				UserID:    readUser.String,
				Timestamp: readTS.Int64,
			})
		}
	}
	return result, rows.Err()
}

// DeleteMessage hard-deletes a message row; receipts cascade. Deleting a
// nonexistent id is not an error.
func (db *DB) DeleteMessage(messageID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, messageID)
	return err
}

// UpdateMessageStatus advances a message's status monotonically and
// returns the status the row ended up with. The guard is in SQL so two
// racing writers (the deferred delivery timer and a read batch) can
// never move a message backward, whichever commits last.
func (db *DB) UpdateMessageStatus(messageID string, incoming status.Status) (status.Status, error) {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE id = ?
		  AND (CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END) < ?`,
		string(incoming), messageID, status.Rank(incoming))
	if err != nil {
		return "", err
	}

	var st string
	err = db.QueryRow(`SELECT status FROM messages WHERE id = ?`, messageID).Scan(&st)
	if err == sql.ErrNoRows {
		// Deleted between send and the deferred transition; nothing to report.
		return incoming, nil
	}
	if err != nil {
		return "", err
	}
	return status.Status(st), nil
}
