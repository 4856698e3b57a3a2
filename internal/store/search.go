package store

import (
	"database/sql"
	"strings"

	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/status"
)

// SearchMessages performs a case-insensitive substring match over
// message text, optionally scoped to one chat, newest first. Substring
// semantics rule out FTS here: "roject" has to match "project".
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, chat_id, sender_id, text, timestamp, status,
		       media_kind, media_uri, media_size, media_name
		FROM messages
		WHERE text LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*model.Message
	for rows.Next() {
		var m model.Message
		var st string
		var mediaKind, mediaURI, mediaName sql.NullString
		var mediaSize sql.NullInt64

		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Timestamp, &st,
			&mediaKind, &mediaURI, &mediaSize, &mediaName); err != nil {
			return nil, err
		}
		m.Status = status.Status(st)
		if mediaKind.Valid {
			m.Media = &model.Media{
				Kind:      model.MediaKind(mediaKind.String),
				URI:       mediaURI.String,
				Name:      mediaName.String,
				SizeBytes: mediaSize.Int64,
			}
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters in user input so "100%"
// searches for the literal string.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
