package store

import (
	"fmt"

	"github.com/dfalcao/parley/internal/status"
)

// ReceiptRow is a prepared read-receipt insert. Ids are generated by the
// repository; the store only persists.
type ReceiptRow struct {
	ID        string
	MessageID string
	UserID    string
	Timestamp int64
}

// InsertReceiptsAndMarkRead records a batch of read receipts and
// advances each message's status to read in a single transaction.
//
// The receipt insert is an upsert no-op on the (message_id, user_id)
// unique index, so re-marking an already read message leaves exactly one
// receipt per reader. The status update keeps the monotonic guard even
// though read is the maximum, so every status write in the codebase goes
// through the same rule.
func (db *DB) InsertReceiptsAndMarkRead(rows []ReceiptRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO message_reads (id, message_id, user_id, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, user_id) DO NOTHING`,
			r.ID, r.MessageID, r.UserID, r.Timestamp); err != nil {
			return fmt.Errorf("insert receipt for %s: %w", r.MessageID, err)
		}

		if _, err := tx.Exec(`
			UPDATE messages SET status = ?
			WHERE id = ?
			  AND (CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END) < ?`,
			string(status.Read), r.MessageID, status.Rank(status.Read)); err != nil {
			return fmt.Errorf("mark %s read: %w", r.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit receipts: %w", err)
	}
	return nil
}

// ReceiptCount returns how many receipt rows exist for a message.
func (db *DB) ReceiptCount(messageID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM message_reads WHERE message_id = ?`, messageID).Scan(&n)
	return n, err
}
