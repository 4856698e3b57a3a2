package store

import (
	"fmt"
	"time"

	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/status"
)

// Seeded reports whether the database already has users.
func (db *DB) Seeded() (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeedDemo populates the store with demo users and two conversations so
// a fresh profile has something to show. No-op when users already exist.
func (db *DB) SeedDemo() error {
	seeded, err := db.Seeded()
	if err != nil {
		return fmt.Errorf("check seed: %w", err)
	}
	if seeded {
		return nil
	}

	users := []model.User{
		{ID: "1", Name: "John Doe", AvatarRef: "https://i.pravatar.cc/150?img=1", Presence: model.Online},
		{ID: "2", Name: "Jane Smith", AvatarRef: "https://i.pravatar.cc/150?img=2", Presence: model.Offline},
		{ID: "3", Name: "Mike Johnson", AvatarRef: "https://i.pravatar.cc/150?img=3", Presence: model.Away},
		{ID: "4", Name: "Sarah Williams", AvatarRef: "https://i.pravatar.cc/150?img=4", Presence: model.Online},
	}
	for i := range users {
		if err := db.UpsertUser(&users[i]); err != nil {
			return fmt.Errorf("seed user %s: %w", users[i].ID, err)
		}
	}

	now := time.Now().UnixMilli()
	chats := []struct {
		id           string
		participants []string
	}{
		{"chat1", []string{"1", "2"}},
		{"chat2", []string{"1", "3"}},
	}
	for _, c := range chats {
		if err := db.CreateChat(c.id, now, c.participants); err != nil {
			return fmt.Errorf("seed chat %s: %w", c.id, err)
		}
	}

	msgs := []*model.Message{
		{ID: "msg1", ChatID: "chat1", SenderID: "2", Text: "Hey, how are you?", Timestamp: now - 3600_000, Status: status.Read},
		{ID: "msg2", ChatID: "chat1", SenderID: "1", Text: "I'm good, thanks for asking!", Timestamp: now - 1800_000, Status: status.Delivered},
		{ID: "msg3", ChatID: "chat2", SenderID: "3", Text: "Did you check the project?", Timestamp: now - 86400_000, Status: status.Delivered},
	}
	for _, m := range msgs {
		if err := db.InsertMessage(m); err != nil {
			return fmt.Errorf("seed message %s: %w", m.ID, err)
		}
	}

	// msg1 was read by the local user.
	return db.InsertReceiptsAndMarkRead([]ReceiptRow{
		{ID: "read-seed-msg1", MessageID: "msg1", UserID: "1", Timestamp: now - 3500_000},
	})
}
