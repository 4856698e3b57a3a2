package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/status"
	"github.com/dfalcao/parley/internal/store"
	"go.uber.org/zap"
)

const testDeliveryDelay = 30 * time.Millisecond

type fixture struct {
	db         *store.DB
	repository *repo.Repository
	bus        *bus.Bus
	rec        *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, u := range []model.User{
		{ID: "A", Name: "Alice", Presence: model.Online},
		{ID: "B", Name: "Bruno", Presence: model.Offline},
		{ID: "C", Name: "Carla", Presence: model.Away},
	} {
		if err := db.UpsertUser(&u); err != nil {
			t.Fatal(err)
		}
	}

	logger := zap.NewNop()
	b := bus.New()
	repository := repo.New(db, logger)
	scheduler := status.NewScheduler(repository, b, testDeliveryDelay, logger)
	t.Cleanup(scheduler.Stop)

	rec := New(repository, scheduler, b, "A", logger)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rec.Stop)

	return &fixture{db: db, repository: repository, bus: b, rec: rec}
}

// waitForStatus polls the snapshot until the message reaches want.
func waitForStatus(t *testing.T, rec *Reconciler, chatID, messageID string, want status.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c := rec.Chat(chatID)
		if c != nil {
			for _, m := range c.Messages {
				if m.ID == messageID && m.Status == want {
					return
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message %s never reached status %s", messageID, want)
}

func TestLoadingGate(t *testing.T) {
	f := newFixture(t)

	// A reconciler that has not started yet refuses mutations.
	unstarted := New(f.repository, status.NewScheduler(f.repository, f.bus, time.Hour, zap.NewNop()), f.bus, "A", zap.NewNop())
	if !unstarted.Loading() {
		t.Error("Loading() = false before Start")
	}
	if _, err := unstarted.SendMessage(context.Background(), "chat1", "hi", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("SendMessage err = %v, want ErrNotReady", err)
	}
	if _, err := unstarted.CreateChat(context.Background(), []string{"A", "B"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("CreateChat err = %v, want ErrNotReady", err)
	}

	if f.rec.Loading() {
		t.Error("Loading() = true after Start")
	}
}

func TestCreateChatAppearsInSnapshot(t *testing.T) {
	f := newFixture(t)

	chat, err := f.rec.CreateChat(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	chats := f.rec.Snapshot()
	if len(chats) != 1 {
		t.Fatalf("snapshot = %d chats, want 1", len(chats))
	}
	got := chats[0]
	if got.ID != chat.ID {
		t.Errorf("chat id = %s, want %s", got.ID, chat.ID)
	}
	if len(got.Participants) != 2 || got.Participants[0].ID != "A" || got.Participants[1].ID != "B" {
		t.Errorf("participants = %v, want [A B]", got.Participants)
	}
	if len(got.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(got.Messages))
	}
}

func TestSendMessageOptimisticThenConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	msg, err := f.rec.SendMessage(ctx, chat.ID, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != status.Sent {
		t.Errorf("returned status = %s, want sent", msg.Status)
	}

	// The persisted message replaced the speculative one.
	c := f.rec.Chat(chat.ID)
	if len(c.Messages) != 1 || c.Messages[0].ID != msg.ID {
		t.Fatalf("cached messages = %v, want just %s", c.Messages, msg.ID)
	}
	if c.LastMessage().ID != msg.ID {
		t.Errorf("last message = %s, want %s", c.LastMessage().ID, msg.ID)
	}

	// With no intervening read, the deferred transition lands.
	waitForStatus(t, f.rec, chat.ID, msg.ID, status.Delivered)
}

func TestReadBeatsDeferredDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := f.rec.SendMessage(ctx, chat.ID, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}

	// B reads before the delivery timer fires.
	if err := f.repository.MarkMessagesAsRead(ctx, chat.ID, "B", []string{msg.ID}); err != nil {
		t.Fatal(err)
	}
	if err := f.rec.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f.rec, chat.ID, msg.ID, status.Read)

	// Give the deferred transition ample time to fire and lose.
	time.Sleep(4 * testDeliveryDelay)

	c := f.rec.Chat(chat.ID)
	if got := c.Messages[0].Status; got != status.Read {
		t.Errorf("status = %s, want read (delivery must not downgrade)", got)
	}

	var st string
	if err := f.db.QueryRow(`SELECT status FROM messages WHERE id = ?`, msg.ID).Scan(&st); err != nil {
		t.Fatal(err)
	}
	if st != string(status.Read) {
		t.Errorf("persisted status = %s, want read", st)
	}
}

func TestSendMessageRollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	// Pull the chat row out from under the next insert so persistence
	// fails on the foreign key.
	if _, err := f.db.Exec(`DELETE FROM chat_participants WHERE chat_id = ?`, chat.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.Exec(`DELETE FROM chats WHERE id = ?`, chat.ID); err != nil {
		t.Fatal(err)
	}

	_, err = f.rec.SendMessage(ctx, chat.ID, "doomed", nil)
	var pe *repo.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}

	// The speculative message was rolled back out of the snapshot.
	c := f.rec.Chat(chat.ID)
	if len(c.Messages) != 0 {
		t.Errorf("messages after rollback = %d, want 0", len(c.Messages))
	}
	if c.LastMessage() != nil {
		t.Error("last message should be absent after rollback")
	}
}

func TestDeleteOnlyMessageClearsLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := f.rec.SendMessage(ctx, chat.ID, "only one", nil)
	if err != nil {
		t.Fatal(err)
	}

	if !f.rec.DeleteMessage(ctx, msg.ID, chat.ID) {
		t.Fatal("delete = false, want true")
	}

	c := f.rec.Chat(chat.ID)
	if len(c.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(c.Messages))
	}
	if c.LastMessage() != nil {
		t.Error("last message should be absent")
	}
}

func TestMarkMessagesAsReadIdempotentInSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	// A message from B that A reads.
	msg, err := f.repository.SendMessage(ctx, chat.ID, "from B", "B", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.rec.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := f.rec.MarkMessagesAsRead(ctx, chat.ID, []string{msg.ID}); err != nil {
			t.Fatal(err)
		}
	}

	c := f.rec.Chat(chat.ID)
	m := c.Messages[0]
	if m.Status != status.Read {
		t.Errorf("status = %s, want read", m.Status)
	}
	if len(m.Reads) != 1 {
		t.Errorf("cached reads = %d, want 1", len(m.Reads))
	}

	n, err := f.db.ReceiptCount(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("persisted receipts = %d, want 1", n)
	}
}

func TestSnapshotSortsByLastMessageDescending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.rec.CreateChat(ctx, []string{"A", "C"})
	if err != nil {
		t.Fatal(err)
	}
	empty1, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	empty2, err := f.rec.CreateChat(ctx, []string{"A", "C"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.rec.SendMessage(ctx, first.ID, "older", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond) // distinct unix-ms timestamps
	if _, err := f.rec.SendMessage(ctx, second.ID, "newer", nil); err != nil {
		t.Fatal(err)
	}

	chats := f.rec.Snapshot()
	if len(chats) != 4 {
		t.Fatalf("snapshot = %d chats, want 4", len(chats))
	}
	if chats[0].ID != second.ID || chats[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest chat first", chats[0].ID, chats[1].ID)
	}
	// Empty chats sort last, keeping their relative order.
	if chats[2].ID != empty1.ID || chats[3].ID != empty2.ID {
		t.Errorf("empty chats = [%s %s], want stable [%s %s]",
			chats[2].ID, chats[3].ID, empty1.ID, empty2.ID)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.rec.SendMessage(ctx, chat.ID, "hi", nil); err != nil {
		t.Fatal(err)
	}

	snap := f.rec.Snapshot()
	snap[0].Messages[0].Text = "mutated"
	snap[0].Messages[0].Status = status.Read

	c := f.rec.Chat(chat.ID)
	if c.Messages[0].Text != "hi" || c.Messages[0].Status == status.Read {
		t.Error("snapshot mutation leaked into the cache")
	}
}

func TestConcurrentSendsSameChatKeepCallOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.rec.CreateChat(ctx, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}

	// Issue sends back to back; the second starts while the first's
	// delivery is still pending.
	first, err := f.rec.SendMessage(ctx, chat.ID, "first", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.rec.SendMessage(ctx, chat.ID, "second", nil)
	if err != nil {
		t.Fatal(err)
	}

	c := f.rec.Chat(chat.ID)
	if len(c.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(c.Messages))
	}
	if c.Messages[0].ID != first.ID || c.Messages[1].ID != second.ID {
		t.Errorf("order = [%s %s], want call order", c.Messages[0].Text, c.Messages[1].Text)
	}

	waitForStatus(t, f.rec, chat.ID, first.ID, status.Delivered)
	waitForStatus(t, f.rec, chat.ID, second.ID, status.Delivered)
}
