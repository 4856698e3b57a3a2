package tui

import (
	"sync"
	"testing"
	"time"

	"github.com/dfalcao/parley/internal/model"
)

type markRecorder struct {
	mu    sync.Mutex
	calls []markCall
}

type markCall struct {
	chatID string
	ids    []string
}

func (r *markRecorder) mark(chatID string, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, markCall{chatID: chatID, ids: ids})
}

func (r *markRecorder) snapshot() []markCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]markCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func testChat(id string) *model.Chat {
	return &model.Chat{
		ID: id,
		Messages: []*model.Message{
			{ID: "m1", ChatID: id, SenderID: "me", Text: "mine"},
			{ID: "m2", ChatID: id, SenderID: "other", Text: "unread"},
			{ID: "m3", ChatID: id, SenderID: "other", Text: "seen",
				Reads: []model.ReadReceipt{{UserID: "me", Timestamp: 1}}},
		},
	}
}

func TestTrackerMarksAfterDwell(t *testing.T) {
	rec := &markRecorder{}
	tr := newVisibilityTracker("me", 20*time.Millisecond, rec.mark)

	tr.Observe(testChat("chat1"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("mark calls = %d, want 1", len(calls))
	}
	if calls[0].chatID != "chat1" {
		t.Errorf("chatID = %q, want chat1", calls[0].chatID)
	}
	// Own and already-read messages are excluded.
	if len(calls[0].ids) != 1 || calls[0].ids[0] != "m2" {
		t.Errorf("ids = %v, want [m2]", calls[0].ids)
	}
}

func TestTrackerLeaveCancelsPending(t *testing.T) {
	rec := &markRecorder{}
	tr := newVisibilityTracker("me", 30*time.Millisecond, rec.mark)

	tr.Observe(testChat("chat1"))
	tr.Leave()

	time.Sleep(80 * time.Millisecond)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Fatalf("mark calls after Leave = %d, want 0", len(calls))
	}
}

func TestTrackerSwitchingChatsSupersedes(t *testing.T) {
	rec := &markRecorder{}
	tr := newVisibilityTracker("me", 30*time.Millisecond, rec.mark)

	tr.Observe(testChat("chat1"))
	tr.Observe(testChat("chat2"))

	time.Sleep(100 * time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("mark calls = %d, want 1 (only the chat still visible)", len(calls))
	}
	if calls[0].chatID != "chat2" {
		t.Errorf("chatID = %q, want chat2", calls[0].chatID)
	}
}

func TestTrackerNothingUnread(t *testing.T) {
	rec := &markRecorder{}
	tr := newVisibilityTracker("me", 10*time.Millisecond, rec.mark)

	chat := &model.Chat{ID: "chat1", Messages: []*model.Message{
		{ID: "m1", ChatID: "chat1", SenderID: "me", Text: "mine"},
	}}
	tr.Observe(chat)

	time.Sleep(50 * time.Millisecond)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Fatalf("mark calls = %d, want 0", len(calls))
	}
}
