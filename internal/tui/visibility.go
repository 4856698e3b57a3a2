package tui

import (
	"sync"
	"time"

	"github.com/dfalcao/parley/internal/model"
)

// visibilityTracker turns "the thread is on screen" into read receipts.
// Incoming messages are marked read only after the thread has stayed
// visible for a dwell period; glancing past a chat does not read it.
// The viewer's own messages never generate receipts.
type visibilityTracker struct {
	viewerID string
	dwell    time.Duration
	mark     func(chatID string, messageIDs []string)

	mu      sync.Mutex
	timer   *time.Timer
	chatID  string
	pending []string
}

func newVisibilityTracker(viewerID string, dwell time.Duration, mark func(chatID string, messageIDs []string)) *visibilityTracker {
	return &visibilityTracker{
		viewerID: viewerID,
		dwell:    dwell,
		mark:     mark,
	}
}

// Observe is called whenever a chat thread is rendered. Unread incoming
// messages start (or restart) the dwell timer; when it fires they are
// handed to the mark callback.
func (t *visibilityTracker) Observe(chat *model.Chat) {
	if chat == nil {
		t.Leave()
		return
	}

	var unread []string
	for _, m := range chat.Messages {
		if m.SenderID != t.viewerID && !m.ReadBy(t.viewerID) {
			unread = append(unread, m.ID)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.chatID = chat.ID
	t.pending = unread
	if len(unread) == 0 {
		return
	}

	chatID := chat.ID
	t.timer = time.AfterFunc(t.dwell, func() {
		t.fire(chatID)
	})
}

// Leave cancels any pending marking, for when the thread goes off
// screen before the dwell elapses.
func (t *visibilityTracker) Leave() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.chatID = ""
	t.pending = nil
}

func (t *visibilityTracker) fire(chatID string) {
	t.mu.Lock()
	if t.chatID != chatID || len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	ids := t.pending
	t.pending = nil
	t.timer = nil
	t.mu.Unlock()

	t.mark(chatID, ids)
}
