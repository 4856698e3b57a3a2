// Package cache owns the in-memory, UI-facing snapshot of chats. Every
// mutation is applied to the snapshot optimistically before the
// repository confirms it, then reconciled against the persisted result
// or rolled back. The UI only ever sees deep copies and learns about
// changes through bus events; it never aliases reconciler memory.
package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/status"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotReady gates every operation until the initial load from the
// durable store has completed.
var ErrNotReady = errors.New("chat cache not loaded yet")

// MessageEvent is the payload for message.sent and message.deleted.
type MessageEvent struct {
	ChatID    string
	MessageID string
}

// ChatEvent is the payload for chat.created, chat.read and cache.reloaded.
type ChatEvent struct {
	ChatID string
}

// Reconciler keeps the cached chats consistent with the repository under
// optimistic, UI-driven mutations. The mutex gives mutations on the same
// chat their call order; repository I/O happens outside the lock so slow
// persistence never blocks the snapshot.
type Reconciler struct {
	repository *repo.Repository
	scheduler  *status.Scheduler
	bus        *bus.Bus
	logger     *zap.Logger
	userID     string

	mu      sync.Mutex
	chats   []*model.Chat
	loading bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler for the local user. It starts in the loading
// state; call Start to perform the initial load.
func New(repository *repo.Repository, scheduler *status.Scheduler, b *bus.Bus, userID string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repository: repository,
		scheduler:  scheduler,
		bus:        b,
		logger:     logger,
		userID:     userID,
		loading:    true,
	}
}

// Start performs the initial load and begins consuming deferred delivery
// confirmations from the bus.
func (r *Reconciler) Start(ctx context.Context) error {
	chats, err := r.repository.LoadChats(ctx, r.userID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.chats = chats
	r.loading = false
	r.mu.Unlock()

	// The consumer outlives ctx, which only bounds the initial load.
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe("delivery.", 256)

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(status.Change)
				if !ok {
					continue
				}
				r.applyStatus(change.ChatID, change.MessageID, change.Status)
			case <-runCtx.Done():
				return
			}
		}
	}()

	r.publish(bus.KindCacheReloaded, ChatEvent{})
	return nil
}

// Stop halts the delivery-confirmation consumer.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Loading reports whether the initial load is still pending.
func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Snapshot returns a deep copy of the cached chats sorted by descending
// last-message timestamp. Chats with no messages sort last, keeping
// their relative order.
func (r *Reconciler) Snapshot() []*model.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Chat, len(r.chats))
	for i, c := range r.chats {
		out[i] = c.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt() > out[j].LastMessageAt()
	})
	return out
}

// Chat returns a deep copy of one chat, nil when unknown.
func (r *Reconciler) Chat(chatID string) *model.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findChat(chatID); c != nil {
		return c.Clone()
	}
	return nil
}

// UserID returns the identity the cache operates as.
func (r *Reconciler) UserID() string {
	return r.userID
}

// ChatName returns the chat's display name from the viewer's side, or
// the chat id itself when the chat is not cached.
func (r *Reconciler) ChatName(chatID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.findChat(chatID); c != nil {
		return c.DisplayName(r.userID)
	}
	return chatID
}

// CreateChat creates a chat through the repository and admits it into
// the snapshot. Creation is not applied optimistically: a chat id only
// exists once the transaction commits, and until then there is nothing
// meaningful to render.
func (r *Reconciler) CreateChat(ctx context.Context, participantIDs []string) (*model.Chat, error) {
	if r.Loading() {
		return nil, ErrNotReady
	}

	chat, err := r.repository.CreateChat(ctx, r.userID, participantIDs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.chats = append(r.chats, chat.Clone())
	r.mu.Unlock()

	r.publish(bus.KindChatCreated, ChatEvent{ChatID: chat.ID})
	return chat, nil
}

// SendMessage appends an optimistic message to the chat synchronously,
// persists it, then swaps the persisted message in for the speculative
// one — or removes it and surfaces the error if persistence fails. The
// delivered transition is scheduled on success, never awaited.
func (r *Reconciler) SendMessage(ctx context.Context, chatID, text string, media *model.Media) (*model.Message, error) {
	if r.Loading() {
		return nil, ErrNotReady
	}

	tempID := "pending-" + uuid.NewString()
	optimistic := &model.Message{
		ID:        tempID,
		ChatID:    chatID,
		SenderID:  r.userID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Status:    status.Sent,
		Media:     media,
	}

	r.mu.Lock()
	if c := r.findChat(chatID); c != nil {
		c.Messages = append(c.Messages, optimistic)
	}
	r.mu.Unlock()
	r.publish(bus.KindMessageSent, MessageEvent{ChatID: chatID, MessageID: tempID})

	persisted, err := r.repository.SendMessage(ctx, chatID, text, r.userID, media)

	r.mu.Lock()
	c := r.findChat(chatID)
	if c != nil {
		if err != nil {
			c.Messages = removeMessage(c.Messages, tempID)
		} else if i := indexOf(c.Messages, tempID); i >= 0 {
			c.Messages[i] = persisted.Clone()
			sortMessages(c.Messages)
		}
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("send rolled back", zap.Error(err), zap.String("chat_id", chatID))
		r.publish(bus.KindMessageDeleted, MessageEvent{ChatID: chatID, MessageID: tempID})
		return nil, err
	}

	r.scheduler.Schedule(chatID, persisted.ID)
	r.publish(bus.KindMessageSent, MessageEvent{ChatID: chatID, MessageID: persisted.ID})
	return persisted, nil
}

// DeleteMessage removes the message optimistically and restores it if
// the repository reports failure. The chat's last message is derived
// from the remaining sequence, so it recomputes by construction.
func (r *Reconciler) DeleteMessage(ctx context.Context, messageID, chatID string) bool {
	if r.Loading() {
		return false
	}

	var removed *model.Message
	var at int
	r.mu.Lock()
	if c := r.findChat(chatID); c != nil {
		if i := indexOf(c.Messages, messageID); i >= 0 {
			removed, at = c.Messages[i], i
			c.Messages = append(c.Messages[:i:i], c.Messages[i+1:]...)
		}
	}
	r.mu.Unlock()
	r.publish(bus.KindMessageDeleted, MessageEvent{ChatID: chatID, MessageID: messageID})

	if r.repository.DeleteMessage(ctx, messageID, chatID) {
		return true
	}

	// Roll the optimistic removal back.
	if removed != nil {
		r.mu.Lock()
		if c := r.findChat(chatID); c != nil {
			if at > len(c.Messages) {
				at = len(c.Messages)
			}
			c.Messages = append(c.Messages[:at], append([]*model.Message{removed}, c.Messages[at:]...)...)
		}
		r.mu.Unlock()
		r.publish(bus.KindMessageSent, MessageEvent{ChatID: chatID, MessageID: messageID})
	}
	return false
}

// MarkMessagesAsRead marks the given messages read for the local user:
// optimistic status flip and receipt append, then the batched
// repository write, rolled back per message on failure. Marking is
// idempotent end to end.
func (r *Reconciler) MarkMessagesAsRead(ctx context.Context, chatID string, messageIDs []string) error {
	if r.Loading() {
		return ErrNotReady
	}
	if len(messageIDs) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	prior := make(map[string]status.Status, len(messageIDs))

	r.mu.Lock()
	if c := r.findChat(chatID); c != nil {
		for _, id := range messageIDs {
			if i := indexOf(c.Messages, id); i >= 0 {
				m := c.Messages[i]
				prior[id] = m.Status
				m.Status = status.Merge(m.Status, status.Read)
				if !hasRead(m.Reads, r.userID) {
					m.Reads = append(m.Reads, model.ReadReceipt{UserID: r.userID, Timestamp: now})
				}
			}
		}
	}
	r.mu.Unlock()
	r.publish(bus.KindChatRead, ChatEvent{ChatID: chatID})

	err := r.repository.MarkMessagesAsRead(ctx, chatID, r.userID, messageIDs)
	if err == nil {
		return nil
	}

	// Best-effort rollback of the speculative receipts and statuses.
	r.mu.Lock()
	if c := r.findChat(chatID); c != nil {
		for id, st := range prior {
			if i := indexOf(c.Messages, id); i >= 0 {
				m := c.Messages[i]
				m.Status = st
				m.Reads = removeRead(m.Reads, r.userID, now)
			}
		}
	}
	r.mu.Unlock()
	r.publish(bus.KindChatRead, ChatEvent{ChatID: chatID})
	return err
}

// Reload replaces the snapshot with a fresh load from the repository.
func (r *Reconciler) Reload(ctx context.Context) error {
	chats, err := r.repository.LoadChats(ctx, r.userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.chats = chats
	r.loading = false
	r.mu.Unlock()
	r.publish(bus.KindCacheReloaded, ChatEvent{})
	return nil
}

// applyStatus merges a deferred status confirmation into the snapshot.
// Merge is monotonic, so a confirmation that lost the race against a
// read leaves the message untouched.
func (r *Reconciler) applyStatus(chatID, messageID string, incoming status.Status) {
	r.mu.Lock()
	applied := false
	if c := r.findChat(chatID); c != nil {
		if i := indexOf(c.Messages, messageID); i >= 0 {
			m := c.Messages[i]
			merged := status.Merge(m.Status, incoming)
			applied = merged != m.Status
			m.Status = merged
		}
	}
	r.mu.Unlock()

	if applied {
		r.publish(bus.KindMessageStatus, status.Change{
			ChatID: chatID, MessageID: messageID, Status: incoming,
		})
	}
}

func (r *Reconciler) publish(kind string, payload any) {
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// findChat must be called with r.mu held.
func (r *Reconciler) findChat(chatID string) *model.Chat {
	for _, c := range r.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func indexOf(msgs []*model.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func removeMessage(msgs []*model.Message, id string) []*model.Message {
	if i := indexOf(msgs, id); i >= 0 {
		return append(msgs[:i:i], msgs[i+1:]...)
	}
	return msgs
}

func sortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func hasRead(reads []model.ReadReceipt, userID string) bool {
	for _, rr := range reads {
		if rr.UserID == userID {
			return true
		}
	}
	return false
}

func removeRead(reads []model.ReadReceipt, userID string, ts int64) []model.ReadReceipt {
	for i, rr := range reads {
		if rr.UserID == userID && rr.Timestamp == ts {
			return append(reads[:i:i], reads[i+1:]...)
		}
	}
	return reads
}
