// Package repo translates domain intents into durable-store transactions
// and back into domain entities. The repository is stateless: it holds a
// DB handle and a logger and retains nothing between calls, so it is
// safe to construct as often as needed. It is also the only component
// that issues writes to the store.
package repo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/status"
	"github.com/dfalcao/parley/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the chat repository over the SQLite store.
type Repository struct {
	db     *store.DB
	logger *zap.Logger
}

// New creates a repository backed by db.
func New(db *store.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// CreateChat creates a chat whose participants are fixed for its
// lifetime. callerID must appear in participantIDs alongside at least
// one other id. The chat row and every participant row land in one
// transaction; on failure no partial chat exists.
func (r *Repository) CreateChat(ctx context.Context, callerID string, participantIDs []string) (*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callerIncluded := false
	others := 0
	for _, id := range participantIDs {
		if id == callerID {
			callerIncluded = true
		} else if id != "" {
			others++
		}
	}
	if !callerIncluded || others == 0 {
		return nil, ErrInvalidParticipants
	}

	chatID := "chat-" + uuid.NewString()
	if err := r.db.CreateChat(chatID, time.Now().UnixMilli(), participantIDs); err != nil {
		return nil, &PersistenceError{Op: "create chat", Err: err}
	}

	users, err := r.db.UsersByIDs(participantIDs)
	if err != nil {
		return nil, &PersistenceError{Op: "load participants", Err: err}
	}

	chat := &model.Chat{ID: chatID}
	for _, id := range participantIDs {
		if u, ok := users[id]; ok {
			chat.Participants = append(chat.Participants, u)
		}
	}

	r.logger.Info("chat created",
		zap.String("chat_id", chatID),
		zap.Int("participants", len(chat.Participants)))
	return chat, nil
}

// LoadChats returns every chat userID participates in, fully populated:
// all participants joined from the store and the complete message
// sequence ascending by timestamp with receipts merged per message.
// Participant and message fetches are independent reads issued
// concurrently and joined here, never one round trip per chat.
func (r *Repository) LoadChats(ctx context.Context, userID string) ([]*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chatIDs, err := r.db.ChatIDsForUser(userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load chat ids", Err: err}
	}
	if len(chatIDs) == 0 {
		return []*model.Chat{}, nil
	}

	var (
		participants map[string][]model.User
		partErr      error
		done         = make(chan struct{})
	)
	go func() {
		defer close(done)
		participants, partErr = r.db.ParticipantsForChats(chatIDs)
	}()

	messages, msgErr := r.db.MessagesForChats(chatIDs)
	<-done

	if partErr != nil {
		return nil, &PersistenceError{Op: "load participants", Err: partErr}
	}
	if msgErr != nil {
		return nil, &PersistenceError{Op: "load messages", Err: msgErr}
	}

	chats := make([]*model.Chat, 0, len(chatIDs))
	for _, id := range chatIDs {
		chats = append(chats, &model.Chat{
			ID:           id,
			Participants: participants[id],
			Messages:     messages[id],
		})
	}
	return chats, nil
}

// SendMessage validates and persists a new message with status sent,
// returning it fully formed. The delivered transition is the caller's
// business to schedule, never awaited here.
func (r *Repository) SendMessage(ctx context.Context, chatID, text, senderID string, media *model.Media) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := model.NewContent(text, media)
	if err != nil {
		return nil, err
	}
	if err := checkMediaAvailable(content.Media()); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:        newMessageID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      content.Text(),
		Timestamp: time.Now().UnixMilli(),
		Status:    status.Sent,
		Media:     content.Media(),
		Reads:     []model.ReadReceipt{},
	}

	if err := r.db.InsertMessage(msg); err != nil {
		return nil, &PersistenceError{Op: "insert message", Err: err}
	}

	r.logger.Info("message sent",
		zap.String("chat_id", chatID),
		zap.String("message_id", msg.ID))
	return msg, nil
}

// DeleteMessage hard-deletes a message. Deliberately permissive, like
// the reference behavior: no existence check and no sender check, and a
// missing id still reports success. A store failure is logged and
// reported as false rather than raised; the caller recomputes the
// chat's last message either way.
func (r *Repository) DeleteMessage(ctx context.Context, messageID, chatID string) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := r.db.DeleteMessage(messageID); err != nil {
		r.logger.Error("delete message failed",
			zap.Error(err),
			zap.String("message_id", messageID),
			zap.String("chat_id", chatID))
		return false
	}
	return true
}

// MarkMessagesAsRead records one read receipt per message for userID and
// advances each message to read, as a single batched transaction.
// Re-marking is idempotent: at most one receipt per (message, user).
func (r *Repository) MarkMessagesAsRead(ctx context.Context, chatID, userID string, messageIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	rows := make([]store.ReceiptRow, len(messageIDs))
	for i, id := range messageIDs {
		rows[i] = store.ReceiptRow{
			ID:        "read-" + uuid.NewString(),
			MessageID: id,
			UserID:    userID,
			Timestamp: now,
		}
	}

	if err := r.db.InsertReceiptsAndMarkRead(rows); err != nil {
		r.logger.Error("mark read failed",
			zap.Error(err),
			zap.String("chat_id", chatID),
			zap.Int("messages", len(messageIDs)))
		return &PersistenceError{Op: "mark read", Err: err}
	}
	return nil
}

// MarkMessageDelivered advances a message to delivered under the
// monotonic rule and returns the status the row ended up with, so the
// delivery scheduler can tell a real transition from a skipped one.
func (r *Repository) MarkMessageDelivered(ctx context.Context, messageID string) (status.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	st, err := r.db.UpdateMessageStatus(messageID, status.Delivered)
	if err != nil {
		return "", &PersistenceError{Op: "mark delivered", Err: err}
	}
	return st, nil
}

// ListUsers returns all known users for pickers and sender display.
func (r *Repository) ListUsers(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users, err := r.db.ListUsers()
	if err != nil {
		return nil, &PersistenceError{Op: "list users", Err: err}
	}
	return users, nil
}

// newMessageID builds a message id that sorts lexicographically in send
// order even for same-millisecond sends: a fixed-width nanosecond prefix
// with a random suffix for uniqueness.
func newMessageID() string {
	return fmt.Sprintf("msg-%019d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// checkMediaAvailable stats device-local media so a send fails up front
// instead of persisting a reference to a file that is already gone.
// Non-file URIs are not the core's to verify.
func checkMediaAvailable(media *model.Media) error {
	if media == nil {
		return nil
	}
	path := media.URI
	if strings.Contains(path, "://") {
		if !strings.HasPrefix(path, "file://") {
			return nil
		}
		path = strings.TrimPrefix(path, "file://")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrMediaUnavailable, media.URI)
	}
	return nil
}
