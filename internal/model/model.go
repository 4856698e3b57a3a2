package model

import "github.com/dfalcao/parley/internal/status"

// Presence is a user's availability state.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
	Away    Presence = "away"
)

// User is a chat participant. Immutable except Presence; owned by the
// durable store and cached read-only by the core.
type User struct {
	ID        string
	Name      string
	AvatarRef string
	Presence  Presence
}

// MediaKind classifies a media attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaFile  MediaKind = "file"
)

// Media describes an attachment. The URI references device-local storage
// the core does not own; there is no lifecycle beyond the message it is
// attached to.
type Media struct {
	Kind      MediaKind
	URI       string
	Name      string
	SizeBytes int64 // 0 when unknown
}

// ReadReceipt records that a user has seen a message. Receipts are
// append-only and unique per (message, user).
type ReadReceipt struct {
	UserID    string
	Timestamp int64
}

// Message is a single message in a chat. Text may be empty only when
// Media is present. Timestamp is the creation instant in unix
// milliseconds and never changes; Status only moves forward along
// sent -> delivered -> read.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	Timestamp int64
	Status    status.Status
	Media     *Media
	Reads     []ReadReceipt
}

// ReadBy reports whether userID holds a read receipt for the message.
func (m *Message) ReadBy(userID string) bool {
	for _, r := range m.Reads {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.Reads != nil {
		c.Reads = make([]ReadReceipt, len(m.Reads))
		copy(c.Reads, m.Reads)
	}
	return &c
}

// Chat is a conversation thread. Participants are in join order and
// fixed at creation; Messages are ascending by (timestamp, id).
type Chat struct {
	ID           string
	Participants []User
	Messages     []*Message
}

// LastMessage returns the newest message, or nil for an empty chat.
// Messages are kept sorted, so this is the final element.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastMessageAt returns the newest message's timestamp, 0 for an empty chat.
func (c *Chat) LastMessageAt() int64 {
	if m := c.LastMessage(); m != nil {
		return m.Timestamp
	}
	return 0
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// DisplayName derives a chat title for a viewer: the name of the first
// other participant, or "Unknown" when there is none.
func (c *Chat) DisplayName(viewerID string) string {
	for _, p := range c.Participants {
		if p.ID != viewerID && p.Name != "" {
			return p.Name
		}
	}
	return "Unknown"
}

// UnreadFor counts messages from other senders that the viewer has not
// read yet. A viewer's own messages are never unread.
func (c *Chat) UnreadFor(viewerID string) int {
	n := 0
	for _, m := range c.Messages {
		if m.SenderID != viewerID && !m.ReadBy(viewerID) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	cp := &Chat{ID: c.ID}
	if c.Participants != nil {
		cp.Participants = make([]User, len(c.Participants))
		copy(cp.Participants, c.Participants)
	}
	if c.Messages != nil {
		cp.Messages = make([]*Message, len(c.Messages))
		for i, m := range c.Messages {
			cp.Messages[i] = m.Clone()
		}
	}
	return cp
}

// SearchResult is a message hit plus the derived chat name shown in
// search listings.
type SearchResult struct {
	Message  *Message
	ChatName string
}
