package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated, most-general first, so subscribers can filter
// by prefix: "message." catches message.sent, message.status and
// message.deleted.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. "delivery.confirmed" flows from the
// delivery scheduler into the cache reconciler; everything else flows
// from the reconciler (or the search engine) out to the UI.
const (
	KindChatCreated       = "chat.created"
	KindChatRead          = "chat.read"
	KindMessageSent       = "message.sent"
	KindMessageStatus     = "message.status"
	KindMessageDeleted    = "message.deleted"
	KindCacheReloaded     = "cache.reloaded"
	KindDeliveryConfirmed = "delivery.confirmed"
	KindSearchResults     = "search.results"
)
