// Package search runs debounced substring queries over message history.
// Keystroke-rate input coalesces into one query per settle window, and a
// response that arrives for anything but the newest query is discarded:
// last query wins, not first response.
package search

import (
	"strings"
	"sync"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/store"
	"go.uber.org/zap"
)

// ChatNamer derives the display name for a chat id. Implemented by the
// cache reconciler; search results carry the name so the UI does not
// need a second lookup.
type ChatNamer interface {
	ChatName(chatID string) string
}

// Results is the payload for search.results events. Err is a plain
// string: a failed search degrades to an error message in the list, it
// never takes the UI down.
type Results struct {
	Query string
	Scope string // chat id, empty for a global search
	Hits  []model.SearchResult
	Err   string
}

// Engine debounces and executes searches against the store.
type Engine struct {
	db       *store.DB
	namer    ChatNamer
	bus      *bus.Bus
	logger   *zap.Logger
	debounce time.Duration
	limit    int

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
}

// New creates a search engine with the given debounce window.
func New(db *store.DB, namer ChatNamer, b *bus.Bus, debounce time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		namer:    namer,
		bus:      b,
		logger:   logger,
		debounce: debounce,
		limit:    50,
	}
}

// Search schedules a query after the debounce window, superseding any
// pending or in-flight one. An empty or whitespace query clears results
// immediately instead of querying.
func (e *Engine) Search(query, chatID string) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if strings.TrimSpace(query) == "" {
		e.mu.Unlock()
		e.publish(Results{Query: query, Scope: chatID})
		return
	}

	e.timer = time.AfterFunc(e.debounce, func() {
		e.run(gen, query, chatID)
	})
	e.mu.Unlock()
}

// SearchNow bypasses the debounce for scripted callers.
func (e *Engine) SearchNow(query, chatID string) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	msgs, err := e.db.SearchMessages(query, chatID, e.limit)
	if err != nil {
		return nil, err
	}
	return e.annotate(msgs), nil
}

func (e *Engine) run(gen uint64, query, chatID string) {
	msgs, err := e.db.SearchMessages(query, chatID, e.limit)

	// The query may have been superseded while it was executing; a
	// stale response must not overwrite newer results.
	e.mu.Lock()
	stale := gen != e.generation
	e.mu.Unlock()
	if stale {
		return
	}

	res := Results{Query: query, Scope: chatID}
	if err != nil {
		e.logger.Error("search failed", zap.Error(err), zap.String("query", query))
		res.Err = err.Error()
	} else {
		res.Hits = e.annotate(msgs)
	}
	e.publish(res)
}

func (e *Engine) annotate(msgs []*model.Message) []model.SearchResult {
	hits := make([]model.SearchResult, len(msgs))
	for i, m := range msgs {
		hits[i] = model.SearchResult{
			Message:  m,
			ChatName: e.namer.ChatName(m.ChatID),
		}
	}
	return hits
}

func (e *Engine) publish(res Results) {
	e.bus.Publish(bus.Event{
		Kind:      bus.KindSearchResults,
		Timestamp: time.Now(),
		Payload:   res,
	})
}
