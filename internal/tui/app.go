// Package tui is the terminal front end. It renders reconciler
// snapshots and never mutates state directly: every user action goes
// through the reconciler or the search engine, and every screen update
// is driven by bus events.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/cache"
	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/search"
	"github.com/dfalcao/parley/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const readDwell = 600 * time.Millisecond

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	rec       *cache.Reconciler
	engine    *search.Engine
	repo      *repo.Repository
	bus       *bus.Bus
	tracker   *visibilityTracker
	statusBar *views.StatusBar
	chatList  *views.ChatList
	thread    *views.ThreadView
	composer  *views.Composer
	searchV   *views.SearchView
	cmdInput  *tview.InputField
	root      *tview.Flex

	activeChat string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(rec *cache.Reconciler, engine *search.Engine, repository *repo.Repository, b *bus.Bus, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		rec:       rec,
		engine:    engine,
		repo:      repository,
		bus:       b,
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		thread:    views.NewThreadView(),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.tracker = newVisibilityTracker(rec.UserID(), readDwell, func(chatID string, ids []string) {
		go func() {
			if err := rec.MarkMessagesAsRead(a.ctx, chatID, ids); err != nil {
				a.flash("Mark read failed: " + err.Error())
			}
		}()
	})

	a.statusBar.SetProfile(profileName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		chatID := a.activeChat
		if chatID == "" {
			return
		}
		go func() {
			if _, err := a.rec.SendMessage(a.ctx, chatID, text, nil); err != nil {
				a.flash("Send failed: " + err.Error())
			}
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		a.engine.Search(query, "")
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if chatID, _ := a.searchV.SelectedResult(); chatID != "" {
			a.openChat(chatID)
		}
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("chats", a.chatList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)

	a.cmdInput = tview.NewInputField().
		SetLabel(" : ").
		SetFieldWidth(0)
	a.cmdInput.SetDoneFunc(func(key tcell.Key) {
		text := a.cmdInput.GetText()
		a.cmdInput.SetText("")
		a.hideCommand()
		if key == tcell.KeyEnter && text != "" {
			a.runCommand(ParseCommand(text))
		}
	})

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			if a.app.GetFocus() == a.cmdInput {
				a.cmdInput.SetText("")
				a.hideCommand()
				return nil
			}
			switch currentPage {
			case "chat", "search":
				a.closeToList()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case ':':
				a.showCommand()
				return nil
			case 'q':
				a.app.Stop()
				return nil
			case 's':
				if currentPage != "search" {
					a.showSearch()
					return nil
				}
			case 'i':
				if currentPage == "chat" {
					a.app.SetFocus(a.composer.InputField)
					return nil
				}
			case 'd':
				if currentPage == "chat" {
					a.deleteSelected()
					return nil
				}
			}
		}

		return event
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "new":
		ids := splitIDs(cmd.Args)
		if len(ids) == 0 {
			a.flash("usage: :new <user-id>[,<user-id>...]")
			return
		}
		me := a.rec.UserID()
		hasMe := false
		for _, id := range ids {
			if id == me {
				hasMe = true
			}
		}
		if !hasMe {
			ids = append([]string{me}, ids...)
		}
		go func() {
			chat, err := a.rec.CreateChat(a.ctx, ids)
			if err != nil {
				a.flash("Create failed: " + err.Error())
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.openChat(chat.ID)
			})
		}()
	case "users":
		go func() {
			users, err := a.repo.ListUsers(a.ctx)
			if err != nil {
				a.flash("List failed: " + err.Error())
				return
			}
			sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
			parts := make([]string, len(users))
			for i, u := range users {
				parts[i] = fmt.Sprintf("%s=%s", u.ID, u.Name)
			}
			a.flash("Users: " + strings.Join(parts, "  "))
		}()
	case "quit", "q":
		a.app.Stop()
	default:
		a.flash("unknown command: " + cmd.Name)
	}
}

func (a *App) showCommand() {
	a.root.AddItem(a.cmdInput, 1, 0, false)
	a.app.SetFocus(a.cmdInput)
}

func (a *App) hideCommand() {
	a.root.RemoveItem(a.cmdInput)
	a.focusFront()
}

func (a *App) openChat(chatID string) {
	a.activeChat = chatID
	chat := a.rec.Chat(chatID)
	a.thread.SetChatName(a.chatName(chat, chatID))
	a.thread.Update(chat, a.rec.UserID())
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.thread)
	a.tracker.Observe(chat)
}

func (a *App) closeToList() {
	a.tracker.Leave()
	a.activeChat = ""
	a.searchV.Reset()
	a.pages.SwitchToPage("chats")
	a.app.SetFocus(a.chatList)
}

func (a *App) showSearch() {
	a.tracker.Leave()
	a.activeChat = ""
	a.pages.SwitchToPage("search")
	a.app.SetFocus(a.searchV.Input())
}

func (a *App) deleteSelected() {
	m := a.thread.SelectedMessage()
	if m == nil {
		return
	}
	go func() {
		if !a.rec.DeleteMessage(a.ctx, m.ID, m.ChatID) {
			a.flash("Delete failed")
		}
	}()
}

func (a *App) chatName(chat *model.Chat, fallback string) string {
	if chat == nil {
		return fallback
	}
	return chat.DisplayName(a.rec.UserID())
}

// flash shows a transient status bar message. Safe to call off the UI
// goroutine.
func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
	})
	time.AfterFunc(5*time.Second, func() {
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetFlash("")
		})
	})
}

// refresh re-renders the visible page from the current snapshot.
func (a *App) refresh() {
	chats := a.rec.Snapshot()
	a.chatList.Update(chats, a.rec.UserID())

	if a.rec.Loading() {
		a.statusBar.SetStatus("loading…")
	} else {
		a.statusBar.SetStatus(fmt.Sprintf("%d chats", len(chats)))
	}

	currentPage, _ := a.pages.GetFrontPage()
	if currentPage == "chat" && a.activeChat != "" {
		chat := a.rec.Chat(a.activeChat)
		a.thread.Update(chat, a.rec.UserID())
		a.tracker.Observe(chat)
	}
}

// eventLoop applies bus events to the screen until the app stops.
func (a *App) eventLoop(events <-chan bus.Event, unsub func()) {
	defer unsub()
	for {
		select {
		case evt := <-events:
			switch {
			case evt.Kind == bus.KindSearchResults:
				res, ok := evt.Payload.(search.Results)
				if !ok {
					continue
				}
				a.app.QueueUpdateDraw(func() {
					if res.Err != "" {
						a.statusBar.SetFlash("Search failed: " + res.Err)
						return
					}
					a.searchV.Update(res.Hits)
				})
			case strings.HasPrefix(evt.Kind, "message.") ||
				strings.HasPrefix(evt.Kind, "chat.") ||
				evt.Kind == bus.KindCacheReloaded:
				a.app.QueueUpdateDraw(a.refresh)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) focusFront() {
	currentPage, _ := a.pages.GetFrontPage()
	switch currentPage {
	case "chat":
		a.app.SetFocus(a.thread)
	case "search":
		a.app.SetFocus(a.searchV.Input())
	default:
		a.app.SetFocus(a.chatList)
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 256)
	go a.eventLoop(events, unsub)

	// First paint happens before the event loop owns the screen.
	a.refresh()

	defer a.cancel()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
