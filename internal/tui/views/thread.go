package views

import (
	"fmt"

	"github.com/dfalcao/parley/internal/model"
	"github.com/rivo/tview"
)

// ThreadView displays the messages of one chat as a selectable table so
// individual messages can be acted on (delete).
type ThreadView struct {
	*tview.Table
	messages []*model.Message
	viewerID string
}

// NewThreadView creates a new message thread view.
func NewThreadView() *ThreadView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Messages ")

	return &ThreadView{Table: table}
}

// SetChatName updates the title with the chat name.
func (tv *ThreadView) SetChatName(name string) {
	tv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the thread, oldest first, keeping the newest
// message selected so the view follows the conversation.
func (tv *ThreadView) Update(chat *model.Chat, viewerID string) {
	tv.viewerID = viewerID
	tv.Clear()
	if chat == nil {
		tv.messages = nil
		return
	}
	tv.messages = chat.Messages

	senders := make(map[string]string, len(chat.Participants))
	for _, p := range chat.Participants {
		senders[p.ID] = p.Name
	}

	for row, m := range chat.Messages {
		sender := senders[m.SenderID]
		if sender == "" {
			sender = m.SenderID
		}
		if m.SenderID == viewerID {
			sender = "You"
		}

		body := sanitizeForTerminal(m.Text)
		if m.Media != nil {
			if body != "" {
				body += " "
			}
			body += attachmentLabel(m.Media)
		}

		// Delivery ticks only make sense on the viewer's own messages.
		ticks := ""
		if m.SenderID == viewerID {
			ticks = statusGlyph(m.Status)
		}

		tv.SetCell(row, 0, tview.NewTableCell(" "+formatTimestamp(m.Timestamp)).SetMaxWidth(8))
		tv.SetCell(row, 1, tview.NewTableCell(" [::b]"+tview.Escape(sender)+"[-:-:-]").SetMaxWidth(16))
		tv.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(body)).SetExpansion(1))
		tv.SetCell(row, 3, tview.NewTableCell(" "+ticks).SetMaxWidth(4))
	}

	if n := len(chat.Messages); n > 0 {
		tv.Select(n-1, 0)
		tv.ScrollToEnd()
	}
}

// SelectedMessage returns the selected message, nil when the thread is
// empty.
func (tv *ThreadView) SelectedMessage() *model.Message {
	row, _ := tv.GetSelection()
	if row >= 0 && row < len(tv.messages) {
		return tv.messages[row]
	}
	return nil
}
