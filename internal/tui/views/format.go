package views

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/status"
)

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	yesterday := now.AddDate(0, 0, -1)
	if t.Year() == yesterday.Year() && t.YearDay() == yesterday.YearDay() {
		return "Yesterday"
	}
	return t.Format("01/02")
}

// statusGlyph renders delivery state for the sender's own messages:
// one tick sent, two delivered, two colored ticks read.
func statusGlyph(s status.Status) string {
	switch s {
	case status.Read:
		return "[blue]✓✓[-]"
	case status.Delivered:
		return "✓✓"
	default:
		return "✓"
	}
}

// preview summarizes a message for one-line listings.
func preview(m *model.Message) string {
	if m == nil {
		return ""
	}
	text := m.Text
	if text == "" && m.Media != nil {
		name := m.Media.Name
		if name == "" {
			name = string(m.Media.Kind)
		}
		text = fmt.Sprintf("(%s) %s", m.Media.Kind, name)
	}
	return sanitizeForTerminal(strings.ReplaceAll(text, "\n", " "))
}

// attachmentLabel renders a media reference for the thread view.
func attachmentLabel(media *model.Media) string {
	if media == nil {
		return ""
	}
	label := fmt.Sprintf("(%s)", media.Kind)
	if media.Name != "" {
		label += " " + media.Name
	}
	if media.SizeBytes > 0 {
		label += fmt.Sprintf(" %dB", media.SizeBytes)
	}
	return label
}

// sanitizeForTerminal removes Unicode codepoints that cause rendering issues
// in tcell/tview: skin tone modifiers, Zero Width Joiner and variation
// selectors that build multi-codepoint emoji sequences.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	// Skin tone modifiers.
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	// Zero Width Joiner.
	case r == 0x200D:
		return true
	// Variation Selectors.
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	// Variation Selectors Supplement.
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
