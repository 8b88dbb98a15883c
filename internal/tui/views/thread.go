package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/tui/ui"
)

// MessageRow is one rendered message. The app maps store messages to
// rows so the view stays free of store access.
type MessageRow struct {
	Sender     string
	Own        bool
	SentAtMs   int64
	Content    string
	Attachment string
	Delivery   chat.Delivery
	FailReason string
	Read       bool
}

// Thread displays the messages of one conversation plus a composer.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	convID   int64
	onSend   func(text string)
}

// NewThread creates a new message thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			text := composer.GetText()
			if text != "" {
				t.onSend(text)
				composer.SetText("")
			}
		}
	})

	return t
}

// SetConversation stores the displayed conversation ID.
func (t *Thread) SetConversation(id int64) {
	t.convID = id
}

// ConversationID returns the displayed conversation ID, or 0.
func (t *Thread) ConversationID() int64 {
	return t.convID
}

// SetOnSend sets the callback when a message is submitted.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// SetHeader updates the thread title with the peer's name and presence.
func (t *Thread) SetHeader(name string, level presence.Level, typing bool) {
	title := fmt.Sprintf(" %s · %s ", name, level)
	if typing {
		title = fmt.Sprintf(" %s · typing... ", name)
	}
	t.messages.SetTitle(title)
}

// Update re-renders the message list. Rows come oldest first.
func (t *Thread) Update(rows []MessageRow) {
	t.messages.Clear()

	for _, m := range rows {
		sender := m.Sender
		if m.Own {
			sender = "You"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)),
			formatTimestamp(m.SentAtMs),
			t.marker(m),
			tview.Escape(sanitizeForTerminal(t.body(m))))
		_, _ = fmt.Fprint(t.messages, line)
	}

	t.messages.ScrollToEnd()
}

// marker renders the delivery state suffix on own messages.
func (t *Thread) marker(m MessageRow) string {
	if !m.Own {
		return ""
	}
	switch m.Delivery {
	case chat.DeliveryPending:
		return " [gray]…[-]"
	case chat.DeliveryFailed:
		reason := m.FailReason
		if reason == "" {
			reason = "send failed"
		}
		return fmt.Sprintf(" [red]✗ %s (r to retry)[-]", tview.Escape(reason))
	default:
		if m.Read {
			return " [green]✓✓[-]"
		}
		return " ✓"
	}
}

func (t *Thread) body(m MessageRow) string {
	if m.Attachment != "" {
		if m.Content != "" {
			return fmt.Sprintf("%s\n[%s]", m.Content, m.Attachment)
		}
		return fmt.Sprintf("[%s]", m.Attachment)
	}
	return m.Content
}

// Messages returns the messages text view (for focus management).
func (t *Thread) Messages() *tview.TextView {
	return t.messages
}

// Composer returns the composer input field (for focus management).
func (t *Thread) Composer() *tview.InputField {
	return t.composer
}
