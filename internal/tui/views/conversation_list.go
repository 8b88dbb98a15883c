package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/tui/ui"
)

// ConversationRow is one entry in the conversation list. The app builds
// rows from store/tracker state; the view only renders them.
type ConversationRow struct {
	ID       int64
	Name     string
	Preview  string
	LastAtMs int64
	Unread   int
	Typing   bool
	Presence presence.Level
}

// ConversationList is the main conversation list view.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	rows   []ConversationRow
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Update refreshes the list with new rows.
func (cl *ConversationList) Update(rows []ConversationRow) {
	cl.rows = rows
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" ", 0},
		{" PLAYER", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	row := 1
	for _, r := range cl.rows {
		if !cl.matches(r) {
			continue
		}

		name := r.Name
		if r.Unread > 0 {
			name = fmt.Sprintf("(%d) %s", r.Unread, name)
		}

		preview := r.Preview
		if r.Typing {
			preview = "typing..."
		}

		cl.SetCell(row, 0, tview.NewTableCell(" ●").SetTextColor(cl.theme.PresenceColor(r.Presence)))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(preview))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(formatTimestamp(r.LastAtMs)).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.rows), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.rows)))
	}
}

func (cl *ConversationList) matches(r ConversationRow) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(r.Name), f) ||
		strings.Contains(strings.ToLower(r.Preview), f)
}

// SelectedID returns the conversation ID of the selected row, or 0.
func (cl *ConversationList) SelectedID() int64 {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx < 0 {
		return 0
	}
	visible := 0
	for _, r := range cl.rows {
		if !cl.matches(r) {
			continue
		}
		if visible == idx {
			return r.ID
		}
		visible++
	}
	return 0
}

// ByIndex returns the ID of the Nth visible conversation (1-based).
func (cl *ConversationList) ByIndex(n int) int64 {
	if n < 1 {
		return 0
	}
	visible := 0
	for _, r := range cl.rows {
		if !cl.matches(r) {
			continue
		}
		visible++
		if visible == n {
			return r.ID
		}
	}
	return 0
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
