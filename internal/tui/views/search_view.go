package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matpinto/courtline/internal/tui/ui"
)

// PlayerRow is one entry in the player search results.
type PlayerRow struct {
	ID          int64
	Username    string
	DisplayName string
	Online      bool
}

// SearchView provides player directory search.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	data    []PlayerRow
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Player: ").
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Players ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	return &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}
}

// SetOnQuery registers a callback fired on every keystroke. The caller
// is expected to debounce.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.input.SetChangedFunc(fn)
}

// SetOnSubmit registers a callback fired when Enter is pressed in the
// input field.
func (sv *SearchView) SetOnSubmit(fn func()) {
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			fn()
		}
	})
}

// Update refreshes the result table.
func (sv *SearchView) Update(players []PlayerRow) {
	sv.data = players
	sv.results.Clear()

	headers := []string{" PLAYER", " USERNAME", " STATUS"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	for i, p := range players {
		row := i + 1
		name := p.DisplayName
		if name == "" {
			name = p.Username
		}
		status := "offline"
		statusColor := sv.theme.OfflineColor
		if p.Online {
			status = "online"
			statusColor = sv.theme.OnlineColor
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" @"+tview.Escape(p.Username)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+status).SetMaxWidth(10).SetTextColor(statusColor))
	}

	if len(players) > 0 {
		sv.results.Select(1, 0)
	}
}

// Query returns the current input text.
func (sv *SearchView) Query() string {
	return sv.input.GetText()
}

// Reset clears the input and results.
func (sv *SearchView) Reset() {
	sv.input.SetText("")
	sv.Update(nil)
}

// SelectedPlayer returns the selected result, or false if none.
func (sv *SearchView) SelectedPlayer() (PlayerRow, bool) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx], true
	}
	return PlayerRow{}, false
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
