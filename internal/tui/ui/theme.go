package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/matpinto/courtline/internal/presence"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TableHeaderFg    tcell.Color
	TableHeaderBg    tcell.Color
	TableCursorFg    tcell.Color
	TableCursorBg    tcell.Color
	MenuKeyColor     tcell.Color
	TitleColor       tcell.Color
	FlashErrColor    tcell.Color

	OnlineColor   tcell.Color
	RecentlyColor tcell.Color
	AwayColor     tcell.Color
	OfflineColor  tcell.Color

	PendingColor tcell.Color
	FailedColor  tcell.Color
}

// DefaultTheme returns the default dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		BorderFocusColor: tcell.ColorLightSkyBlue,
		TableHeaderFg:    tcell.ColorWhite,
		TableHeaderBg:    tcell.ColorBlack,
		TableCursorFg:    tcell.ColorBlack,
		TableCursorBg:    tcell.ColorAqua,
		MenuKeyColor:     tcell.ColorDodgerBlue,
		TitleColor:       tcell.ColorFuchsia,
		FlashErrColor:    tcell.ColorOrangeRed,

		OnlineColor:   tcell.ColorGreen,
		RecentlyColor: tcell.ColorYellow,
		AwayColor:     tcell.ColorOrange,
		OfflineColor:  tcell.ColorGray,

		PendingColor: tcell.ColorGray,
		FailedColor:  tcell.ColorOrangeRed,
	}
}

// PresenceColor maps a presence level to its display color.
func (t *Theme) PresenceColor(level presence.Level) tcell.Color {
	switch level {
	case presence.Online:
		return t.OnlineColor
	case presence.Recently:
		return t.RecentlyColor
	case presence.Away:
		return t.AwayColor
	default:
		return t.OfflineColor
	}
}
