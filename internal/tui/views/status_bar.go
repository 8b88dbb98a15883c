package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays persistent profile/connection status.
type StatusBar struct {
	*tview.TextView
	profile string
	conn    string
	unread  int
	syncing bool
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnection updates the connection state display.
func (sb *StatusBar) SetConnection(state string) {
	sb.conn = state
	sb.render()
}

// SetUnread updates the global unread count.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetSyncing updates the sync indicator.
func (sb *StatusBar) SetSyncing(syncing bool) {
	sb.syncing = syncing
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	connColor := "red"
	switch sb.conn {
	case "connected":
		connColor = "green"
	case "connecting", "reconnecting":
		connColor = "yellow"
	}

	syncIcon := " "
	if sb.syncing {
		syncIcon = "[green]~[-]"
	}

	badge := ""
	if sb.unread > 0 {
		badge = fmt.Sprintf(" | [yellow]%d unread[-]", sb.unread)
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] %s%s | %s",
		sb.profile, connColor, sb.conn, syncIcon, badge, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
