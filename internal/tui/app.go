package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/outbox"
	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/protocol"
	"github.com/matpinto/courtline/internal/rest"
	"github.com/matpinto/courtline/internal/search"
	"github.com/matpinto/courtline/internal/status"
	"github.com/matpinto/courtline/internal/transport"
	"github.com/matpinto/courtline/internal/tui/ui"
	"github.com/matpinto/courtline/internal/tui/views"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageSearch        = "search"

	typingIdle   = 3 * time.Second
	flashFor     = 5 * time.Second
	drawInterval = 500 * time.Millisecond
	fullRefresh  = 5 * time.Second
)

// Params carries the client core the TUI renders.
type Params struct {
	Profile string
	Store   *chat.Store
	Sender  *outbox.Sender
	Manager *transport.Manager
	Tracker *presence.Tracker
	Rest    *rest.Client
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// App is the terminal application shell. It owns no messaging state:
// everything it displays comes from the store, the presence tracker and
// the status machine, and every redraw is driven by bus events.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	theme    *ui.Theme
	registry *Registry
	flash    *Flash
	logger   *zap.Logger

	profile string
	store   *chat.Store
	sender  *outbox.Sender
	manager *transport.Manager
	tracker *presence.Tracker
	rest    *rest.Client
	machine *status.Machine
	bus     *bus.Bus

	statusBar   *views.StatusBar
	convList    *views.ConversationList
	filterInput *tview.InputField
	thread      *views.Thread
	searchV     *views.SearchView
	searcher    *search.Debouncer

	typingMu    sync.Mutex
	typingConv  int64
	typingTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(p Params) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		registry:  NewRegistry(),
		flash:     &Flash{},
		logger:    p.Logger,
		profile:   p.Profile,
		store:     p.Store,
		sender:    p.Sender,
		manager:   p.Manager,
		tracker:   p.Tracker,
		rest:      p.Rest,
		machine:   p.Machine,
		bus:       p.Bus,
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(theme),
		thread:    views.NewThread(theme),
		searchV:   views.NewSearchView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.searcher = search.New(p.Rest, a.onSearchResult, search.DefaultDebounce, p.Logger)

	a.filterInput = tview.NewInputField().
		SetLabel(" Filter: ").
		SetFieldWidth(0)
	a.filterInput.SetBackgroundColor(theme.BgColor)
	a.filterInput.SetFieldBackgroundColor(theme.BgColor)
	a.filterInput.SetFieldTextColor(theme.FgColor)
	a.filterInput.SetLabelColor(theme.MenuKeyColor)

	a.statusBar.SetProfile(p.Profile)
	a.statusBar.SetConnection(strings.ToLower(string(p.Machine.Current())))
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("search", &Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:new chat", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddPage(pageConversations, "filter", &Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Visible: true,
		Handler: func() { a.promptFilter() },
	})
	a.registry.AddPage(pageThread, "retry", &Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry", Visible: true,
		Handler: func() { a.retryFailed() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedID(); id != 0 {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		id := a.thread.ConversationID()
		if id == 0 {
			return
		}
		a.stopTyping()
		a.sender.Send(id, text)
		a.refreshThread()
	})

	a.thread.Composer().SetChangedFunc(func(text string) {
		if text == "" {
			return
		}
		a.noteTyping(a.thread.ConversationID())
	})

	a.searchV.SetOnQuery(func(query string) {
		a.searcher.Input(query)
	})
	a.searchV.SetOnSubmit(func() {
		a.searcher.Flush()
		a.app.SetFocus(a.searchV.Results())
	})
	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if p, ok := a.searchV.SelectedPlayer(); ok {
			a.openPlayer(p)
		}
	})

	a.filterInput.SetChangedFunc(func(text string) {
		a.convList.SetFilter(strings.TrimSpace(text))
	})
	a.filterInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.filterInput.SetText("")
			a.convList.ClearFilter()
		}
		a.app.SetFocus(a.convList)
	})
}

func (a *App) setupLayout() {
	convPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.filterInput, 1, 0, false).
		AddItem(a.convList, 0, 1, true)

	a.pages.AddPage(pageConversations, convPage, true, true)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageSearch, a.searchV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case pageThread:
				a.closeThread()
				return nil
			case pageSearch:
				a.searchV.Reset()
				a.pages.SwitchToPage(pageConversations)
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == pageThread && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.thread.Composer())
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

// openConversation switches to a thread, marking it active. Must run on
// the UI goroutine.
func (a *App) openConversation(id int64) {
	prev := a.thread.ConversationID()
	if prev != 0 && prev != id {
		a.manager.Leave(prev)
	}

	a.store.SetActive(id)
	a.manager.Join(id)
	if last := a.latestServerID(id); last != 0 {
		_ = a.manager.Send(protocol.MarkRead(id, last))
	}

	a.thread.SetConversation(id)
	a.refreshThread()
	a.refreshStatus()
	a.pages.SwitchToPage(pageThread)
	a.app.SetFocus(a.thread.Messages())
}

func (a *App) closeThread() {
	a.stopTyping()
	if id := a.thread.ConversationID(); id != 0 {
		a.manager.Leave(id)
	}
	a.store.SetActive(0)
	a.thread.SetConversation(0)
	a.refreshConversations()
	a.pages.SwitchToPage(pageConversations)
	a.app.SetFocus(a.convList)
}

// openPlayer resolves (or creates) the direct conversation with a
// player picked from search and opens it.
func (a *App) openPlayer(p views.PlayerRow) {
	go func() {
		conv, err := a.rest.OpenConversation(a.ctx, p.ID)
		if err != nil {
			a.flash.Set("Open failed: "+err.Error(), flashFor)
			a.app.QueueUpdateDraw(a.refreshStatus)
			return
		}
		a.store.UpsertConversation(conv.ID, chat.Participant{
			ID:       conv.Participant.ID,
			Username: conv.Participant.Username,
		}, conv.UpdatedAt.Time())
		a.app.QueueUpdateDraw(func() {
			a.searchV.Reset()
			a.openConversation(conv.ID)
		})
	}()
}

func (a *App) showSearch() {
	a.searchV.Reset()
	a.pages.SwitchToPage(pageSearch)
	a.app.SetFocus(a.searchV.Input())

	// Seed the empty query with the contact list so the page is not
	// blank before the first keystroke.
	go func() {
		contacts, err := a.rest.Contacts(a.ctx)
		if err != nil {
			a.logger.Debug("contact list fetch failed", zap.Error(err))
			return
		}
		a.app.QueueUpdateDraw(func() {
			if a.searchV.Query() != "" {
				return
			}
			rows := make([]views.PlayerRow, 0, len(contacts))
			for _, p := range contacts {
				rows = append(rows, views.PlayerRow{
					ID:          p.ID,
					Username:    p.Username,
					DisplayName: p.DisplayName,
					Online:      p.IsOnline,
				})
			}
			a.searchV.Update(rows)
		})
	}()
}

func (a *App) promptFilter() {
	a.app.SetFocus(a.filterInput)
}

func (a *App) onSearchResult(res search.Result) {
	a.app.QueueUpdateDraw(func() {
		if res.Err != nil {
			a.flash.Set("Search failed: "+res.Err.Error(), flashFor)
			a.refreshStatus()
			return
		}
		rows := make([]views.PlayerRow, 0, len(res.Players))
		for _, p := range res.Players {
			rows = append(rows, views.PlayerRow{
				ID:          p.ID,
				Username:    p.Username,
				DisplayName: p.DisplayName,
				Online:      p.IsOnline,
			})
		}
		a.searchV.Update(rows)
	})
}

// noteTyping emits a typing start on the first keystroke and arms an
// idle timer that emits the stop.
func (a *App) noteTyping(convID int64) {
	if convID == 0 {
		return
	}
	a.typingMu.Lock()
	defer a.typingMu.Unlock()

	if a.typingConv != convID {
		a.typingConv = convID
		_ = a.manager.Send(protocol.TypingStart(convID))
	}
	if a.typingTimer != nil {
		a.typingTimer.Stop()
	}
	a.typingTimer = time.AfterFunc(typingIdle, a.stopTyping)
}

func (a *App) stopTyping() {
	a.typingMu.Lock()
	defer a.typingMu.Unlock()

	if a.typingTimer != nil {
		a.typingTimer.Stop()
		a.typingTimer = nil
	}
	if a.typingConv != 0 {
		_ = a.manager.Send(protocol.TypingStop(a.typingConv))
		a.typingConv = 0
	}
}

// retryFailed resends the most recent failed message in the open thread.
func (a *App) retryFailed() {
	id := a.thread.ConversationID()
	if id == 0 {
		return
	}
	msgs := a.store.Messages(id)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.SenderID == a.store.SelfID() && m.Delivery == chat.DeliveryFailed && m.ID.Local != "" {
			if a.sender.Retry(m.ID.Local) {
				a.flash.Set("Retrying...", 2*time.Second)
			}
			a.refreshThread()
			a.refreshStatus()
			return
		}
	}
}

func (a *App) latestServerID(convID int64) int64 {
	msgs := a.store.Messages(convID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID.IsConfirmed() {
			return msgs[i].ID.Server
		}
	}
	return 0
}

func (a *App) refreshConversations() {
	convs := a.store.ListConversations()
	rows := make([]views.ConversationRow, 0, len(convs))
	for _, c := range convs {
		row := views.ConversationRow{
			ID:       c.ID,
			Name:     c.Participant.Username,
			Unread:   c.UnreadCount,
			Typing:   len(a.store.TypingUsers(c.ID)) > 0,
			Presence: a.tracker.Derive(c.Participant.ID),
		}
		if c.LastMessage != nil {
			row.Preview = preview(*c.LastMessage)
			row.LastAtMs = c.LastMessage.SentAt.UnixMilli()
		}
		rows = append(rows, row)
	}
	a.convList.Update(rows)
}

func (a *App) refreshThread() {
	id := a.thread.ConversationID()
	if id == 0 {
		return
	}
	conv, ok := a.store.Conversation(id)
	if !ok {
		return
	}

	msgs := a.store.Messages(id)
	rows := make([]views.MessageRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, views.MessageRow{
			Sender:     conv.Participant.Username,
			Own:        m.SenderID == a.store.SelfID(),
			SentAtMs:   m.SentAt.UnixMilli(),
			Content:    m.Content,
			Attachment: m.AttachmentURL,
			Delivery:   m.Delivery,
			FailReason: m.FailReason,
			Read:       m.Read,
		})
	}
	a.thread.Update(rows)
	a.thread.SetHeader(conv.Participant.Username,
		a.tracker.Derive(conv.Participant.ID),
		len(a.store.TypingUsers(id)) > 0)
}

func (a *App) refreshStatus() {
	a.statusBar.SetUnread(a.store.UnreadTotal())
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) refreshPage() {
	currentPage, _ := a.pages.GetFrontPage()
	switch currentPage {
	case pageConversations:
		a.refreshConversations()
	case pageThread:
		a.refreshThread()
	}
	a.refreshStatus()
}

// preview renders a conversation's last message for the list column.
func preview(m chat.Message) string {
	switch m.Type {
	case chat.TypeImage:
		return "[image]"
	case chat.TypeFile:
		return "[file]"
	default:
		if m.Content != "" {
			return m.Content
		}
		if m.AttachmentURL != "" {
			return "[attachment]"
		}
		return ""
	}
}

// Run starts the TUI application and blocks until quit.
func (a *App) Run() error {
	a.refreshConversations()
	a.refreshStatus()
	go a.eventLoop()
	return a.app.Run()
}

// eventLoop coalesces bus events into periodic redraws. Events only
// mark state dirty; the actual draw happens at most every drawInterval
// so a resync burst does not flood the UI queue.
func (a *App) eventLoop() {
	events, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	ticker := time.NewTicker(drawInterval)
	defer ticker.Stop()

	dirty := false
	lastFull := time.Now()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			dirty = true
			switch {
			case evt.Kind == "conn.status_changed":
				if change, ok := evt.Payload.(status.StatusChange); ok {
					state := strings.ToLower(string(change.To))
					a.app.QueueUpdateDraw(func() {
						a.statusBar.SetConnection(state)
						if change.To == status.Connected {
							// A resync kicks off on this transition.
							a.statusBar.SetSyncing(true)
						}
						if change.To == status.AuthFailed {
							a.flash.Set("Authentication rejected: restart after refreshing the token", flashFor)
							a.refreshStatus()
						}
					})
				}
			case evt.Kind == "sync.completed":
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetSyncing(false)
					a.refreshPage()
				})
			case evt.Kind == "notice.received":
				if n, ok := evt.Payload.(protocol.Notification); ok {
					text := n.Message
					if n.Title != "" {
						text = fmt.Sprintf("%s: %s", n.Title, n.Message)
					}
					a.flash.Set(text, flashFor)
				}
			}
		case now := <-ticker.C:
			full := now.Sub(lastFull) >= fullRefresh
			if !dirty && !full {
				continue
			}
			dirty = false
			if full {
				lastFull = now
			}
			a.app.QueueUpdateDraw(a.refreshPage)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.stopTyping()
	a.searcher.Close()
	a.cancel()
	a.app.Stop()
}
