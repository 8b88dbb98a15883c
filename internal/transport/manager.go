package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/protocol"
	"github.com/matpinto/courtline/internal/status"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second

	sendBuffer = 64
)

var (
	// ErrAuthFailed means the server rejected our token. Terminal: the
	// manager will not retry until a new token is supplied.
	ErrAuthFailed = errors.New("transport: authentication failed")

	// ErrNotConnected is returned by Send when no socket is up. Callers
	// queue their own retries; the manager does not buffer across
	// reconnects.
	ErrNotConnected = errors.New("transport: not connected")
)

// Manager owns the websocket to the chat server. It dials with the
// bearer token, decodes inbound frames onto the bus under the "srv."
// namespace, and redials with capped exponential backoff when the
// socket drops. Joined conversations are re-announced after every
// successful redial.
type Manager struct {
	socketURL string
	token     string
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	dialer    *websocket.Dialer
	heartbeat time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	send  chan protocol.Frame
	joins map[int64]int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. heartbeat is the interval between
// keepalive frames on an idle socket.
func NewManager(socketURL, token string, machine *status.Machine, b *bus.Bus, heartbeat time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		socketURL: socketURL,
		token:     token,
		machine:   machine,
		bus:       b,
		logger:    logger.Named("transport"),
		dialer:    &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		heartbeat: heartbeat,
		joins:     make(map[int64]int),
	}
}

// Connect dials the server and starts the supervision loop. It returns
// once the first connection attempt resolves: nil when connected,
// ErrAuthFailed when the token was rejected, or the dial error
// otherwise. After a successful Connect the manager keeps the socket
// alive on its own until Disconnect.
func (m *Manager) Connect(ctx context.Context) error {
	if cur := m.machine.Current(); cur == status.AuthFailed {
		return ErrAuthFailed
	} else if cur != status.Disconnected {
		return nil
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}

	conn, err := m.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			_ = m.machine.Transition(status.AuthFailed)
			return ErrAuthFailed
		}
		_ = m.machine.Transition(status.Disconnected)
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.attach(conn)
	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Error("state transition failed", zap.Error(err))
	}
	m.replayJoins()

	go m.supervise(ctx)
	return nil
}

// Disconnect closes the socket and stops the supervision loop.
func (m *Manager) Disconnect() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	switch m.machine.Current() {
	case status.Connected, status.Reconnecting, status.Connecting:
		_ = m.machine.Transition(status.Disconnected)
	}
}

// Send queues a frame for delivery. Fails fast when disconnected or
// when the write queue is full.
func (m *Manager) Send(f protocol.Frame) error {
	m.mu.Lock()
	ch := m.send
	m.mu.Unlock()
	if ch == nil || m.machine.Current() != status.Connected {
		return ErrNotConnected
	}
	select {
	case ch <- f:
		return nil
	default:
		return fmt.Errorf("transport: send queue full, dropping %s", f.Type)
	}
}

// Join subscribes to a conversation's room. Calls are refcounted: the
// join_chat frame goes out only on the first interested caller, and the
// room survives reconnects until the count drops to zero.
func (m *Manager) Join(conversationID int64) {
	m.mu.Lock()
	m.joins[conversationID]++
	first := m.joins[conversationID] == 1
	m.mu.Unlock()

	if first {
		if err := m.Send(protocol.JoinChat(conversationID)); err != nil {
			m.logger.Debug("join deferred until connected", zap.Int64("conversation_id", conversationID))
		}
	}
}

// Leave drops one reference to a conversation's room.
func (m *Manager) Leave(conversationID int64) {
	m.mu.Lock()
	n, ok := m.joins[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	n--
	if n <= 0 {
		delete(m.joins, conversationID)
	} else {
		m.joins[conversationID] = n
	}
	last := n <= 0
	m.mu.Unlock()

	if last {
		if err := m.Send(protocol.LeaveChat(conversationID)); err != nil {
			m.logger.Debug("leave skipped while disconnected", zap.Int64("conversation_id", conversationID))
		}
	}
}

// Joined reports the current reference count for a conversation.
func (m *Manager) Joined(conversationID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joins[conversationID]
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.token)

	conn, resp, err := m.dialer.DialContext(ctx, m.socketURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("dial %s: %w", m.socketURL, err)
	}
	return conn, nil
}

func (m *Manager) attach(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.send = make(chan protocol.Frame, sendBuffer)
	m.mu.Unlock()
}

func (m *Manager) detach() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.send = nil
	m.mu.Unlock()
}

// supervise runs the pump pair for the current socket and redials when
// it drops, until the context is cancelled or auth fails.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.Lock()
		conn, send := m.conn, m.send
		m.mu.Unlock()

		readErr := make(chan error, 1)
		writeCtx, stopWrite := context.WithCancel(ctx)
		go m.writePump(writeCtx, conn, send)
		go func() { readErr <- m.readPump(conn) }()

		select {
		case <-ctx.Done():
			stopWrite()
			m.detach()
			return
		case err := <-readErr:
			stopWrite()
			m.detach()
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("socket lost", zap.Error(err))
			if err := m.machine.Transition(status.Reconnecting); err != nil {
				m.logger.Error("state transition failed", zap.Error(err))
			}
		}

		conn, err := m.redial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				_ = m.machine.Transition(status.AuthFailed)
			}
			return
		}
		m.attach(conn)
		if err := m.machine.Transition(status.Connected); err != nil {
			m.logger.Error("state transition failed", zap.Error(err))
		}
		m.replayJoins()
		m.bus.Publish(bus.Event{Kind: "conn.resumed", Timestamp: time.Now()})
	}
}

// redial retries with capped exponential backoff plus jitter. Only a
// cancelled context or a rejected token stops it.
func (m *Manager) redial(ctx context.Context) (*websocket.Conn, error) {
	delay := backoffBase
	for attempt := 1; ; attempt++ {
		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		m.logger.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", jittered))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}

		conn, err := m.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrAuthFailed) {
			return nil, err
		}
		m.logger.Warn("reconnect attempt failed", zap.Error(err))

		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// replayJoins re-announces every refcounted room on a fresh socket.
func (m *Manager) replayJoins() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.joins))
	for id := range m.joins {
		ids = append(ids, id)
	}
	ch := m.send
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case ch <- protocol.JoinChat(id):
		default:
			m.logger.Warn("join replay dropped", zap.Int64("conversation_id", id))
		}
	}
}

func (m *Manager) readPump(conn *websocket.Conn) error {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		evt, err := protocol.Decode(frame)
		if err != nil {
			var unknown *protocol.ErrUnknownFrame
			if errors.As(err, &unknown) {
				m.logger.Debug("ignoring unknown frame", zap.String("type", unknown.Type))
			} else {
				m.logger.Warn("malformed frame", zap.String("type", frame.Type), zap.Error(err))
			}
			continue
		}

		m.bus.Publish(bus.Event{
			Kind:      "srv." + frame.Type,
			Timestamp: time.Now(),
			Payload:   evt,
		})
	}
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, send <-chan protocol.Frame) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				m.logger.Warn("write failed", zap.String("type", frame.Type), zap.Error(err))
				conn.Close() // force the read pump to notice
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(protocol.Heartbeat()); err != nil {
				conn.Close()
				return
			}
		}
	}
}
