package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/protocol"
	"go.uber.org/zap"
)

// DefaultAckTimeout bounds how long a sent message may stay pending
// before it is flagged failed.
const DefaultAckTimeout = 10 * time.Second

// FrameSender pushes an outbound frame onto the live socket.
type FrameSender interface {
	Send(f protocol.Frame) error
}

// Sender performs optimistic sends: every message appears in the
// conversation immediately with a local id, goes out on the wire, and
// is either confirmed by the server ack or flagged failed when the ack
// never arrives. Failed messages stay visible and can be retried with
// the same local id.
type Sender struct {
	store      *chat.Store
	transport  FrameSender
	bus        *bus.Bus
	logger     *zap.Logger
	ackTimeout time.Duration
	now        func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer

	cancel context.CancelFunc
}

// NewSender creates a sender. ackTimeout <= 0 selects DefaultAckTimeout.
func NewSender(store *chat.Store, transport FrameSender, b *bus.Bus, ackTimeout time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Sender{
		store:      store,
		transport:  transport,
		bus:        b,
		logger:     logger.Named("outbox"),
		ackTimeout: ackTimeout,
		now:        time.Now,
		timers:     make(map[string]*time.Timer),
	}
}

// Start begins consuming server acks.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("srv."+protocol.FrameMessageAck, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				ack, ok := evt.Payload.(protocol.MessageAck)
				if !ok {
					continue
				}
				s.confirm(ack)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops ack consumption and drops all pending timers. Messages
// still pending keep their pending state; the resync pass settles them.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// Send inserts an optimistic message and puts it on the wire. The
// returned local id identifies the message until the server confirms
// it. Send never blocks on the network.
func (s *Sender) Send(conversationID int64, content string) string {
	localID := uuid.NewString()

	s.store.ApplyMessage(chat.Message{
		ID:             chat.MessageID{Local: localID},
		ConversationID: conversationID,
		SenderID:       s.store.SelfID(),
		Type:           chat.TypeText,
		Content:        content,
		SentAt:         s.now(),
		Read:           true,
		Delivery:       chat.DeliveryPending,
	})

	s.dispatch(conversationID, content, localID)
	return localID
}

// Retry re-sends a failed message, keeping its local id so a late ack
// for either attempt confirms the same message.
func (s *Sender) Retry(localID string) bool {
	msg, ok := s.store.Local(localID)
	if !ok || msg.Delivery != chat.DeliveryFailed {
		return false
	}
	s.store.RetryLocal(localID)
	s.dispatch(msg.ConversationID, msg.Content, localID)
	return true
}

func (s *Sender) dispatch(conversationID int64, content, localID string) {
	if err := s.transport.Send(protocol.SendMessage(conversationID, content, string(chat.TypeText), localID)); err != nil {
		s.logger.Warn("send failed immediately",
			zap.String("client_msg_id", localID),
			zap.Error(err))
		s.store.FailLocal(localID, err.Error())
		return
	}
	s.armTimeout(localID)
}

func (s *Sender) armTimeout(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[localID]; ok {
		t.Stop()
	}
	s.timers[localID] = time.AfterFunc(s.ackTimeout, func() {
		s.mu.Lock()
		delete(s.timers, localID)
		s.mu.Unlock()
		if s.store.FailLocal(localID, "no server acknowledgement") {
			s.logger.Warn("ack timeout", zap.String("client_msg_id", localID))
		}
	})
}

func (s *Sender) confirm(ack protocol.MessageAck) {
	s.mu.Lock()
	if t, ok := s.timers[ack.ClientMsgID]; ok {
		t.Stop()
		delete(s.timers, ack.ClientMsgID)
	}
	s.mu.Unlock()

	if !s.store.ConfirmLocal(ack.ClientMsgID, ack.ID, ack.SentAt.Time()) {
		s.logger.Debug("ack for unknown message", zap.String("client_msg_id", ack.ClientMsgID))
		return
	}
	s.logger.Info("message confirmed",
		zap.String("client_msg_id", ack.ClientMsgID),
		zap.Int64("server_msg_id", ack.ID))
}
