package sync

import (
	"fmt"

	"github.com/matpinto/courtline/internal/chat"
	"go.uber.org/zap"
)

// SettleUnsent flags optimistic sends left unconfirmed by a previous
// run. An ack that was missed while the process was down is gone for
// good, so the honest state is failed-with-retry rather than pending
// forever.
func (e *Engine) SettleUnsent() error {
	if e.db == nil {
		return nil
	}
	unsent, err := e.db.UnsentMessages()
	if err != nil {
		return fmt.Errorf("settle unsent: %w", err)
	}

	for _, m := range unsent {
		if m.Delivery != string(chat.DeliveryPending) {
			continue
		}
		reason := "not delivered before shutdown"
		if err := e.db.MarkFailed(m.LocalID, reason); err != nil {
			e.logger.Warn("settle unsent", zap.String("local_id", m.LocalID), zap.Error(err))
			continue
		}
		e.store.FailLocal(m.LocalID, reason)
	}
	if len(unsent) > 0 {
		e.logger.Info("settled unsent messages", zap.Int("count", len(unsent)))
	}
	return nil
}
