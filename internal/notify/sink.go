// Package notify delivers reminder events to the outside world. The engine
// only depends on the Sink interface; the concrete transport (email, push,
// in-app inbox) is swappable without touching ledger or scheduler logic.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/models"
)

// Sink receives reminder events for delivery. Delivery is best-effort and
// may be retried by the scan loop, so sinks must tolerate a duplicate
// (installment, stage) pair.
type Sink interface {
	Deliver(ctx context.Context, event models.ReminderEvent) error
}

// Directory resolves a buyer's delivery coordinates. Buyer management lives
// outside this service.
type Directory interface {
	BuyerContact(ctx context.Context, buyerID uuid.UUID) (*models.BuyerContact, error)
}

// Multi fans an event out to several sinks. A failing sink does not stop the
// others; any failure is reported so the scan loop withholds the stage and
// retries on its next run.
type Multi struct {
	sinks []Sink
	log   *logrus.Logger
}

// NewMulti creates a fan-out sink.
func NewMulti(log *logrus.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log}
}

func (m *Multi) Deliver(ctx context.Context, event models.ReminderEvent) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			m.log.Warnf("Reminder delivery failed for installment %s stage %s: %v",
				event.InstallmentID, event.Stage, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("reminder delivery: %w", firstErr)
	}
	return nil
}

// LogSink records events to the application log. Useful as a default sink
// when no delivery transport is configured.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, event models.ReminderEvent) error {
	s.log.WithFields(logrus.Fields{
		"installment_id": event.InstallmentID,
		"plan_id":        event.PlanID,
		"buyer_id":       event.BuyerID,
		"stage":          event.Stage,
		"due_date":       event.DueDate.Format("2006-01-02"),
		"outstanding":    event.OutstandingAmount.String(),
	}).Info("Reminder emitted")
	return nil
}
