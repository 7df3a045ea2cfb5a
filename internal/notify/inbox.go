package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qistapp/installment-service/internal/models"
)

// Inbox stores in-app notifications.
type Inbox interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// InboxSink materializes reminder events as in-app notifications in the
// buyer's inbox.
type InboxSink struct {
	inbox Inbox
}

// NewInboxSink creates an in-app notification sink.
func NewInboxSink(inbox Inbox) *InboxSink {
	return &InboxSink{inbox: inbox}
}

func (s *InboxSink) Deliver(ctx context.Context, event models.ReminderEvent) error {
	title, body := reminderText(event)
	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    event.BuyerID,
		Title:     title,
		Message:   body,
		Type:      notificationType(event.Stage),
		CreatedAt: event.EmittedAt,
	}
	if err := s.inbox.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

func notificationType(stage models.ReminderStage) string {
	if stage == models.StageOverdue {
		return "payment_overdue"
	}
	return "payment_due"
}
