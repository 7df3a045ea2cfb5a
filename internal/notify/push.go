package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/models"
)

// DefaultExpoPushURL is the Expo push notification endpoint.
const DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

// PushSink sends reminder push notifications through the Expo push service.
// Buyers without a registered push token are skipped silently.
type PushSink struct {
	url       string
	client    *http.Client
	directory Directory
	log       *logrus.Logger
}

// NewPushSink creates an Expo push sink.
func NewPushSink(url string, directory Directory, log *logrus.Logger) *PushSink {
	if url == "" {
		url = DefaultExpoPushURL
	}
	return &PushSink{
		url:       url,
		client:    &http.Client{Timeout: 10 * time.Second},
		directory: directory,
		log:       log,
	}
}

type pushMessage struct {
	To    string         `json:"to"`
	Sound string         `json:"sound"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Deliver posts a push message for the buyer's device.
func (s *PushSink) Deliver(ctx context.Context, event models.ReminderEvent) error {
	contact, err := s.directory.BuyerContact(ctx, event.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to resolve buyer contact: %w", err)
	}
	if contact.PushToken == "" {
		return nil
	}

	title, bodyText := reminderText(event)
	msg := pushMessage{
		To:    contact.PushToken,
		Sound: "default",
		Title: title,
		Body:  bodyText,
		Data: map[string]any{
			"type":           "payment_reminder",
			"installment_id": event.InstallmentID.String(),
			"plan_id":        event.PlanID.String(),
			"stage":          string(event.Stage),
			"outstanding":    event.OutstandingAmount.String(),
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, body)
	}

	s.log.Infof("Push notification sent to buyer %s for installment %s", event.BuyerID, event.InstallmentID)
	return nil
}

func reminderText(event models.ReminderEvent) (title, body string) {
	dueDate := event.DueDate.Format("2006-01-02")
	switch event.Stage {
	case models.StageOverdue:
		return "Payment Overdue", fmt.Sprintf("Your installment of %s was due on %s.", event.OutstandingAmount, dueDate)
	case models.StageDue:
		return "Payment Due Today", fmt.Sprintf("Your installment of %s is due today.", event.OutstandingAmount)
	default:
		return "Upcoming Payment", fmt.Sprintf("Your installment of %s is due on %s.", event.OutstandingAmount, dueDate)
	}
}
