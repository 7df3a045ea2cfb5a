package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/config"
	"github.com/qistapp/installment-service/internal/models"
)

// EmailSink sends reminder emails via SMTP.
type EmailSink struct {
	cfg       *config.Config
	directory Directory
	log       *logrus.Logger
}

// NewEmailSink creates an email sink.
func NewEmailSink(cfg *config.Config, directory Directory, log *logrus.Logger) *EmailSink {
	return &EmailSink{cfg: cfg, directory: directory, log: log}
}

// Deliver sends a payment reminder email to the buyer.
func (s *EmailSink) Deliver(ctx context.Context, event models.ReminderEvent) error {
	contact, err := s.directory.BuyerContact(ctx, event.BuyerID)
	if err != nil {
		return fmt.Errorf("failed to resolve buyer contact: %w", err)
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{contact.Email}

	dueDate := event.DueDate.Format("2006-01-02")
	body := fmt.Sprintf("Dear %s,\n\n", contact.Name)
	switch event.Stage {
	case models.StageOverdue:
		e.Subject = "Overdue Installment Payment Notification"
		body += fmt.Sprintf(
			"Your installment payment of %s was due on %s and is now overdue.\n"+
				"Please make the payment as soon as possible.\n",
			event.OutstandingAmount, dueDate,
		)
	case models.StageDue:
		e.Subject = "Installment Payment Due Today"
		body += fmt.Sprintf(
			"Your installment payment of %s is due today, %s.\n"+
				"Please ensure the payment is made on time.\n",
			event.OutstandingAmount, dueDate,
		)
	default:
		e.Subject = "Upcoming Installment Payment Reminder"
		body += fmt.Sprintf(
			"This is a reminder that your installment payment of %s is due on %s.\n",
			event.OutstandingAmount, dueDate,
		)
	}
	body += "\nBest regards,\nInstallment Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.log.Errorf("Failed to send email to %s: %v", contact.Email, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.log.Infof("Email sent to %s: %s", contact.Email, e.Subject)
	return nil
}
