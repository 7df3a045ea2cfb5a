package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app inbox entry created for the buyer when a
// reminder is emitted.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// BuyerContact holds the delivery coordinates for a buyer. Buyer CRUD lives
// outside this service; the engine only reads contacts to address reminders.
type BuyerContact struct {
	BuyerID   uuid.UUID `json:"buyer_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	PushToken string    `json:"push_token"`
}
