package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEvent is an immutable audit record of one applied payment. The
// idempotency key makes retried submissions from an unreliable caller safe:
// a replayed key returns the recorded result instead of applying twice.
type PaymentEvent struct {
	ID                  uuid.UUID       `json:"id"`
	InstallmentID       uuid.UUID       `json:"installment_id"`
	IdempotencyKey      string          `json:"idempotency_key"`
	AmountApplied       decimal.Decimal `json:"amount_applied"`
	ResultingPaidAmount decimal.Decimal `json:"resulting_paid_amount"`
	AppliedAt           time.Time       `json:"applied_at"`
}
