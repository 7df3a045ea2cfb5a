package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qistapp/installment-service/internal/models"
)

// Postgres provides database operations backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres initializes a new postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

const installmentColumns = `id, plan_id, sequence_number, due_date, scheduled_amount, paid_amount,
		status, COALESCE(last_reminder_stage, ''), version, created_at, updated_at`

func scanInstallment(row interface{ Scan(...any) error }) (*models.Installment, error) {
	inst := &models.Installment{}
	err := row.Scan(&inst.ID, &inst.PlanID, &inst.Sequence, &inst.DueDate,
		&inst.ScheduledAmount, &inst.PaidAmount, &inst.Status,
		&inst.LastReminderStage, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// CreatePlan persists a plan and its full schedule in one transaction.
func (r *Postgres) CreatePlan(ctx context.Context, plan *models.InstallmentPlan, installments []models.Installment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger.plans (id, buyer_id, product_ref, principal_amount, down_payment,
			installment_count, frequency_days, start_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		plan.ID, plan.BuyerID, plan.ProductRef, plan.PrincipalAmount, plan.DownPayment,
		plan.InstallmentCount, plan.FrequencyDays, plan.StartDate, plan.Status,
		plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	for i := range installments {
		inst := &installments[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger.installments (id, plan_id, sequence_number, due_date,
				scheduled_amount, paid_amount, status, last_reminder_stage, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`,
			inst.ID, inst.PlanID, inst.Sequence, inst.DueDate,
			inst.ScheduledAmount, inst.PaidAmount, inst.Status, string(inst.LastReminderStage),
			inst.Version, inst.CreatedAt, inst.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan creation: %w", err)
	}
	return nil
}

// Plan retrieves a plan by id.
func (r *Postgres) Plan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	plan := &models.InstallmentPlan{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, product_ref, principal_amount, down_payment,
			installment_count, frequency_days, start_date, status, created_at, updated_at
		FROM ledger.plans
		WHERE id = $1`, id).
		Scan(&plan.ID, &plan.BuyerID, &plan.ProductRef, &plan.PrincipalAmount, &plan.DownPayment,
			&plan.InstallmentCount, &plan.FrequencyDays, &plan.StartDate, &plan.Status,
			&plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return plan, nil
}

// PlanInstallments retrieves the ordered schedule of a plan.
func (r *Postgres) PlanInstallments(ctx context.Context, planID uuid.UUID) ([]models.Installment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+installmentColumns+`
		FROM ledger.installments
		WHERE plan_id = $1
		ORDER BY sequence_number`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// Installment retrieves a single installment by id.
func (r *Postgres) Installment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, err := scanInstallment(r.db.QueryRowContext(ctx, `
		SELECT `+installmentColumns+`
		FROM ledger.installments
		WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find installment: %w", err)
	}
	return inst, nil
}

// PaymentEventByKey retrieves the payment event recorded for an idempotency key.
func (r *Postgres) PaymentEventByKey(ctx context.Context, installmentID uuid.UUID, key string) (*models.PaymentEvent, error) {
	evt := &models.PaymentEvent{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, installment_id, idempotency_key, amount_applied, resulting_paid_amount, applied_at
		FROM ledger.payment_events
		WHERE installment_id = $1 AND idempotency_key = $2`, installmentID, key).
		Scan(&evt.ID, &evt.InstallmentID, &evt.IdempotencyKey, &evt.AmountApplied,
			&evt.ResultingPaidAmount, &evt.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment event: %w", err)
	}
	return evt, nil
}

// RecordPayment commits the installment mutation, the audit event and the
// optional plan status change atomically, guarded by the installment version.
func (r *Postgres) RecordPayment(ctx context.Context, inst *models.Installment, evt *models.PaymentEvent, planStatus models.PlanStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger.installments
		SET paid_amount = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		inst.PaidAmount, inst.Status, inst.UpdatedAt, inst.ID, inst.Version)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger.payment_events (id, installment_id, idempotency_key,
			amount_applied, resulting_paid_amount, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID, evt.InstallmentID, evt.IdempotencyKey, evt.AmountApplied,
		evt.ResultingPaidAmount, evt.AppliedAt)
	if err != nil {
		// A concurrent writer won the idempotency key; retrying will replay
		// the recorded result.
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to append payment event: %w", err)
	}

	if planStatus != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE ledger.plans SET status = $1, updated_at = $2 WHERE id = $3`,
			planStatus, inst.UpdatedAt, inst.PlanID)
		if err != nil {
			return fmt.Errorf("failed to update plan status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	inst.Version++
	return nil
}

// UpdateInstallment persists status and reminder-stage changes guarded by the
// installment version.
func (r *Postgres) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger.installments
		SET status = $1, last_reminder_stage = NULLIF($2, ''), version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		inst.Status, string(inst.LastReminderStage), inst.UpdatedAt, inst.ID, inst.Version)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	inst.Version++
	return nil
}

// UpdatePlanStatus sets the status of a plan.
func (r *Postgres) UpdatePlanStatus(ctx context.Context, planID uuid.UUID, status models.PlanStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger.plans SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		status, planID)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivePlans returns every active plan with its ordered schedule.
func (r *Postgres) ActivePlans(ctx context.Context) ([]ScanPlan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.buyer_id, p.product_ref, p.principal_amount, p.down_payment,
			p.installment_count, p.frequency_days, p.start_date, p.status, p.created_at, p.updated_at,
			i.id, i.plan_id, i.sequence_number, i.due_date, i.scheduled_amount, i.paid_amount,
			i.status, COALESCE(i.last_reminder_stage, ''), i.version, i.created_at, i.updated_at
		FROM ledger.plans p
		JOIN ledger.installments i ON i.plan_id = p.id
		WHERE p.status = $1
		ORDER BY p.created_at, i.sequence_number`, models.PlanActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active plans: %w", err)
	}
	defer rows.Close()

	var out []ScanPlan
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var plan models.InstallmentPlan
		var inst models.Installment
		err := rows.Scan(&plan.ID, &plan.BuyerID, &plan.ProductRef, &plan.PrincipalAmount,
			&plan.DownPayment, &plan.InstallmentCount, &plan.FrequencyDays, &plan.StartDate,
			&plan.Status, &plan.CreatedAt, &plan.UpdatedAt,
			&inst.ID, &inst.PlanID, &inst.Sequence, &inst.DueDate, &inst.ScheduledAmount,
			&inst.PaidAmount, &inst.Status, &inst.LastReminderStage, &inst.Version,
			&inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active plan row: %w", err)
		}
		pos, ok := index[plan.ID]
		if !ok {
			pos = len(out)
			index[plan.ID] = pos
			out = append(out, ScanPlan{Plan: plan})
		}
		out[pos].Installments = append(out[pos].Installments, inst)
	}
	return out, rows.Err()
}

// ListOverdue returns overdue installments, optionally filtered by buyer.
func (r *Postgres) ListOverdue(ctx context.Context, buyerID *uuid.UUID) ([]models.Installment, error) {
	query := `
		SELECT i.id, i.plan_id, i.sequence_number, i.due_date, i.scheduled_amount, i.paid_amount,
			i.status, COALESCE(i.last_reminder_stage, ''), i.version, i.created_at, i.updated_at
		FROM ledger.installments i
		JOIN ledger.plans p ON p.id = i.plan_id
		WHERE i.status = $1`
	args := []any{models.InstallmentOverdue}
	if buyerID != nil {
		query += ` AND p.buyer_id = $2`
		args = append(args, *buyerID)
	}
	query += ` ORDER BY i.due_date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue installments: %w", err)
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// BuyerContact retrieves delivery coordinates for a buyer.
func (r *Postgres) BuyerContact(ctx context.Context, buyerID uuid.UUID) (*models.BuyerContact, error) {
	contact := &models.BuyerContact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT buyer_id, name, email, COALESCE(push_token, '')
		FROM ledger.buyers
		WHERE buyer_id = $1`, buyerID).
		Scan(&contact.BuyerID, &contact.Name, &contact.Email, &contact.PushToken)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find buyer contact: %w", err)
	}
	return contact, nil
}

// CreateNotification appends an in-app notification.
func (r *Postgres) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger.notifications (id, user_id, title, message, type, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (r *Postgres) ListNotifications(ctx context.Context, userID uuid.UUID) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, type, is_read, read_at, created_at
		FROM ledger.notifications
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read.
func (r *Postgres) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger.notifications
		SET is_read = TRUE, read_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND NOT is_read`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	return nil
}
