/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to bills, payments and notifications.
 *
 * Key concurrency points:
 * - ApplyVerifiedPayment serializes per bill with `SELECT ... FOR UPDATE` and
 *   snapshots the bill total inside that critical section.
 * - Payment idempotency is enforced by the unique index on
 *   (gateway_order_id, gateway_payment_id) and an insert-on-conflict, never a
 *   check-then-insert.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain, internal/penalty: Domain models and penalty evaluation.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/penalty"
)

var (
	ErrBillNotFound         = errors.New("bill not found")
	ErrDuplicateBill        = errors.New("bill already exists for tenant and period")
	ErrBillHasPayments      = errors.New("bill has verified payments and cannot be deleted")
	ErrBillAlreadySettled   = errors.New("bill is already settled")
	ErrOverpayment          = errors.New("payment exceeds remaining bill amount")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

const (
	uniqueViolationCode = "23505"

	billColumns = `id, tenant_id, room_id, period_month, period_year, bill_number,
		rent, electricity_start_unit, electricity_end_unit, electricity_rate,
		water, common_area, additional_charges, base_amount, due_date,
		days_overdue, penalty_amount, total_amount, paid_amount,
		status, settled_at, deleted_at, created_at, updated_at`

	paymentColumns = `id, bill_id, tenant_id, amount, method, gateway_order_id,
		gateway_payment_id, gateway_signature, status, failure_reason, paid_at,
		created_at, updated_at`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func scanBill(row pgx.Row) (*domain.Bill, error) {
	var (
		bill       domain.Bill
		chargesRaw []byte
	)
	err := row.Scan(
		&bill.ID, &bill.TenantID, &bill.RoomID, &bill.Period.Month, &bill.Period.Year, &bill.BillNumber,
		&bill.LineItems.Rent, &bill.LineItems.ElectricityStartUnit, &bill.LineItems.ElectricityEndUnit,
		&bill.LineItems.ElectricityRate, &bill.LineItems.Water, &bill.LineItems.CommonArea,
		&chargesRaw, &bill.BaseAmount, &bill.DueDate,
		&bill.DaysOverdue, &bill.PenaltyAmount, &bill.TotalAmount, &bill.PaidAmount,
		&bill.Status, &bill.SettledAt, &bill.DeletedAt, &bill.CreatedAt, &bill.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBillNotFound
		}
		return nil, err
	}
	if len(chargesRaw) > 0 {
		if err := json.Unmarshal(chargesRaw, &bill.LineItems.AdditionalCharges); err != nil {
			return nil, fmt.Errorf("decode additional charges for bill %s: %w", bill.ID, err)
		}
	}
	return &bill, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.BillID, &p.TenantID, &p.Amount, &p.Method, &p.GatewayOrderID,
		&p.GatewayPaymentID, &p.GatewaySignature, &p.Status, &p.FailureReason, &p.PaidAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateBill inserts a new bill. The partial unique index on
// (tenant_id, period_year, period_month) WHERE deleted_at IS NULL makes
// regeneration for an existing live period fail with ErrDuplicateBill.
func (r *PostgresRepository) CreateBill(ctx context.Context, bill *domain.Bill) error {
	charges, err := json.Marshal(bill.LineItems.AdditionalCharges)
	if err != nil {
		return fmt.Errorf("encode additional charges: %w", err)
	}

	query := `
		INSERT INTO bills (
			id, tenant_id, room_id, period_month, period_year, bill_number,
			rent, electricity_start_unit, electricity_end_unit, electricity_rate,
			water, common_area, additional_charges, base_amount, due_date,
			days_overdue, penalty_amount, total_amount, paid_amount, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, 0, 0, $14, 0, $16
		)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		bill.ID, bill.TenantID, bill.RoomID, bill.Period.Month, bill.Period.Year, bill.BillNumber,
		bill.LineItems.Rent, bill.LineItems.ElectricityStartUnit, bill.LineItems.ElectricityEndUnit,
		bill.LineItems.ElectricityRate, bill.LineItems.Water, bill.LineItems.CommonArea,
		charges, bill.BaseAmount, bill.DueDate, domain.BillStatusPending,
	).Scan(&bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateBill
		}
		return err
	}
	return nil
}

// FindBillByID retrieves a non-deleted bill by id.
func (r *PostgresRepository) FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1 AND deleted_at IS NULL`
	return scanBill(r.db.QueryRow(ctx, query, billID))
}

// FindBillsByTenantID retrieves all non-deleted bills for a tenant, newest period first.
func (r *PostgresRepository) FindBillsByTenantID(ctx context.Context, tenantID uuid.UUID) ([]domain.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY period_year DESC, period_month DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBills(rows)
}

// ListBillsWithPaymentsByPeriod is the read contract for the reporting
// component: all non-deleted bills for a period with their payments attached.
func (r *PostgresRepository) ListBillsWithPaymentsByPeriod(ctx context.Context, period domain.BillingPeriod) ([]domain.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE period_year = $1 AND period_month = $2 AND deleted_at IS NULL
		ORDER BY bill_number
	`
	rows, err := r.db.Query(ctx, query, period.Year, period.Month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills, err := collectBills(rows)
	if err != nil {
		return nil, err
	}
	for i := range bills {
		payments, err := r.FindPaymentsByBillID(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Payments = payments
	}
	return bills, nil
}

// ListUnsettledBillsPastDue returns unpaid bills whose due date has passed,
// used by the scheduled penalty sweep.
func (r *PostgresRepository) ListUnsettledBillsPastDue(ctx context.Context, asOf time.Time) ([]domain.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE settled_at IS NULL AND deleted_at IS NULL AND due_date < $1
		ORDER BY due_date
	`
	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBills(rows)
}

func collectBills(rows pgx.Rows) ([]domain.Bill, error) {
	var bills []domain.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	return bills, rows.Err()
}

// RefreshBillPenalty recomputes and persists the cached penalty columns for an
// unsettled bill. It takes the same row lock as payment application, so the
// sweep is safe to run concurrently with live reconciliation.
func (r *PostgresRepository) RefreshBillPenalty(ctx context.Context, billID uuid.UUID, policy penalty.Policy, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	bill, err := scanBill(tx.QueryRow(ctx, query, billID))
	if err != nil {
		return err
	}
	if bill.Settled() {
		return nil
	}

	penalty.Recompute(bill, now, policy)

	update := `
		UPDATE bills
		SET days_overdue = $1, penalty_amount = $2, total_amount = $3, status = $4, updated_at = NOW()
		WHERE id = $5
	`
	if _, err := tx.Exec(ctx, update, bill.DaysOverdue, bill.PenaltyAmount, bill.TotalAmount, bill.Status, bill.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SoftDeleteBill marks a bill deleted. Bills referenced by a verified payment
// are immutable financial history and cannot be deleted.
func (r *PostgresRepository) SoftDeleteBill(ctx context.Context, billID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var hasPayments bool
	check := `SELECT EXISTS(SELECT 1 FROM bill_payments WHERE bill_id = $1 AND status = $2)`
	if err := tx.QueryRow(ctx, check, billID, domain.PaymentStatusVerified).Scan(&hasPayments); err != nil {
		return err
	}
	if hasPayments {
		return ErrBillHasPayments
	}

	result, err := tx.Exec(ctx, `UPDATE bills SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, billID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return tx.Commit(ctx)
}

// CreateInitiatedPayment records a payment order handed to the gateway.
func (r *PostgresRepository) CreateInitiatedPayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO bill_payments (id, bill_id, tenant_id, amount, method, gateway_order_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		payment.ID, payment.BillID, payment.TenantID, payment.Amount, payment.Method,
		payment.GatewayOrderID, domain.PaymentStatusInitiated,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
}

// RecordFailedPayment persists a failed payment attempt for the audit trail.
// Failures never mutate the bill.
func (r *PostgresRepository) RecordFailedPayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO bill_payments (id, bill_id, tenant_id, amount, method, gateway_order_id,
			gateway_payment_id, gateway_signature, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		payment.ID, payment.BillID, payment.TenantID, payment.Amount, payment.Method,
		payment.GatewayOrderID, payment.GatewayPaymentID, payment.GatewaySignature,
		domain.PaymentStatusFailed, payment.FailureReason,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
}

// FindPaymentByGatewayIDs looks up a payment by its gateway order/payment pair.
func (r *PostgresRepository) FindPaymentByGatewayIDs(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM bill_payments WHERE gateway_order_id = $1 AND gateway_payment_id = $2`
	return scanPayment(r.db.QueryRow(ctx, query, gatewayOrderID, gatewayPaymentID))
}

// FindInitiatedPaymentByOrderID resolves a gateway order back to the payment
// record created when the order was opened. Reconciliation uses it to find
// which bill and tenant a gateway callback belongs to.
func (r *PostgresRepository) FindInitiatedPaymentByOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM bill_payments
		WHERE gateway_order_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, gatewayOrderID, domain.PaymentStatusInitiated))
}

// FindPaymentsByBillID retrieves all payment records for a bill, oldest first.
func (r *PostgresRepository) FindPaymentsByBillID(ctx context.Context, billID uuid.UUID) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM bill_payments WHERE bill_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ApplyVerifiedPayment applies a verified payment to its bill in one
// transaction. See the Repository interface doc for the exact semantics.
func (r *PostgresRepository) ApplyVerifiedPayment(ctx context.Context, params ApplyPaymentParams) (*domain.Bill, *domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	// Fast idempotency path: a verified row for this pair means a duplicate
	// callback. Return it unchanged.
	existing, err := r.findVerifiedPayment(ctx, tx, params.GatewayOrderID, params.GatewayPaymentID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		bill, err := scanBill(tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, existing.BillID))
		if err != nil {
			return nil, nil, err
		}
		penalty.Recompute(bill, params.Now, params.Policy)
		return bill, existing, nil
	}

	// Per-bill critical section. The total is snapshotted under this lock so a
	// concurrent penalty refresh cannot tear the overpayment check.
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	bill, err := scanBill(tx.QueryRow(ctx, query, params.BillID))
	if err != nil {
		return nil, nil, err
	}

	penalty.Recompute(bill, params.Now, params.Policy)
	if params.Amount <= 0 || bill.PaidAmount+params.Amount > bill.TotalAmount {
		return nil, nil, ErrOverpayment
	}

	payment, err := r.upsertVerifiedPayment(ctx, tx, bill, params)
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		// A concurrent reconciliation of the same pair won the unique
		// constraint race. The bill row we hold already reflects its apply.
		winner, err := r.findVerifiedPayment(ctx, tx, params.GatewayOrderID, params.GatewayPaymentID)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, err
		}
		return bill, winner, nil
	}

	bill.PaidAmount += params.Amount
	bill.RemainingAmount = bill.TotalAmount - bill.PaidAmount
	if bill.PaidAmount >= bill.TotalAmount {
		bill.Status = domain.BillStatusPaid
		settled := params.Now
		bill.SettledAt = &settled
	} else {
		bill.Status = penalty.Status(bill.DueDate, params.Now, bill.PaidAmount, bill.TotalAmount)
	}

	update := `
		UPDATE bills
		SET paid_amount = $1, days_overdue = $2, penalty_amount = $3, total_amount = $4,
			status = $5, settled_at = $6, updated_at = NOW()
		WHERE id = $7
	`
	if _, err := tx.Exec(ctx, update,
		bill.PaidAmount, bill.DaysOverdue, bill.PenaltyAmount, bill.TotalAmount,
		bill.Status, bill.SettledAt, bill.ID,
	); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return bill, payment, nil
}

func (r *PostgresRepository) findVerifiedPayment(ctx context.Context, q pgxQuerier, orderID, paymentID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM bill_payments
		WHERE gateway_order_id = $1 AND gateway_payment_id = $2 AND status = $3
	`
	return scanPayment(q.QueryRow(ctx, query, orderID, paymentID, domain.PaymentStatusVerified))
}

// upsertVerifiedPayment promotes the initiated order row to verified, or
// inserts a fresh verified row when no order row exists (gateway-first flows).
// Returns nil when a concurrent transaction already owns the pair.
func (r *PostgresRepository) upsertVerifiedPayment(ctx context.Context, tx pgx.Tx, bill *domain.Bill, params ApplyPaymentParams) (*domain.Payment, error) {
	paidAt := params.Now

	promote := `
		UPDATE bill_payments
		SET gateway_payment_id = $1, gateway_signature = $2, status = $3, paid_at = $4, updated_at = NOW()
		WHERE gateway_order_id = $5 AND bill_id = $6 AND status = $7
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, promote,
		params.GatewayPaymentID, params.GatewaySignature, domain.PaymentStatusVerified, paidAt,
		params.GatewayOrderID, bill.ID, domain.PaymentStatusInitiated,
	))
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	insert := `
		INSERT INTO bill_payments (id, bill_id, tenant_id, amount, method, gateway_order_id,
			gateway_payment_id, gateway_signature, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway_order_id, gateway_payment_id) DO NOTHING
		RETURNING ` + paymentColumns
	payment, err = scanPayment(tx.QueryRow(ctx, insert,
		uuid.New(), bill.ID, bill.TenantID, params.Amount, params.Method, params.GatewayOrderID,
		params.GatewayPaymentID, params.GatewaySignature, domain.PaymentStatusVerified, paidAt,
	))
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// CreateNotification inserts a notification and, for personal ones, its
// per-recipient read rows in the same transaction.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO notifications (id, type, title, message, category, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, query, n.ID, n.Type, n.Title, n.Message, n.Category, n.Priority).Scan(&n.CreatedAt); err != nil {
		return err
	}

	for i := range n.Recipients {
		n.Recipients[i].NotificationID = n.ID
		insert := `INSERT INTO notification_recipients (notification_id, tenant_id, read) VALUES ($1, $2, FALSE)`
		if _, err := tx.Exec(ctx, insert, n.ID, n.Recipients[i].TenantID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// FindNotificationByID retrieves one notification with all recipient rows.
func (r *PostgresRepository) FindNotificationByID(ctx context.Context, notificationID uuid.UUID) (*domain.Notification, error) {
	var n domain.Notification
	query := `SELECT id, type, title, message, category, priority, created_at FROM notifications WHERE id = $1`
	err := r.db.QueryRow(ctx, query, notificationID).Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Category, &n.Priority, &n.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	recipients, err := r.loadRecipients(ctx, notificationID, nil)
	if err != nil {
		return nil, err
	}
	n.Recipients = recipients
	return &n, nil
}

// ListNotificationsForTenant returns common notifications plus personal ones
// addressed to the tenant, each personal one carrying only the tenant's own
// recipient row.
func (r *PostgresRepository) ListNotificationsForTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Notification, error) {
	query := `
		SELECT n.id, n.type, n.title, n.message, n.category, n.priority, n.created_at
		FROM notifications n
		LEFT JOIN notification_recipients nr ON nr.notification_id = n.id AND nr.tenant_id = $1
		WHERE n.type = $2 OR nr.tenant_id IS NOT NULL
		ORDER BY n.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, domain.NotificationTypeCommon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	for i := range notifications {
		if notifications[i].Type != domain.NotificationTypePersonal {
			continue
		}
		recipients, err := r.loadRecipients(ctx, notifications[i].ID, &tenantID)
		if err != nil {
			return nil, err
		}
		notifications[i].Recipients = recipients
	}
	return notifications, nil
}

// ListAllNotifications returns every notification with full recipient rows
// (admin/owner view).
func (r *PostgresRepository) ListAllNotifications(ctx context.Context) ([]domain.Notification, error) {
	query := `SELECT id, type, title, message, category, priority, created_at FROM notifications ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	for i := range notifications {
		recipients, err := r.loadRecipients(ctx, notifications[i].ID, nil)
		if err != nil {
			return nil, err
		}
		notifications[i].Recipients = recipients
	}
	return notifications, nil
}

func collectNotifications(rows pgx.Rows) ([]domain.Notification, error) {
	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Category, &n.Priority, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *PostgresRepository) loadRecipients(ctx context.Context, notificationID uuid.UUID, tenantID *uuid.UUID) ([]domain.NotificationRecipient, error) {
	query := `
		SELECT notification_id, tenant_id, read, read_at
		FROM notification_recipients
		WHERE notification_id = $1 AND ($2::uuid IS NULL OR tenant_id = $2)
	`
	rows, err := r.db.Query(ctx, query, notificationID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.NotificationRecipient
	for rows.Next() {
		var rec domain.NotificationRecipient
		if err := rows.Scan(&rec.NotificationID, &rec.TenantID, &rec.Read, &rec.ReadAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// MarkNotificationRead flips the read flag on the matching recipient row only.
// Returns false without error when there was nothing to flip (common
// notification, non-recipient, or already read).
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, notificationID, tenantID uuid.UUID, readAt time.Time) (bool, error) {
	query := `
		UPDATE notification_recipients
		SET read = TRUE, read_at = $1
		WHERE notification_id = $2 AND tenant_id = $3 AND read = FALSE
	`
	result, err := r.db.Exec(ctx, query, readAt, notificationID, tenantID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, notificationID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotificationNotFound
	}
	return false, nil
}

// DeleteNotification hard-deletes a notification; recipient rows go with it
// via ON DELETE CASCADE.
func (r *PostgresRepository) DeleteNotification(ctx context.Context, notificationID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, notificationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
