/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. All updates use COALESCE-style partial writes so that each patch
 * merges into the existing row atomically; summary and account writes are
 * upserts so a reconciliation can land before any prior record exists.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubebonfim/billing-service/internal/domain"
)

// PostgresRepository implements Repository backed by a pgx connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository with a database connection pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UpsertInvoice(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, account_id, plan_type, plan_name, amount_cents,
			period_start, period_end, due_date, status, recorded_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			plan_type = EXCLUDED.plan_type,
			plan_name = EXCLUDED.plan_name,
			amount_cents = EXCLUDED.amount_cents,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			due_date = EXCLUDED.due_date,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		invoice.ID,
		invoice.AccountID,
		invoice.PlanType,
		invoice.PlanName,
		invoice.AmountCents,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.DueDate,
		invoice.Status,
	)
	return err
}

func (r *PostgresRepository) FindInvoice(ctx context.Context, accountID, invoiceID string) (*domain.Invoice, error) {
	query := `
		SELECT id, account_id, plan_type, plan_name, amount_cents,
		       period_start, period_end, due_date, status,
		       gateway_charge_id, gateway_error, paid_at, payment_url,
		       preference_id, recorded_at, updated_at
		FROM invoices
		WHERE id = $1 AND account_id = $2
	`
	var inv domain.Invoice
	err := r.db.QueryRow(ctx, query, invoiceID, accountID).Scan(
		&inv.ID,
		&inv.AccountID,
		&inv.PlanType,
		&inv.PlanName,
		&inv.AmountCents,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.DueDate,
		&inv.Status,
		&inv.GatewayChargeID,
		&inv.GatewayError,
		&inv.PaidAt,
		&inv.PaymentURL,
		&inv.PreferenceID,
		&inv.RecordedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *PostgresRepository) MergeInvoice(ctx context.Context, accountID, invoiceID string, patch InvoicePatch) error {
	query := `
		UPDATE invoices
		SET
			status = COALESCE($1, status),
			gateway_charge_id = COALESCE($2, gateway_charge_id),
			gateway_error = COALESCE($3, gateway_error),
			paid_at = COALESCE($4, paid_at),
			payment_url = COALESCE($5, payment_url),
			preference_id = COALESCE($6, preference_id),
			updated_at = NOW()
		WHERE id = $7 AND account_id = $8
	`
	tag, err := r.db.Exec(ctx, query,
		patch.Status,
		patch.GatewayChargeID,
		patch.GatewayError,
		patch.PaidAt,
		patch.PaymentURL,
		patch.PreferenceID,
		invoiceID,
		accountID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *PostgresRepository) MergeBillingSummary(ctx context.Context, accountID string, patch SummaryPatch) error {
	query := `
		INSERT INTO billing_summaries (
			account_id, plan_type, last_payment_at, last_amount_cents,
			next_due_at, active_until, outstanding_balance, exempt, updated_at
		)
		VALUES ($1, $2, $3, COALESCE($4, 0), $5, $6, COALESCE($7, 0), COALESCE($8, FALSE), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			plan_type = COALESCE($2, billing_summaries.plan_type),
			last_payment_at = COALESCE($3, billing_summaries.last_payment_at),
			last_amount_cents = COALESCE($4, billing_summaries.last_amount_cents),
			next_due_at = COALESCE($5, billing_summaries.next_due_at),
			active_until = COALESCE($6, billing_summaries.active_until),
			outstanding_balance = COALESCE($7, billing_summaries.outstanding_balance),
			exempt = COALESCE($8, billing_summaries.exempt),
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		accountID,
		patch.PlanType,
		patch.LastPaymentAt,
		patch.LastAmountCents,
		patch.NextDueAt,
		patch.ActiveUntil,
		patch.OutstandingBalance,
		patch.Exempt,
	)
	return err
}

func (r *PostgresRepository) MergeAccountStanding(ctx context.Context, accountID string, patch AccountPatch) error {
	query := `
		INSERT INTO accounts (id, active, display_status, updated_at)
		VALUES ($1, COALESCE($2, FALSE), COALESCE($3, ''), NOW())
		ON CONFLICT (id) DO UPDATE SET
			active = COALESCE($2, accounts.active),
			display_status = COALESCE($3, accounts.display_status),
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, accountID, patch.Active, patch.DisplayStatus)
	return err
}
