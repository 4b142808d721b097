/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access the billing-service core needs from its transactional
 * document store. The interface decouples the business logic from the storage
 * implementation and keeps the write surface merge-shaped: every update is a
 * partial patch applied atomically to one record, never a full overwrite.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/clubebonfim/billing-service/internal/domain"
)

var (
	// ErrInvoiceNotFound is returned when an invoice lookup matches no record.
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// Repository defines the set of methods for interacting with the store.
// All writes are merges: a patch applies only its non-nil fields, so a webhook
// racing the synchronous submission path cannot clobber concurrent fields.
type Repository interface {
	// UpsertInvoice inserts the invoice or, if its id already exists, refreshes
	// the open-cycle fields. The upsert preserves idempotent re-entry for a
	// client retrying the same charge attempt with an explicit invoice id.
	UpsertInvoice(ctx context.Context, invoice *domain.Invoice) error

	// FindInvoice loads one invoice scoped to its owning account.
	FindInvoice(ctx context.Context, accountID, invoiceID string) (*domain.Invoice, error)

	// MergeInvoice applies a partial update to one invoice atomically.
	MergeInvoice(ctx context.Context, accountID, invoiceID string, patch InvoicePatch) error

	// MergeBillingSummary rewrites the account's billing summary projection
	// fields present in the patch, creating the summary record if absent.
	MergeBillingSummary(ctx context.Context, accountID string, patch SummaryPatch) error

	// MergeAccountStanding updates the account's standing flags (active,
	// display status), creating the record if absent.
	MergeAccountStanding(ctx context.Context, accountID string, patch AccountPatch) error
}

// InvoicePatch is a partial invoice update. Nil fields are left untouched.
type InvoicePatch struct {
	Status          *domain.InvoiceStatus
	GatewayChargeID *string
	GatewayError    *string
	PaidAt          *time.Time
	PaymentURL      *string
	PreferenceID    *string
}

// SummaryPatch is a partial billing summary update. Nil fields are left untouched.
type SummaryPatch struct {
	PlanType           *domain.PlanType
	LastPaymentAt      *time.Time
	LastAmountCents    *int64
	NextDueAt          *time.Time
	ActiveUntil        *time.Time
	OutstandingBalance *int64
	Exempt             *bool
}

// AccountPatch is a partial account standing update. Nil fields are left untouched.
type AccountPatch struct {
	Active        *bool
	DisplayStatus *string
}
