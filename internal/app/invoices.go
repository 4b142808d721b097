/**
 * @description
 * This file contains the invoice lifecycle logic: opening a billing-cycle
 * invoice, applying gateway outcomes as idempotent status transitions, and
 * rewriting the per-account billing summary projection. It is the single
 * authority for invoice status; both the synchronous submission path and the
 * webhook reconciler converge through ApplyGatewayOutcome.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clubebonfim/billing-service/internal/domain"
	"github.com/clubebonfim/billing-service/internal/store"
)

// ErrUnknownPlan is returned when a charge names a plan outside the catalog.
var ErrUnknownPlan = errors.New("unknown membership plan")

// accountActiveLabel is the display status written to the account document on
// a paid reconciliation. Downstream status checks treat any label containing
// "pend" as delinquent, so the label must not contain it.
const accountActiveLabel = "Em dia"

// OutcomeKind classifies what the gateway reported for a charge.
type OutcomeKind string

const (
	OutcomeApproved       OutcomeKind = "approved"
	OutcomePending        OutcomeKind = "pending"
	OutcomeRejected       OutcomeKind = "rejected" // rejected or cancelled at the gateway
	OutcomeTransportError OutcomeKind = "transport_error"
)

// GatewayOutcome is one gateway-reported result to fold into an invoice.
type GatewayOutcome struct {
	Kind       OutcomeKind
	Detail     string // gateway status detail or error description
	ChargeID   string // gateway payment id, when known
	ApprovedAt *time.Time
}

func statusForOutcome(kind OutcomeKind) domain.InvoiceStatus {
	switch kind {
	case OutcomeApproved:
		return domain.InvoicePaid
	case OutcomePending:
		return domain.InvoicePending
	case OutcomeRejected:
		return domain.InvoiceExpired
	default:
		return domain.InvoiceError
	}
}

// OpenInvoice creates (or, with an explicit id, re-opens) the invoice for a
// new billing cycle starting now. The period start is truncated to the day and
// the period end is calendar-safe: a cycle anchored on the 31st ends on the
// last day of shorter months.
func (s *Service) OpenInvoice(ctx context.Context, accountID string, planType domain.PlanType, invoiceID string, now time.Time) (*domain.Invoice, error) {
	plan, ok := domain.PlanByType(planType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planType)
	}

	if invoiceID == "" {
		invoiceID = uuid.NewString()
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := addMonthsSafe(start, plan.Months)

	invoice := &domain.Invoice{
		ID:          invoiceID,
		AccountID:   accountID,
		PlanType:    plan.Type,
		PlanName:    plan.Label,
		AmountCents: plan.PriceCents,
		PeriodStart: start,
		PeriodEnd:   end,
		DueDate:     end,
		Status:      domain.InvoiceOpen,
		RecordedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.repo.UpsertInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to persist invoice: %w", err)
	}
	return invoice, nil
}

// ApplyGatewayOutcome folds a gateway-reported charge result into the invoice.
// It is safe to call repeatedly with the same outcome, and a stale
// non-terminal outcome never regresses an invoice that already reached a
// terminal status. Returns the invoice after the merge and whether the status
// actually changed.
func (s *Service) ApplyGatewayOutcome(ctx context.Context, accountID, invoiceID string, outcome GatewayOutcome) (*domain.Invoice, bool, error) {
	invoice, err := s.repo.FindInvoice(ctx, accountID, invoiceID)
	if err != nil {
		return nil, false, err
	}

	target := statusForOutcome(outcome.Kind)
	if invoice.Status.Terminal() && invoice.Status != target {
		log.Printf("level=info component=invoice_lifecycle msg=\"stale outcome ignored for terminal invoice\" invoice_id=%s status=%s outcome=%s",
			invoice.ID, invoice.Status, outcome.Kind)
		return invoice, false, nil
	}
	changed := invoice.Status != target

	patch := store.InvoicePatch{Status: &target}
	if outcome.ChargeID != "" {
		patch.GatewayChargeID = &outcome.ChargeID
	}
	switch outcome.Kind {
	case OutcomeApproved:
		paidAt := time.Now()
		if outcome.ApprovedAt != nil {
			paidAt = *outcome.ApprovedAt
		}
		patch.PaidAt = &paidAt
	case OutcomeRejected, OutcomeTransportError:
		if outcome.Detail != "" {
			detail := outcome.Detail
			patch.GatewayError = &detail
		}
	}

	if err := s.repo.MergeInvoice(ctx, accountID, invoiceID, patch); err != nil {
		return nil, false, fmt.Errorf("failed to merge invoice %s: %w", invoiceID, err)
	}

	invoice.Status = target
	if patch.PaidAt != nil {
		invoice.PaidAt = patch.PaidAt
	}
	if patch.GatewayChargeID != nil {
		invoice.GatewayChargeID = patch.GatewayChargeID
	}
	if patch.GatewayError != nil {
		invoice.GatewayError = patch.GatewayError
	}

	// The summary refresh runs on every approved outcome, including re-applies,
	// so a reconciliation that previously failed between the invoice write and
	// the summary write converges on the next delivery.
	if target == domain.InvoicePaid {
		if err := s.refreshSummary(ctx, invoice); err != nil {
			return invoice, changed, fmt.Errorf("invoice %s paid but summary refresh failed: %w", invoiceID, err)
		}
	}

	return invoice, changed, nil
}

// refreshSummary rewrites the account's billing summary from a paid invoice
// and flips the account standing to active. Re-applying the same invoice
// yields the same summary.
func (s *Service) refreshSummary(ctx context.Context, invoice *domain.Invoice) error {
	planType := invoice.PlanType
	amount := invoice.AmountCents
	nextDue := invoice.PeriodEnd
	activeUntil := invoice.PeriodEnd
	balance := int64(0)
	exempt := false

	patch := store.SummaryPatch{
		PlanType:           &planType,
		LastPaymentAt:      invoice.PaidAt,
		LastAmountCents:    &amount,
		NextDueAt:          &nextDue,
		ActiveUntil:        &activeUntil,
		OutstandingBalance: &balance,
		Exempt:             &exempt,
	}
	if err := s.repo.MergeBillingSummary(ctx, invoice.AccountID, patch); err != nil {
		return fmt.Errorf("failed to merge billing summary: %w", err)
	}

	active := true
	label := accountActiveLabel
	if err := s.repo.MergeAccountStanding(ctx, invoice.AccountID, store.AccountPatch{Active: &active, DisplayStatus: &label}); err != nil {
		log.Printf("level=warn component=invoice_lifecycle msg=\"account standing merge failed; summary already updated\" account_id=%s err=%v",
			invoice.AccountID, err)
	}
	return nil
}

// addMonthsSafe adds calendar months, clamping to the last day of the target
// month when the anchor day does not exist there (Jan 31 + 1 month is the last
// day of February).
func addMonthsSafe(t time.Time, months int) time.Time {
	day := t.Day()
	x := t.AddDate(0, months, 0)
	if x.Day() < day {
		// AddDate normalized the overflow into the following month; step back
		// to that month's last day.
		x = x.AddDate(0, 0, -x.Day())
	}
	return x
}
