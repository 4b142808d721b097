/**
 * @description
 * This file contains the webhook reconciler: it turns the gateway's
 * unreliable, out-of-order, partially-specified notifications into consistent
 * invoice state. The notification payload is only a trigger; the reconciler
 * always re-fetches the charge from the gateway by id before mutating
 * anything, and every mutation goes through the idempotent invoice lifecycle
 * so duplicate deliveries and races with the synchronous submission path
 * converge to the same final state.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clubebonfim/billing-service/internal/domain"
	"github.com/clubebonfim/billing-service/internal/reference"
	"github.com/clubebonfim/billing-service/pkg/rabbitmq"
)

// ErrGatewayFetch wraps a failure of the confirmatory charge fetch. It is the
// only reconciler failure reported as retriable: the gateway redelivers the
// notification, and no local state has been touched.
var ErrGatewayFetch = errors.New("gateway payment fetch failed")

// ReconcileOutcome says what a notification delivery did.
type ReconcileOutcome string

const (
	ReconcileIgnored    ReconcileOutcome = "ignored"     // not a payment event, or no payment id
	ReconcileUnresolved ReconcileOutcome = "unresolved"  // reference could not be mapped to an invoice
	ReconcileDuplicate  ReconcileOutcome = "duplicate"   // same payment+status already processed
	ReconcileNoChange   ReconcileOutcome = "no_change"   // charge still transient, nothing to apply
	ReconcilePaid       ReconcileOutcome = "paid"
	ReconcileExpired    ReconcileOutcome = "expired"
)

// ReconciliationResult reports how a notification was handled.
type ReconciliationResult struct {
	Outcome   ReconcileOutcome `json:"outcome"`
	PaymentID string           `json:"payment_id,omitempty"`
	InvoiceID string           `json:"invoice_id,omitempty"`
}

// notificationEnvelope models the payload shapes the gateway delivers. Older
// deliveries carry the payment id at the top level or inside a resource URL;
// newer ones nest it under data.
type notificationEnvelope struct {
	Type     string      `json:"type"`
	Topic    string      `json:"topic"`
	Action   string      `json:"action"`
	Resource string      `json:"resource"`
	ID       json.Number `json:"id"`
	Data     struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func (n notificationEnvelope) isPaymentEvent() bool {
	for _, field := range []string{n.Type, n.Topic, n.Action} {
		if strings.Contains(strings.ToLower(field), "payment") {
			return true
		}
	}
	return false
}

// paymentID extracts the payment id, trying the nested shape first, then the
// flat id, then the trailing segment of a resource URL.
func (n notificationEnvelope) paymentID() string {
	if id := n.Data.ID.String(); id != "" {
		return id
	}
	if id := n.ID.String(); id != "" {
		return id
	}
	if n.Resource != "" {
		parts := strings.Split(strings.TrimSuffix(n.Resource, "/"), "/")
		return parts[len(parts)-1]
	}
	return ""
}

// chargeClass is the reconciler's classification of a fetched charge.
type chargeClass int

const (
	chargeOther chargeClass = iota
	chargeApproved
	chargeExpired
)

// classifyCharge folds gateway status and status detail. Delayed-settlement
// methods (vouchers) report cleared funds through the detail field while the
// status may lag, so "accredited" counts as approved; expiry and rejection
// likewise surface through the detail.
func classifyCharge(status, detail string) chargeClass {
	status = strings.ToLower(strings.TrimSpace(status))
	detail = strings.ToLower(strings.TrimSpace(detail))

	if status == "approved" || detail == "accredited" {
		return chargeApproved
	}
	if status == "cancelled" || strings.Contains(detail, "expired") || strings.Contains(detail, "rejected") {
		return chargeExpired
	}
	return chargeOther
}

// HandleNotification processes one webhook delivery. Every branch except the
// confirmatory fetch failure acknowledges the notification; an unresolvable
// reference is logged and dropped because redelivery cannot fix it.
func (s *Service) HandleNotification(ctx context.Context, payload []byte) (*ReconciliationResult, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Printf("level=warn component=reconciler msg=\"unparsable notification payload; acknowledging\" err=%v", err)
		return &ReconciliationResult{Outcome: ReconcileIgnored}, nil
	}

	if !envelope.isPaymentEvent() {
		return &ReconciliationResult{Outcome: ReconcileIgnored}, nil
	}
	paymentID := envelope.paymentID()
	if paymentID == "" {
		log.Printf("level=warn component=reconciler msg=\"payment event without payment id; acknowledging\"")
		return &ReconciliationResult{Outcome: ReconcileIgnored}, nil
	}

	// The notification payload is never trusted for financial state; fetch
	// the authoritative charge from the gateway.
	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: payment %s: %v", ErrGatewayFetch, paymentID, err)
	}

	ref, err := reference.Decode(payment.ExternalReference, payment.Metadata)
	if err != nil {
		log.Printf("level=warn component=reconciler msg=\"unresolvable charge reference; dropping notification\" payment_id=%s external_reference=%q err=%v",
			paymentID, payment.ExternalReference, err)
		return &ReconciliationResult{Outcome: ReconcileUnresolved, PaymentID: paymentID}, nil
	}

	result := &ReconciliationResult{PaymentID: paymentID, InvoiceID: ref.InvoiceID}

	class := classifyCharge(payment.Status, payment.StatusDetail)
	if class == chargeOther {
		result.Outcome = ReconcileNoChange
		return result, nil
	}

	// Advisory short-circuit for redeliveries. Reconciliation is idempotent
	// without it; the guard just skips the store round-trip. A pair is only
	// recorded once the apply below succeeds, so a delivery that failed on a
	// transient store error stays unseen and the redelivery converges.
	if s.dedupe.Seen(ctx, paymentID, payment.Status, payment.StatusDetail) {
		result.Outcome = ReconcileDuplicate
		return result, nil
	}

	switch class {
	case chargeApproved:
		outcome := GatewayOutcome{
			Kind:       OutcomeApproved,
			Detail:     payment.StatusDetail,
			ChargeID:   paymentID,
			ApprovedAt: parseGatewayTime(payment.DateApproved),
		}
		invoice, changed, err := s.ApplyGatewayOutcome(ctx, ref.AccountID, ref.InvoiceID, outcome)
		if err != nil {
			return nil, fmt.Errorf("failed to apply approved charge %s: %w", paymentID, err)
		}
		result.Outcome = ReconcilePaid
		if changed {
			s.publishReconciliation(ctx, invoice, "invoice.paid")
		}

	case chargeExpired:
		// An expired or cancelled charge closes the invoice without touching
		// the billing summary: nothing was credited, so no balance changes.
		outcome := GatewayOutcome{
			Kind:     OutcomeRejected,
			Detail:   payment.StatusDetail,
			ChargeID: paymentID,
		}
		invoice, changed, err := s.ApplyGatewayOutcome(ctx, ref.AccountID, ref.InvoiceID, outcome)
		if err != nil {
			return nil, fmt.Errorf("failed to apply expired charge %s: %w", paymentID, err)
		}
		result.Outcome = ReconcileExpired
		if changed {
			s.publishReconciliation(ctx, invoice, "invoice.expired")
		}
	}

	s.dedupe.Mark(ctx, paymentID, payment.Status, payment.StatusDetail)
	return result, nil
}

// publishReconciliation emits a billing event for downstream consumers. A
// broker failure never fails the reconciliation; the invoice state is already
// durable.
func (s *Service) publishReconciliation(ctx context.Context, invoice *domain.Invoice, routingKey string) {
	if s.producer == nil {
		return
	}
	event := rabbitmq.InvoiceEvent{
		InvoiceID:   invoice.ID,
		AccountID:   invoice.AccountID,
		PlanType:    string(invoice.PlanType),
		Status:      string(invoice.Status),
		AmountCents: invoice.AmountCents,
		PaidAt:      invoice.PaidAt,
		Timestamp:   time.Now(),
	}
	if err := s.producer.PublishInvoiceEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=reconciler msg=\"invoice event publish failed\" invoice_id=%s routing_key=%s err=%v",
			invoice.ID, routingKey, err)
	}
}
