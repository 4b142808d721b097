/**
 * @description
 * This file contains the core business logic for the billing-service. The
 * `Service` struct orchestrates charge submissions against the payment
 * gateway, coordinating the invoice lifecycle, the payer normalizer, the
 * store repository, and the event producer.
 *
 * Key features:
 * - Implements the synchronous charge submission: open/reuse invoice,
 *   normalize payer, submit to the gateway with an idempotency key, and fold
 *   the gateway's immediate response back into the invoice.
 * - Synthesizes the client's next action (pix QR / boleto voucher) for
 *   pending charges from whichever response fields the gateway populated.
 * - Implements the hosted-checkout preference flow.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For deterministic idempotency key derivation.
 * - internal/domain, internal/store, internal/payer, internal/reference:
 *   Domain models, data access, payer normalization, correlation references.
 * - pkg/mpclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clubebonfim/billing-service/internal/domain"
	"github.com/clubebonfim/billing-service/internal/payer"
	"github.com/clubebonfim/billing-service/internal/reference"
	"github.com/clubebonfim/billing-service/internal/store"
	"github.com/clubebonfim/billing-service/pkg/mpclient"
	"github.com/clubebonfim/billing-service/pkg/rabbitmq"
)

// Gateway is the payment gateway surface the service depends on. Implemented
// by *mpclient.Client; narrowed to an interface so tests can stub it.
type Gateway interface {
	CreatePayment(ctx context.Context, request mpclient.PaymentRequest, idempotencyKey string) (*mpclient.Payment, error)
	GetPayment(ctx context.Context, id string) (*mpclient.Payment, error)
	CreatePreference(ctx context.Context, request mpclient.PreferenceRequest) (*mpclient.Preference, error)
}

// CheckoutConfig carries the URLs a hosted-checkout preference points back to.
type CheckoutConfig struct {
	NotificationURL string
	SuccessURL      string
	PendingURL      string
	FailureURL      string
}

// GatewaySubmissionError is returned when the gateway rejects a charge
// submission. Hint is populated only for the recognized credential/environment
// mismatch failure class.
type GatewaySubmissionError struct {
	Description string `json:"description"`
	Code        string `json:"code"`
	Hint        string `json:"hint,omitempty"`
}

func (e *GatewaySubmissionError) Error() string {
	return fmt.Sprintf("gateway rejected submission: %s (%s)", e.Description, e.Code)
}

// credentialMismatchPattern recognizes the gateway errors caused by using a
// token from the wrong environment (sandbox token against production or vice
// versa). These are operator mistakes, so the submission error carries a hint.
var credentialMismatchPattern = regexp.MustCompile(`(?i)invalid[ _]access[ _]token|unauthorized use of (live|test) credentials|credentials`)

const credentialMismatchHint = "verify that the configured access token matches the configured environment (sandbox vs production)"

// idempotencyNamespace scopes derived idempotency keys to charge submissions.
var idempotencyNamespace = uuid.MustParse("c2ab1e5e-0b8b-49a1-9c5f-3d41a9ad2f07")

// Service provides the core business logic for membership billing.
type Service struct {
	repo       store.Repository
	gateway    Gateway
	producer   rabbitmq.Publisher
	normalizer *payer.Normalizer
	dedupe     *NotificationDedupe
	sandbox    bool
	checkout   CheckoutConfig
}

// NewService creates a new billing service instance. The sandbox flag is the
// single injected environment selector; business logic never reads the
// process environment.
func NewService(
	repo store.Repository,
	gateway Gateway,
	producer rabbitmq.Publisher,
	normalizer *payer.Normalizer,
	dedupe *NotificationDedupe,
	sandbox bool,
	checkout CheckoutConfig,
) *Service {
	return &Service{
		repo:       repo,
		gateway:    gateway,
		producer:   producer,
		normalizer: normalizer,
		dedupe:     dedupe,
		sandbox:    sandbox,
		checkout:   checkout,
	}
}

// SubmitCharge runs the synchronous charge path: open or reuse the cycle
// invoice, normalize the payer, submit the charge, and apply the gateway's
// immediate response. The asynchronous webhook path later re-applies the
// authoritative terminal state through the same outcome machinery.
func (s *Service) SubmitCharge(ctx context.Context, accountID string, req domain.ChargeRequest, idempotencyKey string) (*domain.ChargeResult, error) {
	invoice, err := s.OpenInvoice(ctx, accountID, req.PlanType, req.InvoiceID, time.Now())
	if err != nil {
		return nil, err
	}

	normalized, err := s.normalizer.Normalize(accountID, req.FormData)
	if err != nil {
		return nil, err
	}

	request := s.buildPaymentRequest(accountID, invoice, req.FormData, normalized)
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = deriveIdempotencyKey(accountID, invoice.ID)
	}

	// Once the request is sent there is no cancellation, for the submission
	// or for the writes that follow it: even if the caller goes away, the
	// outcome must be applied so the store never misses a charge the gateway
	// accepted.
	detached := context.WithoutCancel(ctx)
	payment, err := s.gateway.CreatePayment(detached, request, idempotencyKey)
	if err != nil {
		return nil, s.recordSubmissionFailure(detached, accountID, invoice.ID, err)
	}

	outcome := outcomeFromPayment(payment)
	if _, _, err := s.ApplyGatewayOutcome(detached, accountID, invoice.ID, outcome); err != nil {
		// The gateway accepted the charge; surface the store failure but keep
		// the gateway result in the log for manual reconciliation.
		log.Printf("level=error component=billing_service msg=\"charge created but outcome apply failed\" invoice_id=%s payment_id=%s err=%v",
			invoice.ID, payment.ID.String(), err)
		return nil, fmt.Errorf("charge %s created but invoice update failed: %w", payment.ID.String(), err)
	}

	result := &domain.ChargeResult{
		PaymentID:    payment.ID.String(),
		Status:       payment.Status,
		StatusDetail: payment.StatusDetail,
		InvoiceID:    invoice.ID,
	}
	if strings.EqualFold(payment.Status, "pending") {
		result.NextAction = nextActionFor(normalized.Class, payment)
	}
	return result, nil
}

// buildPaymentRequest assembles the gateway charge payload for the invoice.
func (s *Service) buildPaymentRequest(accountID string, invoice *domain.Invoice, form domain.PaymentForm, normalized payer.Normalized) mpclient.PaymentRequest {
	plan, _ := domain.PlanByType(invoice.PlanType)

	request := mpclient.PaymentRequest{
		TransactionAmount: float64(invoice.AmountCents) / 100,
		Description:       plan.Description,
		PaymentMethodID:   form.PaymentMethodID,
		BinaryMode:        true,
		ExternalReference: reference.Encode(accountID, invoice.ID),
		Metadata: map[string]interface{}{
			"uid":        accountID,
			"invoice_id": invoice.ID,
			"plan_type":  string(invoice.PlanType),
		},
		Payer: &mpclient.Payer{
			Email:     normalized.Payer.Email,
			FirstName: normalized.Payer.FirstName,
			LastName:  normalized.Payer.LastName,
		},
	}
	if normalized.Payer.IDNumber != "" {
		request.Payer.Identification = &mpclient.Identification{
			Type:   normalized.Payer.IDType,
			Number: normalized.Payer.IDNumber,
		}
	}
	if normalized.Class == payer.MethodCard {
		request.Token = form.Token
		request.IssuerID = form.IssuerID
		request.Installments = form.Installments
		if request.Installments <= 0 {
			request.Installments = 1
		}
	}
	return request
}

// recordSubmissionFailure marks the invoice as errored with the gateway's
// description and maps the failure into a GatewaySubmissionError.
func (s *Service) recordSubmissionFailure(ctx context.Context, accountID, invoiceID string, cause error) error {
	submissionErr := &GatewaySubmissionError{Description: cause.Error()}

	var gatewayErr *mpclient.ErrorResponse
	if errors.As(cause, &gatewayErr) {
		submissionErr.Description = gatewayErr.FirstCause()
		submissionErr.Code = gatewayErr.ErrorCode
	}
	if credentialMismatchPattern.MatchString(submissionErr.Description) || credentialMismatchPattern.MatchString(submissionErr.Code) {
		submissionErr.Hint = credentialMismatchHint
	}

	outcome := GatewayOutcome{Kind: OutcomeTransportError, Detail: submissionErr.Description}
	if _, _, err := s.ApplyGatewayOutcome(ctx, accountID, invoiceID, outcome); err != nil {
		log.Printf("level=warn component=billing_service msg=\"failed to record submission error on invoice\" invoice_id=%s err=%v", invoiceID, err)
	}
	return submissionErr
}

// outcomeFromPayment maps a gateway charge response to a lifecycle outcome.
func outcomeFromPayment(payment *mpclient.Payment) GatewayOutcome {
	outcome := GatewayOutcome{
		Detail:   payment.StatusDetail,
		ChargeID: payment.ID.String(),
	}
	switch strings.ToLower(payment.Status) {
	case "approved":
		outcome.Kind = OutcomeApproved
		outcome.ApprovedAt = parseGatewayTime(payment.DateApproved)
	case "rejected", "cancelled":
		outcome.Kind = OutcomeRejected
	default:
		// pending, in_process, authorized and anything the gateway adds later
		// stay transient until reconciliation settles them.
		outcome.Kind = OutcomePending
	}
	return outcome
}

func parseGatewayTime(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

// deriveIdempotencyKey derives a stable key from the account and invoice so a
// client retry of the same charge attempt reuses the same key.
func deriveIdempotencyKey(accountID, invoiceID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(accountID+"/"+invoiceID)).String()
}

// next-action extractors. The gateway has shipped the completion payload in
// different response fields across API versions; each list is tried in order
// and the first non-empty value wins. Order is part of the contract and is
// pinned by tests.

var pixLinkExtractors = []func(*mpclient.Payment) string{
	func(p *mpclient.Payment) string {
		if p.PointOfInteraction != nil && p.PointOfInteraction.TransactionData != nil {
			return p.PointOfInteraction.TransactionData.TicketURL
		}
		return ""
	},
	func(p *mpclient.Payment) string {
		if p.PointOfInteraction != nil && p.PointOfInteraction.TransactionData != nil {
			return p.PointOfInteraction.TransactionData.ExternalResourceURL
		}
		return ""
	},
}

var voucherLinkExtractors = []func(*mpclient.Payment) string{
	func(p *mpclient.Payment) string {
		if p.TransactionDetails != nil {
			return p.TransactionDetails.ExternalResourceURL
		}
		return ""
	},
	func(p *mpclient.Payment) string {
		if p.PointOfInteraction != nil && p.PointOfInteraction.TransactionData != nil {
			return p.PointOfInteraction.TransactionData.TicketURL
		}
		return ""
	},
}

func firstNonEmpty(payment *mpclient.Payment, extractors []func(*mpclient.Payment) string) string {
	for _, extract := range extractors {
		if v := extract(payment); v != "" {
			return v
		}
	}
	return ""
}

// nextActionFor synthesizes the client's completion payload for a pending
// charge: the pix QR code data or the boleto voucher link/barcode.
func nextActionFor(class payer.MethodClass, payment *mpclient.Payment) *domain.NextAction {
	switch class {
	case payer.MethodTransfer:
		action := &domain.NextAction{Type: "pix", Link: firstNonEmpty(payment, pixLinkExtractors)}
		if payment.PointOfInteraction != nil && payment.PointOfInteraction.TransactionData != nil {
			action.QR = payment.PointOfInteraction.TransactionData.QRCode
			action.QRBase64 = payment.PointOfInteraction.TransactionData.QRCodeBase64
		}
		return action
	case payer.MethodVoucher:
		action := &domain.NextAction{Type: "boleto", Link: firstNonEmpty(payment, voucherLinkExtractors)}
		if payment.Barcode != nil {
			action.Barcode = payment.Barcode.Content
		}
		return action
	default:
		return nil
	}
}

// CreateCheckout opens a cycle invoice and creates a hosted-checkout
// preference for it, persisting the checkout link on the invoice.
func (s *Service) CreateCheckout(ctx context.Context, accountID string, planType domain.PlanType) (*domain.CheckoutResult, error) {
	invoice, err := s.OpenInvoice(ctx, accountID, planType, "", time.Now())
	if err != nil {
		return nil, err
	}
	plan, _ := domain.PlanByType(planType)

	request := mpclient.PreferenceRequest{
		Items: []mpclient.PreferenceItem{{
			ID:         invoice.ID,
			Title:      plan.Description,
			Quantity:   1,
			CurrencyID: "BRL",
			UnitPrice:  float64(invoice.AmountCents) / 100,
		}},
		Metadata: map[string]interface{}{
			"uid":        accountID,
			"invoice_id": invoice.ID,
			"plan_type":  string(planType),
		},
		ExternalReference: reference.Encode(accountID, invoice.ID),
		NotificationURL:   s.checkout.NotificationURL,
		BackURLs: &mpclient.BackURLs{
			Success: s.checkout.SuccessURL,
			Pending: s.checkout.PendingURL,
			Failure: s.checkout.FailureURL,
		},
		AutoReturn: "approved",
	}

	// Same no-cancellation rule as SubmitCharge: the preference exists on the
	// gateway once the call returns, so the follow-up writes must not be lost
	// to a caller disconnect.
	detached := context.WithoutCancel(ctx)
	preference, err := s.gateway.CreatePreference(detached, request)
	if err != nil {
		return nil, s.recordSubmissionFailure(detached, accountID, invoice.ID, err)
	}

	initPoint := selectInitPoint(preference, s.sandbox)
	patch := store.InvoicePatch{PreferenceID: &preference.ID}
	if initPoint != "" {
		patch.PaymentURL = &initPoint
	}
	if err := s.repo.MergeInvoice(detached, accountID, invoice.ID, patch); err != nil {
		log.Printf("level=warn component=billing_service msg=\"failed to persist checkout link on invoice\" invoice_id=%s err=%v", invoice.ID, err)
	}

	return &domain.CheckoutResult{
		InitPoint:    initPoint,
		PreferenceID: preference.ID,
		InvoiceID:    invoice.ID,
	}, nil
}

// selectInitPoint picks the checkout link matching the configured environment.
// The gateway does not always populate both fields, so the URL host rewrite is
// kept as a fallback for either direction.
func selectInitPoint(preference *mpclient.Preference, sandbox bool) string {
	toSandbox := func(u string) string {
		return strings.Replace(u, "://www.mercadopago.com", "://sandbox.mercadopago.com", 1)
	}
	toProduction := func(u string) string {
		return strings.Replace(u, "://sandbox.mercadopago.com", "://www.mercadopago.com", 1)
	}

	if sandbox {
		if preference.SandboxInitPoint != "" {
			return preference.SandboxInitPoint
		}
		return toSandbox(preference.InitPoint)
	}
	if preference.InitPoint != "" {
		return preference.InitPoint
	}
	return toProduction(preference.SandboxInitPoint)
}
