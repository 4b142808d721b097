/**
 * @description
 * This file defines the core domain models for the billing-service: membership
 * invoices, the per-account billing summary projection, and the plan catalog.
 * These structs represent the entities used throughout the service's business
 * logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in centavos (the smallest currency unit),
 *   which avoids floating-point inaccuracies with financial data. The payment
 *   gateway expects whole-currency values, so amounts are converted at the
 *   gateway boundary only.
 * - Invoice updates are always partial merges, never full overwrites, so that
 *   a webhook racing the synchronous submission path cannot clobber fields
 *   written by the other.
 */

package domain

import "time"

// PlanType identifies a membership billing cycle.
type PlanType string

const (
	PlanMonthly    PlanType = "monthly"
	PlanQuarterly  PlanType = "quarterly"
	PlanSemiannual PlanType = "semiannual"
)

// Plan describes one entry of the membership plan catalog: how many months a
// cycle covers, its fixed price, and the label shown on gateway charges.
type Plan struct {
	Type        PlanType `json:"type"`
	Months      int      `json:"months"`
	PriceCents  int64    `json:"price"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

// planCatalog is the fixed set of membership plans. Prices are in centavos.
var planCatalog = map[PlanType]Plan{
	PlanMonthly:    {Type: PlanMonthly, Months: 1, PriceCents: 3000, Label: "Mensal", Description: "Associação Mensal"},
	PlanQuarterly:  {Type: PlanQuarterly, Months: 3, PriceCents: 8500, Label: "Trimestral", Description: "Associação Trimestral"},
	PlanSemiannual: {Type: PlanSemiannual, Months: 6, PriceCents: 17000, Label: "Semestral", Description: "Associação Semestral"},
}

// PlanByType looks up a plan in the catalog.
func PlanByType(t PlanType) (Plan, bool) {
	p, ok := planCatalog[t]
	return p, ok
}

// Plans returns the catalog ordered from shortest to longest commitment.
func Plans() []Plan {
	return []Plan{
		planCatalog[PlanMonthly],
		planCatalog[PlanQuarterly],
		planCatalog[PlanSemiannual],
	}
}

// InvoiceStatus is the lifecycle state of a membership invoice.
type InvoiceStatus string

const (
	InvoiceOpen    InvoiceStatus = "open"
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
	InvoiceError   InvoiceStatus = "error"
	InvoiceExpired InvoiceStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
// A paid or expired invoice is final; pending and error invoices may still
// move to paid or expired on later reconciliation.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoicePaid || s == InvoiceExpired
}

// Invoice is one billing-cycle charge record for an account. Owned exclusively
// by the invoice lifecycle logic; all writes go through merge-style patches.
type Invoice struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	PlanType        PlanType      `json:"plan_type"`
	PlanName        string        `json:"plan_name"`
	AmountCents     int64         `json:"amount"` // in centavos
	PeriodStart     time.Time     `json:"period_start"`
	PeriodEnd       time.Time     `json:"period_end"`
	DueDate         time.Time     `json:"due_date"`
	Status          InvoiceStatus `json:"status"`
	GatewayChargeID *string       `json:"gateway_charge_id,omitempty"`
	GatewayError    *string       `json:"gateway_error,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	PaymentURL      *string       `json:"payment_url,omitempty"`
	PreferenceID    *string       `json:"preference_id,omitempty"`
	RecordedAt      time.Time     `json:"recorded_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BillingSummary is the denormalized per-account projection of current payment
// standing. It is rewritten from the most recently reconciled invoice, so
// re-applying the same terminal invoice state yields the same summary.
type BillingSummary struct {
	AccountID          string     `json:"account_id"`
	PlanType           PlanType   `json:"plan_type"`
	LastPaymentAt      *time.Time `json:"last_payment_at,omitempty"`
	LastAmountCents    int64      `json:"last_amount"`
	NextDueAt          *time.Time `json:"next_due_at,omitempty"`
	ActiveUntil        *time.Time `json:"active_until,omitempty"`
	OutstandingBalance int64      `json:"outstanding_balance"`
	Exempt             bool       `json:"exempt"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PaymentForm carries the raw client-submitted payment fields. The checkout
// widget sends payer data in either of two shapes (nested payer object or flat
// fields), so both are modeled and the payer normalizer reconciles them.
type PaymentForm struct {
	Token                string     `json:"token,omitempty"`
	PaymentMethodID      string     `json:"payment_method_id,omitempty"`
	PaymentTypeID        string     `json:"payment_type_id,omitempty"`
	IssuerID             string     `json:"issuer_id,omitempty"`
	Installments         int        `json:"installments,omitempty"`
	Email                string     `json:"email,omitempty"`
	IdentificationType   string     `json:"identification_type,omitempty"`
	IdentificationNumber string     `json:"identification_number,omitempty"`
	Payer                *FormPayer `json:"payer,omitempty"`
}

// FormPayer is the nested payer shape sent by newer checkout widget versions.
type FormPayer struct {
	Email          string              `json:"email,omitempty"`
	FirstName      string              `json:"first_name,omitempty"`
	LastName       string              `json:"last_name,omitempty"`
	Identification *FormIdentification `json:"identification,omitempty"`
}

// FormIdentification is the payer's legal identification document.
type FormIdentification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

// PayerProfile is the normalized, gateway-compliant payer object produced by
// the payer normalizer.
type PayerProfile struct {
	Email     string
	FirstName string
	LastName  string
	IDType    string
	IDNumber  string
}

// ChargeRequest is the DTO for an incoming charge submission.
type ChargeRequest struct {
	PlanType  PlanType    `json:"plan_type"`
	InvoiceID string      `json:"invoice_id,omitempty"` // set on client retry to reuse the open invoice
	FormData  PaymentForm `json:"form_data"`
}

// NextAction tells the client what to do to complete a pending payment:
// show a pix QR code or open a boleto voucher.
type NextAction struct {
	Type     string `json:"type"` // "pix" or "boleto"
	QR       string `json:"qr,omitempty"`
	QRBase64 string `json:"qr_base64,omitempty"`
	Barcode  string `json:"barcode,omitempty"`
	Link     string `json:"link,omitempty"`
}

// ChargeResult is the synchronous outcome of a charge submission.
type ChargeResult struct {
	PaymentID    string      `json:"id"`
	Status       string      `json:"status"`
	StatusDetail string      `json:"status_detail"`
	InvoiceID    string      `json:"invoice_id"`
	NextAction   *NextAction `json:"next_action,omitempty"`
}

// CheckoutResult is the outcome of creating a hosted-checkout preference.
type CheckoutResult struct {
	InitPoint    string `json:"init_point"`
	PreferenceID string `json:"preference_id"`
	InvoiceID    string `json:"invoice_id"`
}
