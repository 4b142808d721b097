package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/clubebonfim/billing-service/internal/domain"
	"github.com/clubebonfim/billing-service/internal/payer"
	"github.com/clubebonfim/billing-service/internal/store"
	"github.com/clubebonfim/billing-service/pkg/mpclient"
)

// chargeGatewayStub records the submitted charge and returns a canned payment.
type chargeGatewayStub struct {
	payment   *mpclient.Payment
	createErr error

	preference *mpclient.Preference
	prefErr    error

	lastRequest     mpclient.PaymentRequest
	lastKey         string
	lastPrefRequest mpclient.PreferenceRequest
	createCalls     int

	// Invoked mid-call when set, e.g. to cancel the caller's context while
	// the gateway request is in flight.
	onCreate     func()
	onPreference func()
}

func (g *chargeGatewayStub) CreatePayment(ctx context.Context, request mpclient.PaymentRequest, idempotencyKey string) (*mpclient.Payment, error) {
	g.createCalls++
	g.lastRequest = request
	g.lastKey = idempotencyKey
	if g.onCreate != nil {
		g.onCreate()
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.payment, nil
}

func (g *chargeGatewayStub) GetPayment(ctx context.Context, id string) (*mpclient.Payment, error) {
	return nil, errors.New("not used")
}

func (g *chargeGatewayStub) CreatePreference(ctx context.Context, request mpclient.PreferenceRequest) (*mpclient.Preference, error) {
	g.lastPrefRequest = request
	if g.onPreference != nil {
		g.onPreference()
	}
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	return g.preference, nil
}

func newChargeService(repo store.Repository, gateway Gateway, sandbox bool) *Service {
	return NewService(repo, gateway, nil, payer.NewNormalizer(sandbox, true), nil, sandbox, CheckoutConfig{
		NotificationURL: "https://billing.clubedocavalobonfim.com.br/billing/webhooks/payments",
		SuccessURL:      "https://clubedocavalobonfim.com.br/associado",
		PendingURL:      "https://clubedocavalobonfim.com.br/associado",
		FailureURL:      "https://clubedocavalobonfim.com.br/planos",
	})
}

func cardForm(idNumber string) domain.PaymentForm {
	return domain.PaymentForm{
		Token:           "tok_abc",
		PaymentMethodID: "visa",
		PaymentTypeID:   "credit_card",
		Installments:    1,
		Payer: &domain.FormPayer{
			Email:          "member@example.com",
			FirstName:      "Maria",
			LastName:       "Souza",
			Identification: &domain.FormIdentification{Type: "CPF", Number: idNumber},
		},
	}
}

func TestSubmitCharge_ApprovedCardSettlesInvoice(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{payment: &mpclient.Payment{
		ID:           "900",
		Status:       "approved",
		StatusDetail: "accredited",
		DateApproved: "2026-02-01T12:00:00Z",
	}}
	service := newChargeService(repo, gateway, true)

	// An invalid CPF in sandbox is substituted with the gateway test document
	// instead of failing the submission.
	result, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
		PlanType: domain.PlanMonthly,
		FormData: cardForm("00000000000"),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.PaymentID != "900" || result.Status != "approved" {
		t.Fatalf("unexpected charge result: %+v", result)
	}
	if result.NextAction != nil {
		t.Fatal("expected no next action for an approved charge")
	}

	if gateway.lastRequest.TransactionAmount != 30.00 {
		t.Fatalf("expected amount 30.00, got %v", gateway.lastRequest.TransactionAmount)
	}
	if !gateway.lastRequest.BinaryMode {
		t.Fatal("expected binary mode on the charge")
	}
	if gateway.lastRequest.Payer == nil || gateway.lastRequest.Payer.Identification == nil {
		t.Fatal("expected a payer identification on the charge")
	}
	if gateway.lastRequest.Payer.Identification.Number != "12345678909" {
		t.Fatalf("expected the sandbox test document, got %q", gateway.lastRequest.Payer.Identification.Number)
	}
	wantRef := "acc-1|" + result.InvoiceID
	if gateway.lastRequest.ExternalReference != wantRef {
		t.Fatalf("expected external reference %q, got %q", wantRef, gateway.lastRequest.ExternalReference)
	}
	if gateway.lastRequest.Token != "tok_abc" || gateway.lastRequest.Installments != 1 {
		t.Fatalf("expected card fields on the charge, got token=%q installments=%d", gateway.lastRequest.Token, gateway.lastRequest.Installments)
	}

	invoice := repo.invoices[result.InvoiceID]
	if invoice.Status != domain.InvoicePaid {
		t.Fatalf("expected invoice status %s, got %s", domain.InvoicePaid, invoice.Status)
	}
	summary := repo.summaries["acc-1"]
	if summary == nil || summary.OutstandingBalance != 0 || summary.Exempt {
		t.Fatalf("expected a settled summary, got %+v", summary)
	}
	if summary.ActiveUntil == nil || !summary.ActiveUntil.Equal(invoice.PeriodEnd) {
		t.Fatalf("expected active_until %s, got %v", invoice.PeriodEnd, summary.ActiveUntil)
	}
}

func TestSubmitCharge_InvalidDocumentFailsInProduction(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{}
	service := newChargeService(repo, gateway, false)

	_, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
		PlanType: domain.PlanMonthly,
		FormData: cardForm("00000000000"),
	}, "")
	if !errors.Is(err, payer.ErrInvalidIdentification) {
		t.Fatalf("expected ErrInvalidIdentification, got %v", err)
	}
	if gateway.createCalls != 0 {
		t.Fatal("expected no gateway submission for an invalid document")
	}
}

func TestSubmitCharge_DerivedIdempotencyKeyIsStable(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{payment: &mpclient.Payment{ID: "1", Status: "approved"}}
	service := newChargeService(repo, gateway, true)

	req := domain.ChargeRequest{
		PlanType:  domain.PlanMonthly,
		InvoiceID: "inv-stable",
		FormData:  cardForm("12345678909"),
	}
	if _, err := service.SubmitCharge(context.Background(), "acc-1", req, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstKey := gateway.lastKey
	if firstKey == "" {
		t.Fatal("expected a derived idempotency key")
	}
	if _, err := service.SubmitCharge(context.Background(), "acc-1", req, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.lastKey != firstKey {
		t.Fatalf("expected the retry to reuse key %q, got %q", firstKey, gateway.lastKey)
	}

	if _, err := service.SubmitCharge(context.Background(), "acc-1", req, "caller-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.lastKey != "caller-key" {
		t.Fatalf("expected the caller key to win, got %q", gateway.lastKey)
	}
}

func TestSubmitCharge_PendingPixCarriesNextAction(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{payment: &mpclient.Payment{
		ID:           "2",
		Status:       "pending",
		StatusDetail: "pending_waiting_transfer",
		PointOfInteraction: &mpclient.PointOfInteraction{TransactionData: &mpclient.TransactionData{
			QRCode:              "00020126...",
			QRCodeBase64:        "aVZC...",
			TicketURL:           "https://gateway.example/pix/ticket",
			ExternalResourceURL: "https://gateway.example/pix/fallback",
		}},
	}}
	service := newChargeService(repo, gateway, true)

	result, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
		PlanType: domain.PlanMonthly,
		FormData: domain.PaymentForm{PaymentMethodID: "pix", PaymentTypeID: "bank_transfer"},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	action := result.NextAction
	if action == nil || action.Type != "pix" {
		t.Fatalf("expected a pix next action, got %+v", action)
	}
	if action.QR != "00020126..." || action.QRBase64 != "aVZC..." {
		t.Fatalf("expected the QR payload, got %+v", action)
	}
	// ticket_url outranks external_resource_url for pix.
	if action.Link != "https://gateway.example/pix/ticket" {
		t.Fatalf("expected the ticket link, got %q", action.Link)
	}

	if repo.invoices[result.InvoiceID].Status != domain.InvoicePending {
		t.Fatalf("expected invoice status %s, got %s", domain.InvoicePending, repo.invoices[result.InvoiceID].Status)
	}
}

func TestSubmitCharge_PendingBoletoLinkPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		payment  *mpclient.Payment
		wantLink string
	}{
		{
			name: "transaction details link wins",
			payment: &mpclient.Payment{
				ID: "3", Status: "pending", StatusDetail: "pending_waiting_payment",
				TransactionDetails: &mpclient.TransactionDetails{ExternalResourceURL: "https://gateway.example/boleto/details"},
				PointOfInteraction: &mpclient.PointOfInteraction{TransactionData: &mpclient.TransactionData{
					TicketURL: "https://gateway.example/boleto/poi",
				}},
				Barcode: &mpclient.Barcode{Content: "034191790010104351..."},
			},
			wantLink: "https://gateway.example/boleto/details",
		},
		{
			name: "point of interaction is the fallback",
			payment: &mpclient.Payment{
				ID: "4", Status: "pending", StatusDetail: "pending_waiting_payment",
				PointOfInteraction: &mpclient.PointOfInteraction{TransactionData: &mpclient.TransactionData{
					TicketURL: "https://gateway.example/boleto/poi",
				}},
			},
			wantLink: "https://gateway.example/boleto/poi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newLifecycleRepoStub()
			gateway := &chargeGatewayStub{payment: tt.payment}
			service := newChargeService(repo, gateway, true)

			result, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
				PlanType: domain.PlanMonthly,
				FormData: domain.PaymentForm{
					PaymentMethodID:      "bolbradesco",
					PaymentTypeID:        "ticket",
					Email:                "member@example.com",
					IdentificationNumber: "12345678909",
				},
			}, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			action := result.NextAction
			if action == nil || action.Type != "boleto" {
				t.Fatalf("expected a boleto next action, got %+v", action)
			}
			if action.Link != tt.wantLink {
				t.Fatalf("expected link %q, got %q", tt.wantLink, action.Link)
			}
			if tt.payment.Barcode != nil && action.Barcode != tt.payment.Barcode.Content {
				t.Fatalf("expected barcode %q, got %q", tt.payment.Barcode.Content, action.Barcode)
			}
		})
	}
}

func TestSubmitCharge_CallerDisconnectDoesNotLoseSettlement(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{payment: &mpclient.Payment{
		ID:           "800",
		Status:       "approved",
		StatusDetail: "accredited",
		DateApproved: "2026-02-01T12:00:00Z",
	}}
	service := newChargeService(repo, gateway, true)

	// The client disconnects while the gateway call is in flight. The gateway
	// still accepted the charge, so the outcome apply must not be cancelled
	// with the request.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway.onCreate = cancel

	result, err := service.SubmitCharge(ctx, "acc-1", domain.ChargeRequest{
		PlanType: domain.PlanMonthly,
		FormData: cardForm("12345678909"),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.invoices[result.InvoiceID].Status != domain.InvoicePaid {
		t.Fatalf("expected invoice status %s, got %s", domain.InvoicePaid, repo.invoices[result.InvoiceID].Status)
	}
	if repo.summaries["acc-1"] == nil {
		t.Fatal("expected the billing summary to be written despite the disconnect")
	}
}

func TestCreateCheckout_CallerDisconnectStillPersistsLink(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{preference: &mpclient.Preference{
		ID:               "pref-9",
		SandboxInitPoint: "https://sandbox.mercadopago.com/checkout/v1/redirect?pref_id=pref-9",
	}}
	service := newChargeService(repo, gateway, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway.onPreference = cancel

	result, err := service.CreateCheckout(ctx, "acc-1", domain.PlanMonthly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invoice := repo.invoices[result.InvoiceID]
	if invoice.PreferenceID == nil || *invoice.PreferenceID != "pref-9" {
		t.Fatalf("expected the preference id on the invoice, got %v", invoice.PreferenceID)
	}
	if invoice.PaymentURL == nil || *invoice.PaymentURL != result.InitPoint {
		t.Fatalf("expected the checkout link on the invoice, got %v", invoice.PaymentURL)
	}
}

func TestSubmitCharge_GatewayRejectionMapsToSubmissionError(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{createErr: &mpclient.ErrorResponse{
		Message:   "Invalid card number",
		ErrorCode: "bad_request",
		Status:    400,
		Cause: []struct {
			Code        json.Number `json:"code"`
			Description string      `json:"description"`
		}{{Code: "3034", Description: "Invalid card_number_validation"}},
	}}
	service := newChargeService(repo, gateway, true)

	_, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
		PlanType:  domain.PlanMonthly,
		InvoiceID: "inv-err",
		FormData:  cardForm("12345678909"),
	}, "")

	var submissionErr *GatewaySubmissionError
	if !errors.As(err, &submissionErr) {
		t.Fatalf("expected GatewaySubmissionError, got %v", err)
	}
	if submissionErr.Description != "Invalid card_number_validation" {
		t.Fatalf("expected the first cause description, got %q", submissionErr.Description)
	}
	if submissionErr.Code != "bad_request" {
		t.Fatalf("expected code bad_request, got %q", submissionErr.Code)
	}
	if submissionErr.Hint != "" {
		t.Fatalf("expected no hint for a card rejection, got %q", submissionErr.Hint)
	}

	invoice := repo.invoices["inv-err"]
	if invoice.Status != domain.InvoiceError {
		t.Fatalf("expected invoice status %s, got %s", domain.InvoiceError, invoice.Status)
	}
	if invoice.GatewayError == nil || *invoice.GatewayError != "Invalid card_number_validation" {
		t.Fatalf("expected the gateway description on the invoice, got %v", invoice.GatewayError)
	}
}

func TestSubmitCharge_CredentialMismatchGetsHint(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{createErr: &mpclient.ErrorResponse{
		Message:   "invalid access token",
		ErrorCode: "unauthorized",
		Status:    401,
	}}
	service := newChargeService(repo, gateway, true)

	_, err := service.SubmitCharge(context.Background(), "acc-1", domain.ChargeRequest{
		PlanType: domain.PlanMonthly,
		FormData: cardForm("12345678909"),
	}, "")

	var submissionErr *GatewaySubmissionError
	if !errors.As(err, &submissionErr) {
		t.Fatalf("expected GatewaySubmissionError, got %v", err)
	}
	if !strings.Contains(submissionErr.Hint, "sandbox vs production") {
		t.Fatalf("expected a credential environment hint, got %q", submissionErr.Hint)
	}
}

func TestCreateCheckout_BuildsPreferenceAndPersistsLink(t *testing.T) {
	repo := newLifecycleRepoStub()
	gateway := &chargeGatewayStub{preference: &mpclient.Preference{
		ID:               "pref-1",
		InitPoint:        "https://www.mercadopago.com/checkout/v1/redirect?pref_id=pref-1",
		SandboxInitPoint: "https://sandbox.mercadopago.com/checkout/v1/redirect?pref_id=pref-1",
	}}
	service := newChargeService(repo, gateway, true)

	result, err := service.CreateCheckout(context.Background(), "acc-1", domain.PlanSemiannual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PreferenceID != "pref-1" {
		t.Fatalf("expected preference id pref-1, got %q", result.PreferenceID)
	}
	if !strings.HasPrefix(result.InitPoint, "https://sandbox.mercadopago.com/") {
		t.Fatalf("expected the sandbox init point, got %q", result.InitPoint)
	}

	req := gateway.lastPrefRequest
	if len(req.Items) != 1 || req.Items[0].UnitPrice != 170.00 || req.Items[0].CurrencyID != "BRL" {
		t.Fatalf("unexpected preference items: %+v", req.Items)
	}
	if req.ExternalReference != "acc-1|"+result.InvoiceID {
		t.Fatalf("unexpected external reference %q", req.ExternalReference)
	}
	if req.NotificationURL == "" || req.BackURLs == nil || req.BackURLs.Success == "" {
		t.Fatalf("expected webhook and back urls on the preference, got %+v", req)
	}

	invoice := repo.invoices[result.InvoiceID]
	if invoice.PreferenceID == nil || *invoice.PreferenceID != "pref-1" {
		t.Fatalf("expected the preference id on the invoice, got %v", invoice.PreferenceID)
	}
	if invoice.PaymentURL == nil || *invoice.PaymentURL != result.InitPoint {
		t.Fatalf("expected the checkout link on the invoice, got %v", invoice.PaymentURL)
	}
}

func TestSelectInitPoint(t *testing.T) {
	tests := []struct {
		name       string
		preference mpclient.Preference
		sandbox    bool
		want       string
	}{
		{
			name:       "sandbox prefers sandbox field",
			preference: mpclient.Preference{InitPoint: "https://www.mercadopago.com/x", SandboxInitPoint: "https://sandbox.mercadopago.com/x"},
			sandbox:    true,
			want:       "https://sandbox.mercadopago.com/x",
		},
		{
			name:       "sandbox rewrites production host when sandbox field is empty",
			preference: mpclient.Preference{InitPoint: "https://www.mercadopago.com/x"},
			sandbox:    true,
			want:       "https://sandbox.mercadopago.com/x",
		},
		{
			name:       "production prefers init point",
			preference: mpclient.Preference{InitPoint: "https://www.mercadopago.com/x", SandboxInitPoint: "https://sandbox.mercadopago.com/x"},
			sandbox:    false,
			want:       "https://www.mercadopago.com/x",
		},
		{
			name:       "production rewrites sandbox host when init point is empty",
			preference: mpclient.Preference{SandboxInitPoint: "https://sandbox.mercadopago.com/x"},
			sandbox:    false,
			want:       "https://www.mercadopago.com/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pref := tt.preference
			if got := selectInitPoint(&pref, tt.sandbox); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
