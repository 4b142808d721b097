/**
 * @description
 * This file contains the HTTP handlers for the billing-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/clubebonfim/billing-service/internal/app"
	"github.com/clubebonfim/billing-service/internal/domain"
	"github.com/clubebonfim/billing-service/internal/payer"
)

// BillingHandlers holds the application service that handlers will use.
type BillingHandlers struct {
	service *app.Service
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(service *app.Service) *BillingHandlers {
	return &BillingHandlers{service: service}
}

// gatewayErrorResponse mirrors the shape the membership frontend reads when a
// charge submission fails at the gateway.
type gatewayErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
	Hint        string `json:"hint,omitempty"`
}

// SubmitChargeHandler handles requests to open an invoice and submit the
// member's payment to the gateway.
func (h *BillingHandlers) SubmitChargeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req domain.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_charge outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")

	log.Printf("level=info component=api endpoint=submit_charge outcome=accepted account_id=%s plan=%s", accountID, req.PlanType)

	result, err := h.service.SubmitCharge(r.Context(), accountID, req, idempotencyKey)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_charge outcome=failed account_id=%s err=%v", accountID, err)

		var gwErr *app.GatewaySubmissionError
		if errors.As(err, &gwErr) {
			h.writeJSON(w, http.StatusBadGateway, gatewayErrorResponse{
				Error:       "Payment gateway rejected the charge",
				Description: gwErr.Description,
				Code:        gwErr.Code,
				Hint:        gwErr.Hint,
			})
			return
		}
		switch {
		case errors.Is(err, app.ErrUnknownPlan),
			errors.Is(err, payer.ErrMissingChargeToken),
			errors.Is(err, payer.ErrMissingMethodIdentifier),
			errors.Is(err, payer.ErrInvalidIdentification),
			errors.Is(err, payer.ErrUnknownPaymentMethod):
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// CreateCheckoutHandler handles requests to create a hosted checkout session
// for a membership plan.
func (h *BillingHandlers) CreateCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req struct {
		PlanType domain.PlanType `json:"plan_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateCheckout(r.Context(), accountID, req.PlanType)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_checkout outcome=failed account_id=%s err=%v", accountID, err)

		var gwErr *app.GatewaySubmissionError
		if errors.As(err, &gwErr) {
			h.writeJSON(w, http.StatusBadGateway, gatewayErrorResponse{
				Error:       "Payment gateway rejected the checkout",
				Description: gwErr.Description,
				Code:        gwErr.Code,
				Hint:        gwErr.Hint,
			})
			return
		}
		if errors.Is(err, app.ErrUnknownPlan) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// PaymentWebhookHandler receives gateway payment notifications and runs them
// through the reconciler. Only a gateway fetch failure returns a 5xx, so the
// gateway redelivers exactly the notifications we could not verify; everything
// else is acknowledged to stop redelivery.
func (h *BillingHandlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=unreadable_body err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	result, err := h.service.HandleNotification(r.Context(), body)
	if err != nil {
		if errors.Is(err, app.ErrGatewayFetch) {
			log.Printf("level=warn component=api endpoint=payment_webhook outcome=retriable err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Could not verify payment with gateway")
			return
		}
		log.Printf("level=error component=api endpoint=payment_webhook outcome=acked_with_error err=%v", err)
		// Acknowledged: redelivering the same payload would fail the same way.
		h.writeJSON(w, http.StatusOK, &app.ReconciliationResult{Outcome: app.ReconcileIgnored})
		return
	}

	log.Printf("level=info component=api endpoint=payment_webhook outcome=%s payment_id=%s invoice_id=%s", result.Outcome, result.PaymentID, result.InvoiceID)
	h.writeJSON(w, http.StatusOK, result)
}

// ListPlansHandler returns the membership plan catalog.
func (h *BillingHandlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, domain.Plans())
}

// HealthHandler reports service liveness.
func (h *BillingHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
