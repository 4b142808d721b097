/**
 * @description
 * This package provides a client for the payment gateway's payments API
 * (MercadoPago). It encapsulates the logic for making authenticated HTTP
 * requests, applying idempotency keys on charge creation, and parsing
 * success and error responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package mpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the gateway's payments API.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient creates a new gateway API client. The access token is selected by
// configuration at startup (sandbox vs production), never inferred here.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		AccessToken: strings.TrimSpace(accessToken),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PaymentRequest is the payload for creating a charge.
type PaymentRequest struct {
	TransactionAmount float64                `json:"transaction_amount"`
	Description       string                 `json:"description"`
	PaymentMethodID   string                 `json:"payment_method_id,omitempty"`
	Token             string                 `json:"token,omitempty"`
	IssuerID          string                 `json:"issuer_id,omitempty"`
	Installments      int                    `json:"installments,omitempty"`
	BinaryMode        bool                   `json:"binary_mode"`
	ExternalReference string                 `json:"external_reference"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Payer             *Payer                 `json:"payer,omitempty"`
}

// Payer is the payer object attached to a charge.
type Payer struct {
	Email          string          `json:"email,omitempty"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

// Identification is the payer's legal identification document.
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// Payment is a charge as reported by the gateway. Once fetched by id it is the
// source of truth for the charge's financial state.
type Payment struct {
	ID                 json.Number            `json:"id"`
	Status             string                 `json:"status"`
	StatusDetail       string                 `json:"status_detail"`
	DateApproved       string                 `json:"date_approved"`
	ExternalReference  string                 `json:"external_reference"`
	TransactionAmount  float64                `json:"transaction_amount"`
	Metadata           map[string]interface{} `json:"metadata"`
	Payer              *PaymentPayer          `json:"payer,omitempty"`
	PointOfInteraction *PointOfInteraction    `json:"point_of_interaction,omitempty"`
	TransactionDetails *TransactionDetails    `json:"transaction_details,omitempty"`
	Barcode            *Barcode               `json:"barcode,omitempty"`
}

// PaymentPayer is the payer echo on a fetched charge.
type PaymentPayer struct {
	ID    json.Number `json:"id"`
	Email string      `json:"email"`
}

// PointOfInteraction carries method-specific completion data (pix QR codes,
// ticket links) for pending charges.
type PointOfInteraction struct {
	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

// TransactionData holds the pix QR payload and related links.
type TransactionData struct {
	QRCode              string `json:"qr_code"`
	QRCodeBase64        string `json:"qr_code_base64"`
	TicketURL           string `json:"ticket_url"`
	ExternalResourceURL string `json:"external_resource_url"`
}

// TransactionDetails holds settlement details, including the voucher link for
// boleto charges.
type TransactionDetails struct {
	ExternalResourceURL string `json:"external_resource_url"`
}

// Barcode is the boleto barcode on voucher charges.
type Barcode struct {
	Content string `json:"content"`
}

// PreferenceRequest is the payload for creating a hosted-checkout preference.
type PreferenceRequest struct {
	Items             []PreferenceItem       `json:"items"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ExternalReference string                 `json:"external_reference,omitempty"`
	NotificationURL   string                 `json:"notification_url,omitempty"`
	BackURLs          *BackURLs              `json:"back_urls,omitempty"`
	AutoReturn        string                 `json:"auto_return,omitempty"`
}

// PreferenceItem is one line item of a hosted-checkout preference.
type PreferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	CurrencyID string  `json:"currency_id"`
	UnitPrice  float64 `json:"unit_price"`
}

// BackURLs are the redirect targets after a hosted-checkout session.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// Preference is the gateway's hosted-checkout session.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// ErrorResponse represents an error returned by the gateway API.
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error"`
	Status    int    `json:"status"`
	Cause     []struct {
		Code        json.Number `json:"code"`
		Description string      `json:"description"`
	} `json:"cause"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway api error: %s (%s)", e.Message, e.ErrorCode)
	}
	return "unknown gateway api error"
}

// FirstCause returns the most specific error description the gateway reported.
func (e *ErrorResponse) FirstCause() string {
	if len(e.Cause) > 0 && e.Cause[0].Description != "" {
		return e.Cause[0].Description
	}
	return e.Message
}

// CreatePayment submits a charge. The idempotency key guards against the
// gateway creating duplicate charges when a client retries the submission.
func (c *Client) CreatePayment(ctx context.Context, request PaymentRequest, idempotencyKey string) (*Payment, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if strings.TrimSpace(idempotencyKey) != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	var payment Payment
	if err := c.do(req, "create_payment", &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPayment fetches the authoritative state of a charge by id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	var payment Payment
	if err := c.do(req, "get_payment", &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreatePreference creates a hosted-checkout session.
func (c *Client) CreatePreference(ctx context.Context, preference PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(preference)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/checkout/preferences", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create preference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	var pref Preference
	if err := c.do(req, "create_preference", &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

// do executes a request and decodes the success body into out, mapping non-2xx
// responses to *ErrorResponse.
func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=mp_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		if errResp.Status == 0 {
			errResp.Status = resp.StatusCode
		}
		log.Printf("level=warn component=mp_client op=%s status=%d message=%q code=%q", op, resp.StatusCode, errResp.Message, errResp.ErrorCode)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
