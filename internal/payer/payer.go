/**
 * @description
 * This package builds a gateway-compliant payer profile from the heterogeneous
 * form data submitted by the checkout widget. It classifies the payment method,
 * enforces the method-specific required fields, validates the payer's CPF, and
 * applies safe synthetic fallbacks (sandbox CPF substitution, deterministic
 * synthetic email) so a charge never reaches the gateway with a payer object
 * the gateway would reject.
 *
 * @dependencies
 * - internal/cpf: CPF check-digit validation.
 * - internal/domain: form and profile models.
 */

package payer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/clubebonfim/billing-service/internal/cpf"
	"github.com/clubebonfim/billing-service/internal/domain"
)

// MethodClass groups gateway payment methods by their payer requirements.
type MethodClass string

const (
	// MethodCard covers credit and debit cards: requires a charge token, a
	// method id, and a valid CPF.
	MethodCard MethodClass = "card"
	// MethodTransfer covers instant digital transfers (pix): no token, CPF
	// optional, email inclusion governed by IncludeTransferEmail.
	MethodTransfer MethodClass = "transfer"
	// MethodVoucher covers bank-slip vouchers (boleto/ticket): no token, but
	// the gateway requires a valid CPF to issue the slip.
	MethodVoucher MethodClass = "voucher"
)

var (
	ErrMissingChargeToken      = errors.New("card payment requires a charge token")
	ErrMissingMethodIdentifier = errors.New("card payment requires a payment method id")
	ErrInvalidIdentification   = errors.New("invalid payer identification number")
	ErrUnknownPaymentMethod    = errors.New("unrecognized payment method")
)

// sandboxCPF is the gateway's documented test CPF, substituted for invalid
// payer documents when running against the sandbox environment.
const sandboxCPF = "12345678909"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Normalizer applies the payer normalization policy. The policy knobs are
// injected at construction time and never read from the process environment.
type Normalizer struct {
	// Sandbox substitutes the gateway test CPF for invalid documents instead
	// of failing the submission.
	Sandbox bool
	// IncludeTransferEmail controls whether transfer-type (pix) payments carry
	// a payer email. The gateway's minimum-payer-object rules make an email
	// mandatory for cards and vouchers; for transfers it is configurable.
	IncludeTransferEmail bool
	// EmailDomain is the domain used for synthetic payer addresses.
	EmailDomain string
}

// NewNormalizer returns a Normalizer with the default synthetic email domain.
func NewNormalizer(sandbox, includeTransferEmail bool) *Normalizer {
	return &Normalizer{
		Sandbox:              sandbox,
		IncludeTransferEmail: includeTransferEmail,
		EmailDomain:          "pagamentos.clubebonfim.com.br",
	}
}

// Normalized is the output of payer normalization: the detected method class
// and the gateway-ready payer profile.
type Normalized struct {
	Class MethodClass
	Payer domain.PayerProfile
}

// ClassifyMethod determines the method class from the form's method-type and
// method-id fields. The type id is authoritative when present; the method id
// disambiguates older widget payloads that omit the type.
func ClassifyMethod(form domain.PaymentForm) (MethodClass, error) {
	typeID := strings.ToLower(strings.TrimSpace(form.PaymentTypeID))
	methodID := strings.ToLower(strings.TrimSpace(form.PaymentMethodID))

	switch typeID {
	case "credit_card", "debit_card":
		return MethodCard, nil
	case "bank_transfer", "pix":
		return MethodTransfer, nil
	case "ticket":
		return MethodVoucher, nil
	}

	switch {
	case methodID == "pix":
		return MethodTransfer, nil
	case strings.HasPrefix(methodID, "bol"):
		return MethodVoucher, nil
	case methodID != "" && typeID == "":
		// Older widgets send only the card brand ("visa", "master", ...) for
		// card payments.
		return MethodCard, nil
	}

	return "", fmt.Errorf("%w: type=%q method=%q", ErrUnknownPaymentMethod, form.PaymentTypeID, form.PaymentMethodID)
}

// Normalize validates the form for its method class and produces the payer
// profile the gateway charge will carry.
func (n *Normalizer) Normalize(accountID string, form domain.PaymentForm) (Normalized, error) {
	class, err := ClassifyMethod(form)
	if err != nil {
		return Normalized{}, err
	}

	if class == MethodCard {
		if strings.TrimSpace(form.Token) == "" {
			return Normalized{}, ErrMissingChargeToken
		}
		if strings.TrimSpace(form.PaymentMethodID) == "" {
			return Normalized{}, ErrMissingMethodIdentifier
		}
	}

	profile := domain.PayerProfile{
		Email:    firstEmail(form),
		IDType:   identificationType(form),
		IDNumber: identificationNumber(form),
	}
	if form.Payer != nil {
		profile.FirstName = strings.TrimSpace(form.Payer.FirstName)
		profile.LastName = strings.TrimSpace(form.Payer.LastName)
	}

	// Cards and vouchers require a valid CPF; invalid documents fail in
	// production and are substituted with the gateway test value in sandbox.
	if class == MethodCard || class == MethodVoucher {
		if !cpf.Valid(profile.IDNumber) {
			if !n.Sandbox {
				return Normalized{}, fmt.Errorf("%w: %q", ErrInvalidIdentification, profile.IDNumber)
			}
			profile.IDType = "CPF"
			profile.IDNumber = sandboxCPF
		}
	}

	switch class {
	case MethodCard, MethodVoucher:
		if !emailPattern.MatchString(profile.Email) {
			profile.Email = n.SyntheticEmail(accountID)
		}
	case MethodTransfer:
		if !n.IncludeTransferEmail {
			profile.Email = ""
		} else if !emailPattern.MatchString(profile.Email) {
			profile.Email = n.SyntheticEmail(accountID)
		}
	}

	return Normalized{Class: class, Payer: profile}, nil
}

// SyntheticEmail derives a deterministic, always-valid payer address from the
// account id. The same account always maps to the same address.
func (n *Normalizer) SyntheticEmail(accountID string) string {
	domainPart := n.EmailDomain
	if strings.TrimSpace(domainPart) == "" {
		domainPart = "pagamentos.clubebonfim.com.br"
	}
	local := sanitizeLocalPart(accountID)
	if local == "" {
		local = "member"
	}
	return fmt.Sprintf("member-%s@%s", local, domainPart)
}

// sanitizeLocalPart keeps only characters that are safe in an email local part.
func sanitizeLocalPart(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		}
	}
	return strings.Trim(b.String(), ".")
}

func firstEmail(form domain.PaymentForm) string {
	if form.Payer != nil && strings.TrimSpace(form.Payer.Email) != "" {
		return strings.TrimSpace(form.Payer.Email)
	}
	return strings.TrimSpace(form.Email)
}

func identificationType(form domain.PaymentForm) string {
	if form.Payer != nil && form.Payer.Identification != nil && strings.TrimSpace(form.Payer.Identification.Type) != "" {
		return strings.TrimSpace(form.Payer.Identification.Type)
	}
	if strings.TrimSpace(form.IdentificationType) != "" {
		return strings.TrimSpace(form.IdentificationType)
	}
	return "CPF"
}

func identificationNumber(form domain.PaymentForm) string {
	if form.Payer != nil && form.Payer.Identification != nil && strings.TrimSpace(form.Payer.Identification.Number) != "" {
		return strings.TrimSpace(form.Payer.Identification.Number)
	}
	return strings.TrimSpace(form.IdentificationNumber)
}
