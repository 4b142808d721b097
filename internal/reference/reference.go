/**
 * @description
 * This package encodes and decodes the correlation reference that is embedded
 * in a gateway charge's external reference field and maps it back to a local
 * (account id, invoice id) pair. Encoding always produces the canonical
 * composite form; decoding accepts the three shapes that exist in historical
 * charges: the composite token, a legacy JSON payload, and a legacy bare
 * invoice id whose account id lives in the charge metadata.
 */

package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Separator joins account id and invoice id in the canonical composite token.
const Separator = "|"

// ErrUnresolved means no decoding path could recover an account id and invoice
// id from the charge. Callers must treat this as non-retriable: the
// notification is logged and acknowledged, never failed, because redelivery
// cannot make the reference resolvable.
var ErrUnresolved = errors.New("unresolved payment reference")

// Ref is a decoded correlation reference.
type Ref struct {
	AccountID string
	InvoiceID string
}

// Encode produces the canonical composite token for a charge.
func Encode(accountID, invoiceID string) string {
	return accountID + Separator + invoiceID
}

// legacyPayload is the JSON shape older charges carried in external_reference.
type legacyPayload struct {
	UID       string `json:"uid"`
	AccountID string `json:"accountId"`
	InvoiceID string `json:"invoiceId"`
}

// Decode recovers the (account id, invoice id) pair from an external reference
// token plus the charge metadata. The paths are tried in a fixed order:
// composite split, legacy JSON payload, then legacy bare invoice id with the
// account id taken from metadata.
func Decode(token string, metadata map[string]interface{}) (Ref, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Ref{}, fmt.Errorf("%w: empty external reference", ErrUnresolved)
	}

	if strings.Contains(token, Separator) {
		parts := strings.SplitN(token, Separator, 2)
		accountID := strings.TrimSpace(parts[0])
		invoiceID := strings.TrimSpace(parts[1])
		if accountID == "" || invoiceID == "" {
			return Ref{}, fmt.Errorf("%w: malformed composite token %q", ErrUnresolved, token)
		}
		return Ref{AccountID: accountID, InvoiceID: invoiceID}, nil
	}

	if strings.HasPrefix(token, "{") {
		var payload legacyPayload
		if err := json.Unmarshal([]byte(token), &payload); err != nil {
			return Ref{}, fmt.Errorf("%w: unparsable structured reference", ErrUnresolved)
		}
		accountID := payload.UID
		if accountID == "" {
			accountID = payload.AccountID
		}
		if accountID == "" || payload.InvoiceID == "" {
			return Ref{}, fmt.Errorf("%w: structured reference missing uid or invoiceId", ErrUnresolved)
		}
		return Ref{AccountID: accountID, InvoiceID: payload.InvoiceID}, nil
	}

	// Bare legacy token: the token is the invoice id and the account id must
	// come from the charge metadata.
	accountID := metadataAccountID(metadata)
	if accountID == "" {
		return Ref{}, fmt.Errorf("%w: bare invoice reference %q without account metadata", ErrUnresolved, token)
	}
	return Ref{AccountID: accountID, InvoiceID: token}, nil
}

// metadataAccountID probes the metadata keys historical charges used for the
// account id. The gateway lowercases metadata keys on echo, so both casings
// are checked.
func metadataAccountID(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	for _, key := range []string{"uid", "account_id", "accountId"} {
		if raw, ok := metadata[key]; ok {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
