package gateway

import (
	"context"
	"encoding/json"

	"github.com/luminalearn/coursepay-api/internal/models"
)

// CheckoutRequest initialises a hosted checkout session with the gateway.
type CheckoutRequest struct {
	Reference   string
	Amount      float64
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

// CheckoutResponse carries the hosted checkout link for the payer.
type CheckoutResponse struct {
	CheckoutLink string
	AccessCode   string
}

// VerifyResponse is the provider's view of a transaction.
type VerifyResponse struct {
	Status               string
	PaymentMethod        string
	TransactionReference string
	Raw                  json.RawMessage
}

// Client is the contract the orchestrator requires from the payment gateway.
// The provider's HTTP protocol, credential handling and retry policy live
// behind this interface.
type Client interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error)
	Verify(ctx context.Context, reference string) (*VerifyResponse, error)
	ValidateSignature(rawBody []byte, signatureHeader string) bool
}

// statusMap translates the provider's status vocabulary onto the internal
// four-state set. Unlisted spellings resolve to UNKNOWN.
var statusMap = map[string]models.VerifyOutcome{
	"success":     models.VerifyOutcomeSuccessful,
	"failed":      models.VerifyOutcomeFailed,
	"reversed":    models.VerifyOutcomeFailed,
	"abandoned":   models.VerifyOutcomeFailed,
	"pending":     models.VerifyOutcomePending,
	"ongoing":     models.VerifyOutcomePending,
	"processing":  models.VerifyOutcomePending,
	"queued":      models.VerifyOutcomePending,
	"send_otp":    models.VerifyOutcomePending,
	"pay_offline": models.VerifyOutcomePending,
}

// MapStatus resolves a provider status spelling to the internal outcome.
func MapStatus(providerStatus string) models.VerifyOutcome {
	if outcome, ok := statusMap[providerStatus]; ok {
		return outcome
	}
	return models.VerifyOutcomeUnknown
}
