package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/pkg/config"
)

// HTTPClient talks to the payment gateway's REST API.
type HTTPClient struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client
	logger        *zap.Logger
}

// NewHTTPClient constructs a gateway client from configuration.
func NewHTTPClient(cfg config.GatewayConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
}

type initializePayload struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Channel   string `json:"channel"`
		ID        int64  `json:"id"`
	} `json:"data"`
}

// Checkout initialises a hosted checkout session. Amounts are sent in minor units.
func (g *HTTPClient) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	payload := initializePayload{
		Reference:   req.Reference,
		Amount:      toMinorUnits(req.Amount),
		Currency:    req.Currency,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	g.authorize(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("checkout returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var envelope initializeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w", err)
	}
	if !envelope.Status || envelope.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("checkout rejected: %s", envelope.Message)
	}

	return &CheckoutResponse{
		CheckoutLink: envelope.Data.AuthorizationURL,
		AccessCode:   envelope.Data.AccessCode,
	}, nil
}

// Verify fetches the provider's current view of a transaction by reference.
func (g *HTTPClient) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	g.authorize(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("verify returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var envelope verifyEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !envelope.Status {
		return nil, fmt.Errorf("verify rejected: %s", envelope.Message)
	}

	return &VerifyResponse{
		Status:               envelope.Data.Status,
		PaymentMethod:        envelope.Data.Channel,
		TransactionReference: fmt.Sprintf("%d", envelope.Data.ID),
		Raw:                  json.RawMessage(raw),
	}, nil
}

// ValidateSignature checks the webhook signature over the raw, unparsed body.
// The header carries hex-encoded HMAC-SHA512 of the body keyed by the shared
// webhook secret; comparison is constant time.
func (g *HTTPClient) ValidateSignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(g.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signatureHeader))) == 1
}

func (g *HTTPClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func truncate(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
