package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewHTTPClient(config.GatewayConfig{
		BaseURL:       server.URL,
		SecretKey:     "sk_test_secret",
		WebhookSecret: "whsec_test",
		Timeout:       5 * time.Second,
	}, nil)
	return client, server
}

func TestCheckoutSendsMinorUnits(t *testing.T) {
	var captured initializePayload
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"authorization_url": "https://gateway.example.com/pay/xyz",
				"access_code":       "xyz",
				"reference":         captured.Reference,
			},
		})
	})

	resp, err := client.Checkout(context.Background(), CheckoutRequest{
		Reference:   "CPAY-abc",
		Amount:      1250.55,
		Currency:    "NGN",
		Email:       "payer@example.com",
		CallbackURL: "https://app.example.com/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example.com/pay/xyz", resp.CheckoutLink)
	assert.Equal(t, int64(125055), captured.Amount)
	assert.Equal(t, "CPAY-abc", captured.Reference)
}

func TestCheckoutRejectedEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": false, "message": "invalid key"})
	})

	_, err := client.Checkout(context.Background(), CheckoutRequest{Reference: "CPAY-abc", Amount: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestCheckoutNon2xxStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Checkout(context.Background(), CheckoutRequest{Reference: "CPAY-abc", Amount: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestVerifyDecodesProviderStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/CPAY-abc", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"status":    "success",
				"reference": "CPAY-abc",
				"channel":   "card",
				"id":        991122,
			},
		})
	})

	resp, err := client.Verify(context.Background(), "CPAY-abc")
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "card", resp.PaymentMethod)
	assert.Equal(t, "991122", resp.TransactionReference)
	assert.NotEmpty(t, resp.Raw)
}

func TestValidateSignature(t *testing.T) {
	client := NewHTTPClient(config.GatewayConfig{WebhookSecret: "whsec_test"}, nil)
	body := []byte(`{"event":"charge.success"}`)

	mac := hmac.New(sha512.New, []byte("whsec_test"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, client.ValidateSignature(body, signature))
	assert.True(t, client.ValidateSignature(body, strings.ToUpper(signature)))
	assert.False(t, client.ValidateSignature(body, ""))
	assert.False(t, client.ValidateSignature(body, "deadbeef"))
	assert.False(t, client.ValidateSignature([]byte(`tampered`), signature))
}

func TestMapStatusVocabulary(t *testing.T) {
	cases := map[string]models.VerifyOutcome{
		"success":     models.VerifyOutcomeSuccessful,
		"failed":      models.VerifyOutcomeFailed,
		"reversed":    models.VerifyOutcomeFailed,
		"abandoned":   models.VerifyOutcomeFailed,
		"pending":     models.VerifyOutcomePending,
		"ongoing":     models.VerifyOutcomePending,
		"send_otp":    models.VerifyOutcomePending,
		"pay_offline": models.VerifyOutcomePending,
		"weird":       models.VerifyOutcomeUnknown,
		"":            models.VerifyOutcomeUnknown,
	}
	for status, expected := range cases {
		assert.Equal(t, expected, MapStatus(status), status)
	}
}
