package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/pkg/config"
)

// Notification templates used by the payment flows.
const (
	TemplatePaymentReminder = "payment_reminder"
	TemplatePaymentReceipt  = "payment_receipt"
)

// Notifier delivers a templated message to a recipient. Implementations must
// never mutate payment state; a failed delivery is reported, not retried here.
type Notifier interface {
	Send(ctx context.Context, template, recipient string, data map[string]interface{}) (bool, error)
}

// HTTPNotifier posts notification requests to a mail relay endpoint.
type HTTPNotifier struct {
	relayURL string
	sender   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPNotifier constructs a notifier from configuration.
func NewHTTPNotifier(cfg config.NotifierConfig, logger *zap.Logger) *HTTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPNotifier{
		relayURL: cfg.RelayURL,
		sender:   cfg.Sender,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type relayPayload struct {
	Template  string                 `json:"template"`
	Sender    string                 `json:"sender"`
	Recipient string                 `json:"recipient"`
	Data      map[string]interface{} `json:"data"`
}

// Send posts the notification to the relay. With no relay configured the
// notification is logged and reported as undelivered.
func (n *HTTPNotifier) Send(ctx context.Context, template, recipient string, data map[string]interface{}) (bool, error) {
	if n.relayURL == "" {
		n.logger.Info("notification skipped, no relay configured",
			zap.String("template", template), zap.String("recipient", recipient))
		return false, nil
	}

	body, err := json.Marshal(relayPayload{Template: template, Sender: n.sender, Recipient: recipient, Data: data})
	if err != nil {
		return false, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.relayURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("notification relay returned status %d", resp.StatusCode)
	}
	return true, nil
}
