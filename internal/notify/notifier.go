package notify

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Event describes a trade outcome for outbound notification.
type Event struct {
	Side        string  `json:"side"`
	Symbol      string  `json:"symbol"`
	DisplayName string  `json:"display_name"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	TotalAmount float64 `json:"total_amount"`
	Reason      string  `json:"reason"`
	Timestamp   string  `json:"timestamp"`
}

// Notifier delivers trade events to a human channel. Delivery is
// fire-and-forget: callers log failures and move on.
type Notifier interface {
	Notify(event Event) error
}

// WebhookNotifier posts trade events to a configured webhook URL. An empty
// URL disables delivery entirely.
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	enabled bool
	logger  *zap.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(webhookURL string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client:  resty.New().SetTimeout(10 * time.Second),
		url:     webhookURL,
		enabled: webhookURL != "",
		logger:  logger.Named("notify"),
	}
}

// Notify posts the event as JSON to the webhook.
func (n *WebhookNotifier) Notify(event Event) error {
	if !n.enabled {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}

	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s", resp.Status())
	}

	n.logger.Debug("Notification delivered",
		zap.String("symbol", event.Symbol),
		zap.String("side", event.Side),
	)
	return nil
}
