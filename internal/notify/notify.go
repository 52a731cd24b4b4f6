// Package notify delivers pickup notifications over an HTTP SMS endpoint.
// Delivery is fire and forget: the caller logs failures and never blocks a
// reservation transition on them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const defaultTimeout = 5 * time.Second

// Config carries the SMS endpoint settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Validate fills defaults and rejects an unusable configuration.
func (config *Config) Validate() error {
	if strings.TrimSpace(config.Endpoint) == "" {
		return fmt.Errorf("notify: endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return nil
}

// SMSNotifier implements reserve.Notifier against an HTTP SMS provider.
type SMSNotifier struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns an SMSNotifier.
func New(config Config, logger *zap.Logger) (*SMSNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMSNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// NotifyReady sends the pickup message with the delivery code.
func (notifier *SMSNotifier) NotifyReady(ctx context.Context, notification reserve.ReadyNotification) error {
	payload := map[string]string{
		"to":      notification.PhoneNumber,
		"message": fmt.Sprintf("%s, your meal is ready. Pickup code: %s", notification.FirstName, notification.DeliveryCode),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if notifier.config.APIKey != "" {
		request.Header.Set("Authorization", "Bearer "+notifier.config.APIKey)
	}
	response, err := notifier.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify: provider returned status %d", response.StatusCode)
	}
	notifier.logger.Debug("pickup notification sent", zap.String("phone", notification.PhoneNumber))
	return nil
}
