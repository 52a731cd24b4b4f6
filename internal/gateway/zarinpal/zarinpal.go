// Package zarinpal implements the reserve.Gateway contract against a
// ZarinPal-style JSON payment API. Success is signaled by a business code of
// 100, or 101 for an already-verified payment.
package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const (
	codeSuccess         = 100
	codeAlreadyVerified = 101

	pathRequest = "/pg/v4/payment/request.json"
	pathVerify  = "/pg/v4/payment/verify.json"
	pathInquiry = "/pg/v4/payment/inquiry.json"
	pathReverse = "/pg/v4/payment/reverse.json"

	defaultTimeout = 10 * time.Second
)

// Config carries the gateway connection settings.
type Config struct {
	BaseURL     string
	StartPayURL string
	MerchantID  string
	Timeout     time.Duration
}

// Validate fills defaults and rejects an unusable configuration.
func (config *Config) Validate() error {
	if strings.TrimSpace(config.BaseURL) == "" {
		return fmt.Errorf("zarinpal: base url is required")
	}
	if strings.TrimSpace(config.MerchantID) == "" {
		return fmt.Errorf("zarinpal: merchant id is required")
	}
	if config.StartPayURL == "" {
		config.StartPayURL = strings.TrimSuffix(config.BaseURL, "/") + "/pg/StartPay/"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return nil
}

// Client talks to the gateway. Verify calls are retried with exponential
// backoff on transport failures and transient HTTP statuses; inquiry and
// reversal are single-shot because their callers already run periodically.
type Client struct {
	config     Config
	httpClient *http.Client
	retry      RetryPolicy
	logger     *zap.Logger
	sleepFn    func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// WithRetryPolicy overrides the verify retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(client *Client) {
		client.retry = policy
	}
}

// WithSleep overrides the backoff sleep, for tests.
func WithSleep(sleepFn func(time.Duration)) Option {
	return func(client *Client) {
		client.sleepFn = sleepFn
	}
}

// New returns a gateway client.
func New(config Config, logger *zap.Logger, options ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      DefaultRetryPolicy(),
		logger:     logger,
		sleepFn:    time.Sleep,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type envelope struct {
	Data   payloadData     `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type payloadData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
	RefID     int64  `json:"ref_id"`
	Status    string `json:"status"`
}

// RequestPayment opens a payment and returns the authority token plus the
// redirect URL the user must visit.
func (client *Client) RequestPayment(ctx context.Context, request reserve.PaymentRequest) (string, string, error) {
	payload := map[string]interface{}{
		"merchant_id":  client.config.MerchantID,
		"amount":       request.Amount,
		"callback_url": request.CallbackURL,
		"description":  request.Description,
	}
	if request.Mobile != "" {
		payload["metadata"] = map[string]string{"mobile": request.Mobile}
	}
	response, err := client.postJSON(ctx, pathRequest, payload)
	if err != nil {
		return "", "", err
	}
	if response.Data.Code != codeSuccess {
		return "", "", &reserve.GatewayStatusError{StatusCode: response.Data.Code, Message: response.Data.Message}
	}
	redirectURL := client.config.StartPayURL + response.Data.Authority
	return response.Data.Authority, redirectURL, nil
}

// VerifyPayment confirms a collected payment and returns the gateway
// reference. Transient failures are retried per the client's policy; a
// business decline or a 401 is returned immediately.
func (client *Client) VerifyPayment(ctx context.Context, amount int64, authority string) (string, error) {
	payload := map[string]interface{}{
		"merchant_id": client.config.MerchantID,
		"amount":      amount,
		"authority":   authority,
	}
	var lastErr error
	attempts := client.retry.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := client.postJSON(ctx, pathVerify, payload)
		if err == nil {
			if response.Data.Code == codeSuccess || response.Data.Code == codeAlreadyVerified {
				return fmt.Sprintf("%d", response.Data.RefID), nil
			}
			return "", &reserve.GatewayStatusError{StatusCode: response.Data.Code, Message: response.Data.Message}
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
		if attempt < attempts {
			delay := client.retry.NextDelay(attempt)
			client.logger.Debug("verify retry",
				zap.String("authority", authority),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			client.sleepFn(delay)
		}
	}
	return "", fmt.Errorf("%w: %v", reserve.ErrGatewayUnavailable, lastErr)
}

// InquirePayment probes the provider-side status of a payment.
func (client *Client) InquirePayment(ctx context.Context, authority string) (reserve.InquiryResult, error) {
	payload := map[string]interface{}{
		"merchant_id": client.config.MerchantID,
		"authority":   authority,
	}
	response, err := client.postJSON(ctx, pathInquiry, payload)
	if err != nil {
		return reserve.InquiryResult{}, err
	}
	if response.Data.Code != codeSuccess {
		return reserve.InquiryResult{}, &reserve.GatewayStatusError{StatusCode: response.Data.Code, Message: response.Data.Message}
	}
	result := reserve.InquiryResult{Status: reserve.GatewayStatus(strings.ToUpper(response.Data.Status))}
	if response.Data.RefID != 0 {
		result.RefID = fmt.Sprintf("%d", response.Data.RefID)
	}
	return result, nil
}

// ReversePayment asks the provider to undo a collected charge.
func (client *Client) ReversePayment(ctx context.Context, authority string) error {
	payload := map[string]interface{}{
		"merchant_id": client.config.MerchantID,
		"authority":   authority,
	}
	response, err := client.postJSON(ctx, pathReverse, payload)
	if err != nil {
		return err
	}
	if response.Data.Code != codeSuccess {
		return &reserve.GatewayStatusError{StatusCode: response.Data.Code, Message: response.Data.Message}
	}
	return nil
}

// transportError marks failures worth retrying: network errors, 5xx, and the
// gateway's intermittent 404 on fresh authorities.
type transportError struct {
	status int
	err    error
}

func (failure *transportError) Error() string {
	if failure.err != nil {
		return fmt.Sprintf("zarinpal: transport failure: %v", failure.err)
	}
	return fmt.Sprintf("zarinpal: unexpected http status %d", failure.status)
}

func (failure *transportError) Unwrap() error {
	return failure.err
}

func isRetryable(err error) bool {
	failure, ok := err.(*transportError)
	if !ok {
		return false
	}
	if failure.err != nil {
		return true
	}
	return failure.status >= http.StatusInternalServerError || failure.status == http.StatusNotFound
}

func (client *Client) postJSON(ctx context.Context, path string, payload map[string]interface{}) (envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("zarinpal: encode request: %w", err)
	}
	endpoint := strings.TrimSuffix(client.config.BaseURL, "/") + path
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return envelope{}, fmt.Errorf("zarinpal: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	client.logger.Debug("gateway request", zap.String("path", path))
	response, err := client.httpClient.Do(request)
	if err != nil {
		return envelope{}, &transportError{err: err}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return envelope{}, &transportError{err: err}
	}
	client.logger.Debug("gateway response",
		zap.String("path", path),
		zap.Int("http_status", response.StatusCode))

	if response.StatusCode == http.StatusUnauthorized {
		return envelope{}, &reserve.GatewayStatusError{StatusCode: http.StatusUnauthorized, Message: "merchant rejected"}
	}
	if response.StatusCode != http.StatusOK {
		return envelope{}, &transportError{status: response.StatusCode}
	}
	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return envelope{}, fmt.Errorf("zarinpal: decode response: %w", err)
	}
	return decoded, nil
}
