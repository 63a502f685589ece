package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"sphyra/internal/types"
)

// Gateway failure messages surfaced to operators through the reminder audit
// trail.
const (
	MsgGatewayNotConfigured = "SMS gateway not configured. Please set SMS_GATEWAY_URL and SMS_GATEWAY_USERNAME / SMS_GATEWAY_PASSWORD"
	MsgGatewayTimeout       = "Gateway timeout - smartphone might be offline or unreachable"
	MsgGatewayRefused       = "Cannot connect to SMS gateway - check if smartphone app is running and URL is correct"
	MsgGatewayUnreachable   = "SMS gateway unreachable - check network connection and smartphone"
	MsgGatewayHostNotFound  = "SMS gateway URL not found - check SMS_GATEWAY_URL configuration"
)

const gatewayPingTimeout = 5 * time.Second

// SMSGatewayConfig configures the self-hosted Android SMS gateway client
// (capcom6/android-sms-gateway compatible API).
type SMSGatewayConfig struct {
	URL      string
	Username string
	Password string
	// Timeout bounds each individual attempt, not the whole retry sequence.
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// SMSGatewayClient sends SMS through a smartphone running an HTTP gateway app.
type SMSGatewayClient struct {
	base     *BaseClient
	ping     *http.Client
	url      string
	username string
	password string
	logger   *slog.Logger
	now      func() time.Time
}

// NewSMSGatewayClient builds a gateway client. Extra options are forwarded to
// the underlying BaseClient.
func NewSMSGatewayClient(cfg SMSGatewayConfig, opts ...BaseClientOption) *SMSGatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := cfg.Retry
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}

	httpClient := &http.Client{Timeout: timeout}
	return &SMSGatewayClient{
		base:     NewBaseClient(httpClient, "sms-gateway", policy, defaultUserAgent, opts...),
		ping:     &http.Client{Timeout: gatewayPingTimeout},
		url:      strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
		now:      time.Now,
	}
}

// Name implements SMSProvider.
func (c *SMSGatewayClient) Name() string { return "gateway" }

// Configured reports whether URL and credentials are present.
func (c *SMSGatewayClient) Configured() bool {
	return c.url != "" && c.username != "" && c.password != ""
}

type gatewaySendRequest struct {
	PhoneNumbers []string `json:"phoneNumbers"`
	Message      string   `json:"message"`
}

type gatewaySendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

// Send posts the message to <url>/message. Timeouts, refused or reset
// connections, 5xx and 429 are retried according to the configured policy;
// 4xx responses and unknown hosts fail immediately.
func (c *SMSGatewayClient) Send(ctx context.Context, phoneE164, text string) (string, error) {
	if !c.Configured() {
		return "", types.NewAppError(types.ErrCodeInternalChannelMissing, MsgGatewayNotConfigured, nil)
	}

	body, err := json.Marshal(gatewaySendRequest{PhoneNumbers: []string{phoneE164}, Message: text})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal gateway payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/message", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeChannelPermanentFailure, MsgGatewayHostNotFound, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", ClassifyGatewayError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", types.NewAppError(
			types.ErrCodeChannelPermanentFailure,
			fmt.Sprintf("Gateway error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			nil,
		)
	}

	// Some gateway apps answer with plain text; only a JSON id is used.
	raw, _ := io.ReadAll(resp.Body)
	var parsed gatewaySendResponse
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.ID != "" {
			return parsed.ID, nil
		}
		if parsed.MessageID != "" {
			return parsed.MessageID, nil
		}
	}
	return fmt.Sprintf("gateway-%d", c.now().UnixMilli()), nil
}

// Ping checks that the gateway answers HTTP at all. Any status code counts as
// reachable.
func (c *SMSGatewayClient) Ping(ctx context.Context) error {
	if !c.Configured() {
		return errors.New("SMS gateway not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayPingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.ping.Do(req)
	if err != nil {
		if IsTimeout(err) {
			return errors.New("Gateway timeout")
		}
		return errors.New(ClassifyGatewayError(err).Message)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.logger.Warn("sms gateway responded with non-2xx status", "status", resp.StatusCode)
	}
	return nil
}

// ClassifyGatewayError turns a transport failure into an AppError with an
// actionable message. Timeouts and connection problems are transient;
// unknown hosts are permanent.
func ClassifyGatewayError(err error) *types.AppError {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return types.NewAppError(types.ErrCodeChannelPermanentFailure, MsgGatewayHostNotFound, err)
	case IsTimeout(err):
		return types.NewAppError(types.ErrCodeChannelTransientFailure, MsgGatewayTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return types.NewAppError(types.ErrCodeChannelTransientFailure, MsgGatewayRefused, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return types.NewAppError(types.ErrCodeChannelTransientFailure, MsgGatewayUnreachable, err)
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeUpstreamUnavailable, types.ErrCodeUpstreamRateLimited:
			return types.NewAppError(types.ErrCodeChannelTransientFailure, "SMS gateway unavailable: "+appErr.Message, err)
		}
	}
	return types.NewAppError(types.ErrCodeChannelPermanentFailure, err.Error(), err)
}

var (
	_ SMSProvider = (*SMSGatewayClient)(nil)
	_ Pinger      = (*SMSGatewayClient)(nil)
)
