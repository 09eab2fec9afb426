// Package sms provides SMS notification delivery via an HTTP carrier gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
	"golang.org/x/time/rate"
)

// Config holds SMS gateway configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	APIKey     string
	FromNumber string
	// RateLimit is the maximum messages per second sent to the gateway.
	// Zero means no client-side limit.
	RateLimit float64
}

// Channel delivers SMS notifications through a carrier HTTP gateway.
type Channel struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a new SMS gateway channel.
// Returns error if enabled but required config is missing.
func New(config Config) (*Channel, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("sms channel: gateway URL is required when enabled")
		}
		if config.FromNumber == "" {
			return nil, errors.New("sms channel: from number is required when enabled")
		}
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	slog.Info("sms channel configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
		"rate_limit", config.RateLimit,
	)

	return &Channel{
		config:  config,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Supports reports whether this channel handles the given type.
func (c *Channel) Supports(t domain.ChannelType) bool {
	return t == domain.ChannelTypeSMS
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "Gateway SMS Channel"
}

type gatewayRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers the notification to the user's phone number.
func (c *Channel) Send(ctx context.Context, user *domain.User, notification *domain.Notification) channel.Result {
	if strings.TrimSpace(user.PhoneNumber) == "" {
		return channel.Fail("SMS failed", "User phone number not provided")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return channel.Fail("SMS failed", "rate limit wait cancelled: "+err.Error())
	}

	if err := c.post(ctx, user.PhoneNumber, notification); err != nil {
		slog.Error("sms gateway send failed",
			"notification_id", notification.ID,
			"error", err,
		)
		return channel.Fail("SMS failed", err.Error())
	}

	return channel.OK("SMS sent successfully to " + user.PhoneNumber)
}

func (c *Channel) post(ctx context.Context, to string, notification *domain.Notification) error {
	payload := gatewayRequest{
		From: c.config.FromNumber,
		To:   to,
		Body: notification.Title + "\n" + notification.Content,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	return nil
}
