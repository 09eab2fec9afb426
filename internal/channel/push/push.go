// Package push provides push notification delivery via an HTTP push gateway.
package push

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
)

// Config holds push gateway configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	APIKey     string
}

// Channel delivers push notifications through an HTTP push gateway.
type Channel struct {
	config Config
	client *http.Client
}

// New creates a new push gateway channel.
// Returns error if enabled but required config is missing.
func New(config Config) (*Channel, error) {
	if config.Enabled && config.GatewayURL == "" {
		return nil, errors.New("push channel: gateway URL is required when enabled")
	}

	slog.Info("push channel configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
	)

	return &Channel{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Supports reports whether this channel handles the given type.
func (c *Channel) Supports(t domain.ChannelType) bool {
	return t == domain.ChannelTypePush
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return domain.ChannelTypePush
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "Gateway Push Channel"
}

type pushPayload struct {
	Token    string            `json:"token"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority string            `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

// Send delivers the notification to the user's registered device.
func (c *Channel) Send(ctx context.Context, user *domain.User, notification *domain.Notification) channel.Result {
	if strings.TrimSpace(user.DeviceToken) == "" {
		return channel.Fail("Push failed", "User device token not provided")
	}

	if err := c.post(ctx, user.DeviceToken, notification); err != nil {
		slog.Error("push gateway send failed",
			"notification_id", notification.ID,
			"error", err,
		)
		return channel.Fail("Push failed", err.Error())
	}

	return channel.OK("Push notification sent successfully to device " + user.DeviceToken)
}

func (c *Channel) post(ctx context.Context, token string, notification *domain.Notification) error {
	payload := pushPayload{
		Token:    token,
		Title:    notification.Title,
		Body:     notification.Content,
		Priority: string(notification.Priority),
		Data:     notification.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "key="+c.config.APIKey)
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
