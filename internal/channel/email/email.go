// Package email provides email notification delivery via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
)

// Config holds SMTP channel configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
}

// Channel delivers email notifications over SMTP with STARTTLS.
type Channel struct {
	config Config
	auth   smtp.Auth
}

// New creates a new SMTP email channel.
// Returns error if enabled but required config is missing.
func New(config Config) (*Channel, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email channel: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email channel: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email channel configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Channel{config: config, auth: auth}, nil
}

// Supports reports whether this channel handles the given type.
func (c *Channel) Supports(t domain.ChannelType) bool {
	return t == domain.ChannelTypeEmail
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "SMTP Email Channel"
}

// Send delivers the notification to the user's email address.
func (c *Channel) Send(ctx context.Context, user *domain.User, notification *domain.Notification) channel.Result {
	if strings.TrimSpace(user.Email) == "" {
		return channel.Fail("Email failed", "User email address not provided")
	}

	if err := c.sendEmail(ctx, notification.Title, notification.Content, user.Email); err != nil {
		slog.Error("smtp send failed",
			"notification_id", notification.ID,
			"error", err,
		)
		return channel.Fail("Email failed", err.Error())
	}

	return channel.OK("Email sent successfully to " + user.Email)
}

func (c *Channel) sendEmail(ctx context.Context, subject, body, recipient string) error {
	msg := c.buildMessage(subject, body, recipient)
	addr := fmt.Sprintf("%s:%d", c.config.SMTPHost, c.config.SMTPPort)

	tlsConfig := &tls.Config{
		ServerName: c.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	return c.sendWithSTARTTLS(ctx, addr, tlsConfig, recipient, msg)
}

// buildMessage constructs the email message with headers.
func (c *Channel) buildMessage(subject, body, recipient string) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", c.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// sendWithSTARTTLS sends an email using STARTTLS (port 587).
func (c *Channel) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, recipient string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := extractEmail(c.config.FromAddress)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}
