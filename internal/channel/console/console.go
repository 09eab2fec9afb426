// Package console provides local fallback channels that write notifications
// to a writer instead of an external provider. They register at a lower
// priority than the real providers and keep delivery working in development
// and in environments without provider credentials.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Channel writes notifications for one channel type to a writer.
type Channel struct {
	channelType domain.ChannelType

	mu  sync.Mutex
	out io.Writer
}

// New creates a console channel for the given type, writing to stdout.
func New(channelType domain.ChannelType) *Channel {
	return &Channel{channelType: channelType, out: os.Stdout}
}

// NewWithWriter creates a console channel writing to the given writer.
func NewWithWriter(channelType domain.ChannelType, out io.Writer) *Channel {
	return &Channel{channelType: channelType, out: out}
}

// Supports reports whether this channel handles the given type.
func (c *Channel) Supports(t domain.ChannelType) bool {
	return t == c.channelType
}

// Type returns the channel type.
func (c *Channel) Type() domain.ChannelType {
	return c.channelType
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return fmt.Sprintf("Console %s Channel", titleCaser.String(string(c.channelType)))
}

// Send writes the notification to the configured writer. Contact detail
// checks mirror the real providers so fallback behavior matches.
func (c *Channel) Send(_ context.Context, user *domain.User, notification *domain.Notification) channel.Result {
	target, result := c.target(user)
	if !result.Success {
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	divider := strings.Repeat("=", 60)
	fmt.Fprintf(c.out, "\n%s\n%s NOTIFICATION\n%s\n", divider, strings.ToUpper(string(c.channelType)), divider)
	fmt.Fprintf(c.out, "To: %s\n", target)
	fmt.Fprintf(c.out, "Priority: %s\n", notification.Priority)
	fmt.Fprintf(c.out, "Sent At: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(c.out, "\n%s\n%s\n", notification.Title, notification.Content)
	if len(notification.Metadata) > 0 {
		fmt.Fprintf(c.out, "\nMetadata: %v\n", notification.Metadata)
	}
	fmt.Fprintf(c.out, "%s\n", divider)

	return channel.OK(fmt.Sprintf("%s sent successfully to %s", titleCaser.String(string(c.channelType)), target))
}

func (c *Channel) target(user *domain.User) (string, channel.Result) {
	switch c.channelType {
	case domain.ChannelTypeEmail:
		if strings.TrimSpace(user.Email) == "" {
			return "", channel.Fail("Email failed", "User email address not provided")
		}
		return user.Email, channel.OK("")
	case domain.ChannelTypeSMS:
		if strings.TrimSpace(user.PhoneNumber) == "" {
			return "", channel.Fail("SMS failed", "User phone number not provided")
		}
		return user.PhoneNumber, channel.OK("")
	case domain.ChannelTypePush:
		if strings.TrimSpace(user.DeviceToken) == "" {
			return "", channel.Fail("Push failed", "User device token not provided")
		}
		return user.DeviceToken, channel.OK("")
	default:
		return "", channel.Fail("Unsupported channel type", string(c.channelType))
	}
}
