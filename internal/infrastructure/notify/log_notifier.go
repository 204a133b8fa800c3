// Package notify holds notifiers that do not depend on an external platform.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
)

// ChannelName identifies log deliveries in the notification log
const ChannelName = "log"

// LogNotifier writes notifications to the structured log instead of
// delivering them. Used for local runs and deployments without Lark.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Channel implements port.Notifier
func (n *LogNotifier) Channel() string {
	return ChannelName
}

// Notify implements port.Notifier
func (n *LogNotifier) Notify(ctx context.Context, msg *port.Notification) error {
	if msg.Recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	links := make([]string, 0, len(msg.Links))
	for _, link := range msg.Links {
		links = append(links, link.Label+": "+link.URL)
	}

	n.logger.Info("Notification",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
		zap.Strings("links", links))
	return nil
}
