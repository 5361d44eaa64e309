package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs emails to zap instead of delivering them.
// Use in development or when no provider is configured.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the email and returns nil.
func (n *NoopSender) Send(_ context.Context, msg Message) error {
	n.logger.Info("email (noop, not sent)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
		zap.String("body", msg.Text),
	)
	return nil
}
