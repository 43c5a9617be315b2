package sms

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Gateway sends a text message to one phone number
type Gateway interface {
	SendMessage(ctx context.Context, phone, message string) error
	Name() string
}

// LogGateway writes messages to the log instead of sending them (development)
type LogGateway struct {
	logger *logrus.Logger
}

// NewLogGateway creates a gateway for SMS_MODE=dev
func NewLogGateway(logger *logrus.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// SendMessage logs the message
func (g *LogGateway) SendMessage(ctx context.Context, phone, message string) error {
	g.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"message": message,
	}).Info("SMS (dev mode, not sent)")
	return nil
}

// Name returns the name of this SMS gateway
func (g *LogGateway) Name() string {
	return "Log Gateway"
}
