// Package notification delivers one-time passcodes to users.
package notification

import (
	"context"
	"log/slog"
	"strings"
)

const (
	ChannelLog = "log"
	ChannelSMS = "sms"
)

// DeliveryResult describes what happened to a send.
type DeliveryResult struct {
	Channel   string
	Delivered bool
	Detail    string
}

// Sender delivers a passcode to a destination (a phone number). A returned
// error means the code did not reach the provider; it never invalidates the
// challenge the code belongs to.
type Sender interface {
	Send(ctx context.Context, destination, code string) (DeliveryResult, error)
}

// LoggerSender is a development sender that records deliveries in the log
// instead of contacting a provider.
type LoggerSender struct {
	logger *slog.Logger
}

// NewLoggerSender constructs a logging sender.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
	return &LoggerSender{logger: logger}
}

// Send writes the delivery to the structured logger. The code is masked.
func (n *LoggerSender) Send(_ context.Context, destination, code string) (DeliveryResult, error) {
	if n != nil && n.logger != nil {
		n.logger.Info("otp delivery", "channel", ChannelLog, "destination", MaskDestination(destination), "code", maskCode(code))
	}
	return DeliveryResult{Channel: ChannelLog, Delivered: true}, nil
}

// MaskDestination keeps the last three characters of a phone number.
func MaskDestination(destination string) string {
	if len(destination) <= 3 {
		return strings.Repeat("*", len(destination))
	}
	return strings.Repeat("*", len(destination)-3) + destination[len(destination)-3:]
}

func maskCode(code string) string {
	return strings.Repeat("*", len(code))
}
