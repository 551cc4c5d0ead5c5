package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultSMSTimeout = 15 * time.Second

// SMSGateway sends passcodes through an HTTP SMS provider that accepts
// {"route":"otp","numbers":...,"variables":...} JSON bodies.
type SMSGateway struct {
	URL     string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

// NewSMSGateway returns a gateway client.
func NewSMSGateway(url, apiKey, sender string) *SMSGateway {
	return &SMSGateway{URL: url, APIKey: apiKey, Sender: sender, Timeout: defaultSMSTimeout}
}

type smsRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Send posts the passcode to the provider. destination is sent as digits only.
func (g *SMSGateway) Send(ctx context.Context, destination, code string) (DeliveryResult, error) {
	res := DeliveryResult{Channel: ChannelSMS}
	if g.APIKey == "" {
		return res, fmt.Errorf("sms: API key not configured")
	}

	timeout := g.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return res, fmt.Errorf("sms: %w", context.DeadlineExceeded)
	}

	agent := fiber.Post(g.URL)
	agent.Set(fiber.HeaderAuthorization, g.APIKey)
	agent.JSON(smsRequest{Route: "otp", Numbers: digitsOnly(destination), Variables: code, SenderID: g.Sender})
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return res, fmt.Errorf("sms: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return res, fmt.Errorf("sms: %w", errs[0])
	}
	if status != fiber.StatusOK {
		res.Detail = fmt.Sprintf("status=%d", status)
		return res, fmt.Errorf("sms: request failed status=%d body=%s", status, string(body))
	}
	res.Delivered = true
	return res, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
