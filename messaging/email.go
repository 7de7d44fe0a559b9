// Package messaging implements one-time-code delivery over email (Resend)
// and SMS (an HTTP webhook gateway). Both senders satisfy the stepauth
// sender interfaces without importing it.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when a sender is constructed without its
// required settings.
var ErrNotConfigured = errors.New("messaging: sender not configured")

// EmailConfig carries Resend settings.
type EmailConfig struct {
	APIKey   string
	From     string
	FromName string
	// Subject overrides the default message subject when non-empty.
	Subject string
}

// ResendSender delivers one-time codes through the Resend API.
type ResendSender struct {
	client *resend.Client
	cfg    EmailConfig
	log    *zap.Logger
}

// NewResendSender validates the config and builds the sender.
func NewResendSender(cfg EmailConfig, log *zap.Logger) (*ResendSender, error) {
	if cfg.APIKey == "" || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ResendSender{
		client: resend.NewClient(cfg.APIKey),
		cfg:    cfg,
		log:    log,
	}, nil
}

// SendOTPEmail delivers the code with its validity window spelled out.
func (s *ResendSender) SendOTPEmail(ctx context.Context, to, code string, validity time.Duration) error {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: s.cfg.Subject,
		Html:    otpEmailBody(code, validity),
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %s.", code, formatValidity(validity)),
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		s.log.Warn("otp email send failed", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send otp email: %w", err)
	}
	s.log.Debug("otp email sent", zap.String("to", to), zap.String("id", sent.Id))
	return nil
}

func otpEmailBody(code string, validity time.Duration) string {
	return fmt.Sprintf(`<div style="font-family:sans-serif">
<p>Your verification code is:</p>
<p style="font-size:28px;letter-spacing:4px;font-weight:bold">%s</p>
<p>It expires in %s. If you did not request this code, you can ignore this message.</p>
</div>`, code, formatValidity(validity))
}

func formatValidity(validity time.Duration) string {
	if validity >= time.Minute && validity%time.Minute == 0 {
		m := int(validity / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return validity.String()
}
