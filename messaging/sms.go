package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SMSConfig carries webhook gateway settings.
type SMSConfig struct {
	// URL receives a JSON POST per message.
	URL string
	// BearerToken is sent as the Authorization header when non-empty.
	BearerToken string
	// Timeout bounds each delivery attempt. Default 10 seconds.
	Timeout time.Duration
}

// WebhookSender delivers one-time codes by POSTing to an SMS gateway
// webhook. The gateway owns carrier integration; this side only reports
// delivery acceptance.
type WebhookSender struct {
	cfg    SMSConfig
	client *http.Client
	log    *zap.Logger
}

// NewWebhookSender validates the config and builds the sender.
func NewWebhookSender(cfg SMSConfig, log *zap.Logger) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendOTPSMS posts the code to the gateway. Any non-2xx response is a
// delivery failure.
func (s *WebhookSender) SendOTPSMS(ctx context.Context, phone, code string, validity time.Duration) error {
	body, err := json.Marshal(smsPayload{
		To:      phone,
		Message: fmt.Sprintf("Your verification code is %s. It expires in %s.", code, formatValidity(validity)),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("otp sms send failed", zap.String("to", phone), zap.Error(err))
		return fmt.Errorf("send otp sms: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn("otp sms gateway rejection", zap.String("to", phone), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("send otp sms: gateway returned %d", resp.StatusCode)
	}
	s.log.Debug("otp sms sent", zap.String("to", phone))
	return nil
}
