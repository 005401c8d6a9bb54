package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/sanitize"
)

// DefaultResendURL is the Resend send-email endpoint.
const DefaultResendURL = "https://api.resend.com/emails"

// Email is one outbound message.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	// APIKey is the widget's own provider key. Transports that authenticate
	// with server credentials ignore it.
	APIKey string
}

// Mailer sends a single email. There is no retry at this layer.
type Mailer interface {
	Send(ctx context.Context, email Email) error
	// UsesWidgetKey reports whether Send needs Email.APIKey.
	UsesWidgetKey() bool
}

// ResendMailer sends email through the Resend HTTP API.
type ResendMailer struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewResendMailer creates a Resend mailer. An empty url uses DefaultResendURL.
func NewResendMailer(url string, timeout time.Duration, logger *zap.Logger) *ResendMailer {
	if url == "" {
		url = DefaultResendURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResendMailer{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("resend"),
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// UsesWidgetKey implements Mailer.
func (m *ResendMailer) UsesWidgetKey() bool {
	return true
}

// Send implements Mailer.
func (m *ResendMailer) Send(ctx context.Context, email Email) error {
	if email.APIKey == "" {
		return ErrNoAPIKey
	}

	body, err := json.Marshal(resendRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		HTML:    email.HTML,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+email.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.logger.Warn("resend rejected email",
			zap.Int("status", resp.StatusCode),
			zap.String("to", sanitize.Email(email.To)),
			zap.String("response", string(detail)),
		)
		return &StatusError{Target: "resend", StatusCode: resp.StatusCode}
	}
	return nil
}
