package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/logger"
)

const (
	defaultMaxRetries      = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultRequestTimeout  = 5 * time.Second
)

type webhookPayload struct {
	TokenID     uuid.UUID `json:"token_id"`
	Token       string    `json:"token"`
	AccessPath  string    `json:"access_path"`
	ValidUntil  time.Time `json:"valid_until"`
	ExamID      int64     `json:"exam_id"`
	ExamTitle   string    `json:"exam_title"`
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name"`
	Email       string    `json:"email"`
}

// WebhookSender posts notices as JSON to external delivery service
// Network errors and 5xx responses are retried with exponential backoff, 4xx are not
type WebhookSender struct {
	URL string

	MaxRetries      uint64
	InitialInterval time.Duration

	client *http.Client
	logger logger.Logger
}

func NewWebhookSender(url string, l logger.Logger) *WebhookSender {
	return &WebhookSender{
		URL:             url,
		MaxRetries:      defaultMaxRetries,
		InitialInterval: defaultInitialInterval,
		client:          &http.Client{Timeout: defaultRequestTimeout},
		logger:          l,
	}
}

func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(webhookPayload{
		TokenID:     n.TokenID,
		Token:       n.Secret,
		AccessPath:  "/api/access/" + url.PathEscape(n.Secret),
		ValidUntil:  n.ValidUntil,
		ExamID:      n.ExamID,
		ExamTitle:   n.ExamTitle,
		StudentID:   n.SubjectID,
		StudentName: n.SubjectName,
		Email:       n.Email,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.InitialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, s.MaxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.post(ctx, body)
		if err != nil {
			s.logger.Debug("Webhook attempt failed", "attempt", attempt, "error", err, "token_id", n.TokenID)
		}
		return err
	}, b)
}

func (s *WebhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook rejected notice with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
}
