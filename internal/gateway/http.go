package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/protocol"
	"github.com/Dhruv712/sms-spaced-repetition-sub000/internal/reliability"
)

const (
	defaultSendTimeout = 10 * time.Second
	maxSendAttempts    = 3
	sendBackoffBase    = 200 * time.Millisecond
	sendBackoffCap     = 2 * time.Second
)

// HTTPSender posts outbound messages to the provider's REST endpoint.
// Retryable provider statuses are retried a bounded number of times
// with exponential backoff.
type HTTPSender struct {
	url    string
	token  string
	from   string
	client *http.Client
}

func NewHTTPSender(cfg Config) (*HTTPSender, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("gateway URL is required for http mode")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &HTTPSender{
		url:    url,
		token:  strings.TrimSpace(cfg.Token),
		from:   strings.TrimSpace(cfg.From),
		client: &http.Client{Timeout: timeout},
	}, nil
}

type sendCommand struct {
	To    string `json:"to"`
	From  string `json:"from,omitempty"`
	Body  string `json:"body"`
	Token string `json:"token,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, recipient, text, token string) (Receipt, error) {
	payload, err := json.Marshal(sendCommand{
		To:    recipient,
		From:  s.from,
		Body:  text,
		Token: token,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal send command: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Receipt{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, sendBackoffBase, sendBackoffCap)):
			}
		}

		receipt, retryable, err := s.sendOnce(ctx, payload)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Receipt{}, lastErr
}

func (s *HTTPSender) sendOnce(ctx context.Context, payload []byte) (Receipt, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, false, fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, true, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Receipt{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("%w: provider status %d: %s", ErrSendFailed, res.StatusCode, string(body))
	}

	var result protocol.SendResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return Receipt{}, false, fmt.Errorf("%w: decode provider response: %v", ErrSendFailed, err)
	}
	receipt, err := resultToReceipt(result)
	return receipt, false, err
}
