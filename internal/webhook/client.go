package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/wardrobeflow/internal/retry"
)

const (
	HeaderSignature = "X-Wardrobe-Signature"
	HeaderTimestamp = "X-Wardrobe-Timestamp"
	HeaderEvent     = "X-Wardrobe-Event"

	EventIngestCompleted = "ingest.completed"
	EventAvatarUpdated   = "avatar.updated"
	EventAvatarDeleted   = "avatar.deleted"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient    *http.Client
	signingSecret string
	policy        retry.Policy
	now           func() time.Time
}

// statusError is a non-2xx reply; 4xx other than 429 is not retried.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status=%d", e.code)
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = max(1, cfg.MaxAttempts)
	if cfg.InitialBackoff > 0 {
		policy.InitialDelay = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxDelay = cfg.MaxBackoff
	}
	policy.Jitter = 0
	policy.ShouldRetry = retryable

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signingSecret: cfg.SigningSecret,
		policy:        policy,
		now:           time.Now,
	}
}

// Send posts payload as JSON to endpoint. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	attempts := 0
	err = retry.Run(ctx, c.policy, func(ctx context.Context) error {
		attempts++
		return c.post(ctx, endpoint, event, timestamp, signature, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the signature header value for a timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}
