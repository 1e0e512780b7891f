package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each event as JSON to a fixed URL. When a secret is
// set the body is signed with HMAC-SHA256 in X-Webhook-Signature. Failed
// deliveries are retried after each delay in retryDelays.
type WebhookNotifier struct {
	url         string
	secret      string
	client      *http.Client
	retryDelays []time.Duration
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
	}
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

func (n *WebhookNotifier) Publish(ctx context.Context, e Event) error {
	payload, err := encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	err = n.deliver(ctx, e, payload)
	for _, delay := range n.retryDelays {
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("deliver webhook %s: %w", e.ID, ctx.Err())
		case <-time.After(delay):
		}
		err = n.deliver(ctx, e, payload)
	}
	if err != nil {
		return fmt.Errorf("deliver webhook %s: %w", e.ID, err)
	}
	return nil
}

func (n *WebhookNotifier) deliver(ctx context.Context, e Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", e.Type)
	req.Header.Set("X-Webhook-ID", e.ID)
	req.Header.Set("X-Webhook-Timestamp", e.OccurredAt.Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) Close() error { return nil }
