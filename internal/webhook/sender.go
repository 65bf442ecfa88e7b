package webhook

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

// SignatureHeader carries the HMAC-SHA256 of the request body, hex encoded
// with a "sha256=" prefix, when the subscription has a secret configured.
const SignatureHeader = "X-Webhook-Signature"

// Sender performs one delivery attempt. It returns the HTTP status code
// when a response was received; a transport-level failure returns an error.
// Implementations are injected so retry behavior is testable without a
// real network.
type Sender interface {
	Send(ctx context.Context, url, secret string, body []byte) (int, error)
}

// httpSender is the production Sender: a JSON POST with a bounded timeout.
type httpSender struct {
	client *http.Client
}

// NewHTTPSender creates a Sender backed by net/http with the given
// per-attempt timeout.
func NewHTTPSender(timeout time.Duration) Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpSender{client: &http.Client{Timeout: timeout}}
}

func (s *httpSender) Send(ctx context.Context, url, secret string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, sign(body, secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
	return resp.StatusCode, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
