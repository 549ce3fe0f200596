package billing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

// Standard Webhooks headers.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	secretPrefix = "whsec_"
)

var (
	// ErrInvalidSignature covers every verification failure; details are wrapped.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// StandardWebhookVerifier checks signatures in the Standard Webhooks format used by Polar.
type StandardWebhookVerifier struct {
	wh *svix.Webhook
}

// NewStandardWebhookVerifier accepts a whsec_-prefixed base64 secret, or a raw secret string.
func NewStandardWebhookVerifier(secret string) (*StandardWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil || len(key) == 0 {
		key = []byte(secret)
	}

	wh, err := svix.NewWebhookRaw(key)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	return &StandardWebhookVerifier{wh: wh}, nil
}

// Verify authenticates body against the webhook-* headers within a five minute window.
func (v *StandardWebhookVerifier) Verify(header http.Header, body []byte) error {
	if err := v.wh.Verify(body, header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Sign returns the v1 header value for body. Used by tests and local replay tooling.
func (v *StandardWebhookVerifier) Sign(id string, at time.Time, body []byte) (string, error) {
	return v.wh.Sign(id, at, body)
}
