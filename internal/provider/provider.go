// Package provider talks to the external identity enrichment service.
// Dispatch returns an opaque job handle; completion arrives later as a
// webhook event correlated by that handle.
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/sells-group/enrich-cli/internal/model"
)

// DispatchRequest carries the subscriber's known identity fields.
type DispatchRequest struct {
	SubscriberID string         `json:"subscriber_id"`
	OrgID        string         `json:"org_id"`
	Email        string         `json:"email"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// Client dispatches enrichment requests to the provider.
type Client interface {
	// Dispatch sends the subscriber's fields and returns the provider's
	// opaque job handle.
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
}

// EventStatus is the outcome reported by a provider webhook.
type EventStatus string

const (
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
)

// WebhookEvent is the provider's completion callback payload. Delivery is
// at-least-once; handlers must tolerate replays and out-of-order arrival.
type WebhookEvent struct {
	Handle      string           `json:"handle"`
	Status      EventStatus      `json:"status"`
	Attributes  model.Enrichment `json:"attributes"`
	CreditsUsed int              `json:"credits_used"`
	Reason      string           `json:"reason,omitempty"`
}

// VerifySignature checks the hex-encoded HMAC-SHA256 signature of a webhook
// body. Callers log the verdict and drop invalid deliveries; an empty
// configured secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
