// Package webhookstest builds signed provider deliveries for tests.
package webhookstest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader returns a Stripe-Signature header value for payload.
func SignatureHeader(payload []byte, secret string, ts int64) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Unix(ts, 0),
		Scheme:    "v1",
	})
	return signed.Header
}

// Event marshals an envelope around object and signs it with secret.
func Event(t testing.TB, secret, id, eventType string, created int64, object any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, SignatureHeader(payload, secret, time.Now().Unix())
}
