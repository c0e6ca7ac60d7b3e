// Package billingtest builds provider webhook payloads for tests.
package billingtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Secret is a webhook signing secret for tests.
const Secret = "whsec_test_secret"

// Payload returns a provider event body wrapping object.
func Payload(t testing.TB, id, eventType string, created int64, object any) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created,
		"api_version": "2023-10-16",
		"livemode":    false,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("billingtest: marshal event: %v", err)
	}
	return body
}

// Sign returns the Stripe-Signature header for payload.
func Sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

// CheckoutCompleted is a checkout.session.completed object for userID.
func CheckoutCompleted(userID, email, customer string) map[string]any {
	return map[string]any{
		"id":                  "cs_test_" + userID,
		"object":              "checkout.session",
		"mode":                "subscription",
		"customer":            customer,
		"subscription":        "sub_" + userID,
		"client_reference_id": userID,
		"customer_email":      email,
		"metadata": map[string]string{
			"userId":    userID,
			"userEmail": email,
		},
	}
}

// Subscription is a customer.subscription.* object. userID may be empty to
// model subscriptions created without metadata.
func Subscription(userID, customer, status string) map[string]any {
	md := map[string]string{}
	if userID != "" {
		md["userId"] = userID
	}
	return map[string]any{
		"id":       "sub_" + customer,
		"object":   "subscription",
		"customer": customer,
		"status":   status,
		"metadata": md,
	}
}
