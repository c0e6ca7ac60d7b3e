package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sakif/proservice/internal/apperror"
)

// SignatureHeader carries the provider's HMAC signature of the raw body.
const SignatureHeader = "Stripe-Signature"

// Event types the entitlement flow acts on.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is a verified provider notification.
type Event struct {
	ID      string
	Type    string
	Created int64 // unix seconds, used as the entitlement version
	Object  json.RawMessage
}

// Verifier authenticates webhook payloads with the endpoint signing secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

// Configured reports whether a signing secret is present.
func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Verify checks the signature and timestamp tolerance of payload and returns
// the decoded event. The payload must be the raw, unmodified request body.
func (v *Verifier) Verify(payload []byte, signature string) (*Event, error) {
	if !v.Configured() {
		return nil, apperror.MissingConfig("STRIPE_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(signature) == "" {
		return nil, apperror.Authenticity("missing "+SignatureHeader+" header", nil)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperror.Authenticity("webhook signature verification failed", err)
	}

	return fromStripe(&ev)
}

// DecodeEvent parses a payload that was verified when it was first received,
// e.g. one read back from the event log.
func DecodeEvent(payload []byte) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("billing: decoding stored event: %w", err)
	}
	return fromStripe(&ev)
}

func fromStripe(ev *stripe.Event) (*Event, error) {
	if ev.ID == "" || ev.Type == "" {
		return nil, apperror.Authenticity("webhook event has no id or type", nil)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type), Created: ev.Created}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}

// CheckoutSession is the subset of a checkout.session object we read.
type CheckoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// UserID prefers the metadata written at session creation and falls back to
// client_reference_id.
func (s *CheckoutSession) UserID() string {
	if id := strings.TrimSpace(s.Metadata[MetadataUserID]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

func (s *CheckoutSession) Email() string {
	for _, e := range []string{s.Metadata[MetadataUserEmail], s.CustomerEmail, s.CustomerDetails.Email} {
		if e = strings.TrimSpace(e); e != "" {
			return e
		}
	}
	return ""
}

// Subscription is the subset of a subscription object we read.
type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Subscription) UserID() string {
	return strings.TrimSpace(s.Metadata[MetadataUserID])
}

func (s *Subscription) Email() string {
	return strings.TrimSpace(s.Metadata[MetadataUserEmail])
}

// DecodeCheckoutSession decodes the object of a checkout.session.* event.
func (e *Event) DecodeCheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("billing: decoding checkout session: %w", err)
	}
	return &s, nil
}

// DecodeSubscription decodes the object of a customer.subscription.* event.
func (e *Event) DecodeSubscription() (*Subscription, error) {
	var s Subscription
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("billing: decoding subscription: %w", err)
	}
	return &s, nil
}
