// Package billing talks to the payment provider (Stripe): it opens hosted
// checkout sessions and authenticates webhook deliveries.
package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/sakif/proservice/internal/apperror"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetadataUserID    = "userId"
	MetadataUserEmail = "userEmail"
)

// Plan is the recurring price offered at checkout. When PriceID is set it is
// used as-is and the inline fields are ignored.
type Plan struct {
	PriceID     string
	Name        string
	Description string
	Amount      int64 // smallest currency unit
	Currency    string
	Interval    string // day, week, month, year
}

// CheckoutParams describes one checkout session to open.
type CheckoutParams struct {
	UserID         string
	Email          string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is the part of a created checkout session callers need.
type Session struct {
	ID  string
	URL string
}

// StripeProvider creates checkout sessions through an injected API client.
// No package-level stripe.Key is ever set.
type StripeProvider struct {
	api  *client.API
	plan Plan
}

// NewStripeProvider returns a configuration error when secretKey is empty.
// backends may be nil to use Stripe's default endpoints.
func NewStripeProvider(secretKey string, plan Plan, backends *stripe.Backends) (*StripeProvider, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, apperror.MissingConfig("STRIPE_SECRET_KEY")
	}
	return &StripeProvider{
		api:  client.New(secretKey, backends),
		plan: plan,
	}, nil
}

// CreateCheckoutSession opens a subscription-mode hosted checkout for one
// user. The user id and email are attached as metadata on both the session
// and the resulting subscription so every later event can be correlated.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*Session, error) {
	metadata := map[string]string{
		MetadataUserID:    in.UserID,
		MetadataUserEmail: in.Email,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(in.SuccessURL),
		CancelURL:          stripe.String(in.CancelURL),
		ClientReferenceID:  stripe.String(in.UserID),
		CustomerEmail:      stripe.String(in.Email),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{p.lineItem()},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyError(err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, apperror.Upstream("payment provider returned a session without a redirect URL", nil)
	}

	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) lineItem() *stripe.CheckoutSessionLineItemParams {
	if p.plan.PriceID != "" {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(p.plan.PriceID),
			Quantity: stripe.Int64(1),
		}
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(p.plan.Name),
	}
	if p.plan.Description != "" {
		product.Description = stripe.String(p.plan.Description)
	}

	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(p.plan.Currency),
			ProductData: product,
			UnitAmount:  stripe.Int64(p.plan.Amount),
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(p.plan.Interval),
			},
		},
		Quantity: stripe.Int64(1),
	}
}

// classifyError separates requests Stripe refused (the message is safe to
// show) from failures to reach Stripe at all.
func classifyError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 500 {
			return apperror.Upstream("payment provider is unavailable", err)
		}
		msg := se.Msg
		if msg == "" {
			msg = string(se.Type)
		}
		return apperror.ProviderRejected(msg, err)
	}
	return apperror.Upstream("could not reach payment provider", err)
}
