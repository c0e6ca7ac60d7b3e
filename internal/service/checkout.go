// Package service holds the business rules of the subscription flow.
//
//	CheckoutHandler → CheckoutService → billing.StripeProvider
//	WebhookHandler  → WebhookService  → EventProcessor → EntitlementService → ProfileRepository
//	                                  ↘ EventRepository (append-only log)
//	Reconciler      → WebhookService.Reprocess
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/metrics"
)

// CheckoutProvider opens hosted checkout sessions. *billing.StripeProvider
// satisfies it.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.Session, error)
}

// CheckoutRequest is a verified or caller-supplied identity plus the origin
// the browser should return to.
type CheckoutRequest struct {
	UserID    string
	UserEmail string
	Origin    string
}

type CheckoutService struct {
	provider CheckoutProvider
	logger   *slog.Logger
	newKey   func() string
}

// NewCheckoutService accepts a nil provider; every call then fails with a
// configuration error without contacting anyone.
func NewCheckoutService(provider CheckoutProvider, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		provider: provider,
		logger:   logger,
		newKey:   func() string { return "checkout-" + xid.New().String() },
	}
}

// CreateSession opens a new checkout session. Each call creates a distinct
// session; callers retry by calling again.
func (s *CheckoutService) CreateSession(ctx context.Context, req CheckoutRequest) (sess *billing.Session, err error) {
	defer func() { metrics.CheckoutSessionsTotal.WithLabelValues(checkoutOutcome(err)).Inc() }()

	if s.provider == nil {
		s.logger.Error("checkout requested but billing provider is not configured",
			slog.String("missing", "STRIPE_SECRET_KEY"),
		)
		return nil, apperror.MissingConfig("STRIPE_SECRET_KEY")
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)

	if req.UserID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	if req.UserEmail == "" {
		return nil, apperror.ValidationFailed("userEmail", "userEmail is required")
	}
	if addr, perr := mail.ParseAddress(req.UserEmail); perr != nil || addr.Address != req.UserEmail {
		return nil, apperror.ValidationFailed("userEmail", "userEmail must be a valid email address")
	}

	origin, err := normalizeOrigin(req.Origin)
	if err != nil {
		return nil, err
	}

	sess, err = s.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		UserID:         req.UserID,
		Email:          req.UserEmail,
		SuccessURL:     origin + "/dashboard?success=true",
		CancelURL:      origin + "/pro?canceled=true",
		IdempotencyKey: s.newKey(),
	})
	if err != nil {
		s.logger.Error("checkout session creation failed",
			slog.String("user_id", req.UserID),
			slog.String("error", errorDetail(err)),
		)
		return nil, err
	}

	s.logger.Info("checkout session created",
		slog.String("user_id", req.UserID),
		slog.String("session_id", sess.ID),
	)
	return sess, nil
}

// normalizeOrigin accepts scheme://host[:port] and strips any path.
func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperror.ValidationFailed("origin", "request origin could not be determined")
	}
	return u.Scheme + "://" + u.Host, nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, apperror.ErrConfiguration):
		return "config_error"
	case errors.Is(err, apperror.ErrValidation):
		return "invalid"
	case errors.Is(err, apperror.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, apperror.ErrUpstream):
		return "upstream_error"
	default:
		return "error"
	}
}

// errorDetail includes an AppError's cause, which never reaches clients.
func errorDetail(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Message + ": " + appErr.Cause.Error()
	}
	return err.Error()
}
