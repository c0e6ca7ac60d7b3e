package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/auth"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/service"
)

const checkoutBodyLimit = 64 << 10

// CheckoutCreator is implemented by *service.CheckoutService.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, req service.CheckoutRequest) (*billing.Session, error)
}

// CheckoutHandler opens checkout sessions.
//
// With requireIdentity set, the caller must present a verified access token
// and the user id and email come from it. Body fields are then optional and,
// when present, must agree with the token. Without it, the body is the only
// source of identity.
type CheckoutHandler struct {
	checkout        CheckoutCreator
	publicURL       string
	requireIdentity bool
	logger          *slog.Logger
}

func NewCheckoutHandler(checkout CheckoutCreator, publicURL string, requireIdentity bool, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout:        checkout,
		publicURL:       strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		requireIdentity: requireIdentity,
		logger:          logger,
	}
}

type checkoutRequest struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// HandleCreate opens a hosted checkout session.
//
// HTTP: POST /api/create-checkout-session
// REQUEST BODY: {"userId": "...", "userEmail": "..."}
// RESPONSE: {"url": "https://checkout.stripe.com/..."}
func (h *CheckoutHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, checkoutBodyLimit))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid checkout JSON", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "request body must be a JSON object"))
		return
	}

	req, err := h.resolveIdentity(r, body)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Origin = h.origin(r)

	sess, err := h.checkout.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{URL: sess.URL})
}

func (h *CheckoutHandler) resolveIdentity(r *http.Request, body checkoutRequest) (service.CheckoutRequest, error) {
	body.UserID = strings.TrimSpace(body.UserID)
	body.UserEmail = strings.TrimSpace(body.UserEmail)

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		if h.requireIdentity {
			return service.CheckoutRequest{}, apperror.Unauthorized("valid authentication required")
		}
		return service.CheckoutRequest{UserID: body.UserID, UserEmail: body.UserEmail}, nil
	}

	if body.UserID != "" && body.UserID != id.UserID {
		h.logger.Warn("checkout body user does not match token",
			slog.String("token_user", id.UserID),
			slog.String("body_user", body.UserID),
		)
		return service.CheckoutRequest{}, apperror.Forbidden("userId does not match the signed-in user")
	}

	email := id.Email
	if email == "" {
		email = body.UserEmail
	} else if body.UserEmail != "" && !strings.EqualFold(body.UserEmail, email) {
		return service.CheckoutRequest{}, apperror.Forbidden("userEmail does not match the signed-in user")
	}

	return service.CheckoutRequest{UserID: id.UserID, UserEmail: email}, nil
}

// origin is the configured public URL, or the scheme and host the request
// arrived on.
func (h *CheckoutHandler) origin(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "https" || p == "http" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
