package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/auth"
	"github.com/sakif/proservice/internal/model"
)

// ProfileReader is implemented by *service.EntitlementService.
type ProfileReader interface {
	EnsureProfile(ctx context.Context, userID, email string) (*model.Profile, error)
	Dashboard(ctx context.Context, userID, email string) (*model.Dashboard, error)
}

// ProfileHandler serves the signed-in user's entitlement. Both routes sit
// behind auth.RequireAuth.
type ProfileHandler struct {
	profiles ProfileReader
	logger   *slog.Logger
}

func NewProfileHandler(profiles ProfileReader, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// HandleProfile returns the caller's profile, creating it on first login.
//
// HTTP: GET /api/profile
func (h *ProfileHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	p, err := h.profiles.EnsureProfile(r.Context(), id.UserID, id.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDashboard returns the profile with features gated on isPro.
//
// HTTP: GET /api/dashboard
func (h *ProfileHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	d, err := h.profiles.Dashboard(r.Context(), id.UserID, id.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
