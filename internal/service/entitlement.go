package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/metrics"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

const (
	FreeProjectLimit = 3
	ProProjectLimit  = 15
)

var dashboardFeatures = []model.Feature{
	{Key: "project_management", Name: "Project management"},
	{Key: "basic_reports", Name: "Basic reports"},
	{Key: "email_support", Name: "Email support"},
	{Key: "fast_processing", Name: "Fast processing", ProOnly: true},
	{Key: "advanced_analytics", Name: "Advanced analytics", ProOnly: true},
	{Key: "priority_support", Name: "Priority support", ProOnly: true},
}

// EntitlementService reads profiles and is the only writer of IsPro.
type EntitlementService struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

func NewEntitlementService(profiles repository.ProfileRepository, logger *slog.Logger) *EntitlementService {
	return &EntitlementService{profiles: profiles, logger: logger}
}

func (s *EntitlementService) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, storageErr("profile lookup", err)
	}
	return p, nil
}

// EnsureProfile is the first-login path: it creates a non-pro profile when
// none exists and returns the stored one otherwise.
func (s *EntitlementService) EnsureProfile(ctx context.Context, userID, email string) (*model.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}

	p, err := s.profiles.EnsureProfile(ctx, userID, strings.TrimSpace(email))
	if err != nil {
		s.logger.Error("ensuring profile failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, storageErr("profile creation", err)
	}
	return p, nil
}

// Dashboard returns the caller's profile with features gated on IsPro.
func (s *EntitlementService) Dashboard(ctx context.Context, userID, email string) (*model.Dashboard, error) {
	p, err := s.EnsureProfile(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	d := &model.Dashboard{
		Profile:      p,
		ProjectLimit: FreeProjectLimit,
		Features:     make([]model.Feature, 0, len(dashboardFeatures)),
	}
	if p.IsPro {
		d.ProjectLimit = ProProjectLimit
	}
	for _, f := range dashboardFeatures {
		f.Unlocked = !f.ProOnly || p.IsPro
		d.Features = append(d.Features, f)
	}
	return d, nil
}

// Apply writes an entitlement transition. applied is false when a newer
// event already decided the flag.
func (s *EntitlementService) Apply(ctx context.Context, update model.EntitlementUpdate) (bool, error) {
	applied, err := s.profiles.ApplyEntitlement(ctx, update)
	if errors.Is(err, apperror.ErrValidation) {
		// Not retryable; the caller records the event as unmatched.
		return false, err
	}
	if err != nil {
		s.logger.Error("entitlement write failed",
			slog.String("user_id", update.UserID),
			slog.Bool("is_pro", update.IsPro),
			slog.String("error", err.Error()),
		)
		return false, storageErr("entitlement update", err)
	}

	direction := "revoke"
	if update.IsPro {
		direction = "grant"
	}
	if !applied {
		direction = "stale"
	}
	metrics.EntitlementTransitionsTotal.WithLabelValues(direction).Inc()

	s.logger.Info("entitlement updated",
		slog.String("user_id", update.UserID),
		slog.Bool("is_pro", update.IsPro),
		slog.Int64("version", update.Version),
		slog.Bool("applied", applied),
	)
	return applied, nil
}

// ResolveCustomer returns the user linked to a provider customer id, or ""
// when none is.
func (s *EntitlementService) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", nil
	}

	p, err := s.profiles.FindByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", nil
		}
		return "", storageErr("customer lookup", err)
	}
	return p.ID, nil
}
