// Package repository declares the storage contracts the service layer
// depends on. Implementations live in sub-packages (sqlite, supabase).
package repository

import (
	"context"

	"github.com/sakif/proservice/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ProfileRepository is the entitlement store.
//
// Every write is keyed on the user id and is a single atomic statement, so the
// first-login path (EnsureProfile) and the webhook path (ApplyEntitlement) can
// race on the same row without either one failing or clobbering the other.
type ProfileRepository interface {
	// GetProfile returns apperror.ErrNotFound when no row exists.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// EnsureProfile inserts a non-pro row if none exists and returns the
	// stored row. It never changes IsPro on an existing row.
	EnsureProfile(ctx context.Context, userID, email string) (*model.Profile, error)

	// ApplyEntitlement upserts IsPro when update.Version is not older than the
	// stored version. applied is false when the update was stale.
	ApplyEntitlement(ctx context.Context, update model.EntitlementUpdate) (applied bool, err error)

	// FindByCustomerID returns apperror.ErrNotFound when no profile is linked
	// to the provider customer.
	FindByCustomerID(ctx context.Context, customerID string) (*model.Profile, error)
}

// EventRepository is the append-only billing event log.
type EventRepository interface {
	// Append stores the event unless one with the same id exists, in which
	// case the stored record is returned and nothing is written.
	Append(ctx context.Context, event *model.BillingEvent) (existing *model.BillingEvent, err error)

	Get(ctx context.Context, id string) (*model.BillingEvent, error)

	// SetStatus records the outcome of a processing attempt.
	SetStatus(ctx context.Context, id string, status model.EventStatus, userID, note string) error

	ListByStatus(ctx context.Context, statuses []model.EventStatus, opts ListOptions) ([]model.BillingEvent, error)
}
