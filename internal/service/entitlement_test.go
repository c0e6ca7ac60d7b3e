package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/model"
)

func TestEnsureProfile_CreatesOnce(t *testing.T) {
	repo := newFakeProfiles()
	svc := NewEntitlementService(repo, testLogger())

	p, err := svc.EnsureProfile(context.Background(), "u1", "u1@example.com")
	require.NoError(t, err)
	assert.False(t, p.IsPro)

	_, err = svc.Apply(context.Background(), model.EntitlementUpdate{UserID: "u1", IsPro: true, Version: 10})
	require.NoError(t, err)

	// A later first-login call must not reset the flag.
	p, err = svc.EnsureProfile(context.Background(), "u1", "other@example.com")
	require.NoError(t, err)
	assert.True(t, p.IsPro)
	assert.Equal(t, "u1@example.com", p.Email)
}

func TestGetProfile(t *testing.T) {
	svc := NewEntitlementService(newFakeProfiles(), testLogger())

	_, err := svc.GetProfile(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = svc.GetProfile(context.Background(), " ")
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestDashboard_Gating(t *testing.T) {
	repo := newFakeProfiles()
	svc := NewEntitlementService(repo, testLogger())
	ctx := context.Background()

	d, err := svc.Dashboard(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, FreeProjectLimit, d.ProjectLimit)
	for _, f := range d.Features {
		assert.Equal(t, !f.ProOnly, f.Unlocked, f.Key)
	}

	_, err = svc.Apply(ctx, model.EntitlementUpdate{UserID: "u1", IsPro: true, Version: 1})
	require.NoError(t, err)

	d, err = svc.Dashboard(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, ProProjectLimit, d.ProjectLimit)
	for _, f := range d.Features {
		assert.True(t, f.Unlocked, f.Key)
	}
}

func TestApply_StaleUpdateDiscarded(t *testing.T) {
	repo := newFakeProfiles()
	svc := NewEntitlementService(repo, testLogger())
	ctx := context.Background()

	applied, err := svc.Apply(ctx, model.EntitlementUpdate{UserID: "u1", IsPro: false, Version: 200})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Apply(ctx, model.EntitlementUpdate{UserID: "u1", IsPro: true, Version: 100})
	require.NoError(t, err)
	assert.False(t, applied)

	p, _ := repo.get("u1")
	assert.False(t, p.IsPro)
}

func TestApply_StorageFailure(t *testing.T) {
	repo := newFakeProfiles()
	repo.applyErr = errors.New("disk full")
	svc := NewEntitlementService(repo, testLogger())

	_, err := svc.Apply(context.Background(), model.EntitlementUpdate{UserID: "u1", IsPro: true, Version: 1})
	assert.True(t, errors.Is(err, apperror.ErrStorage))
	assert.NotContains(t, err.Error(), "disk full")
}

func TestApply_RejectedUpdateIsNotStorageError(t *testing.T) {
	repo := newFakeProfiles()
	repo.applyErr = &apperror.AppError{
		Err:     apperror.ErrValidation,
		Message: "entitlement store rejected applying entitlement for not-a-uuid",
		Field:   "userId",
		Cause:   errors.New("(22P02) invalid input syntax for type uuid"),
	}
	svc := NewEntitlementService(repo, testLogger())

	_, err := svc.Apply(context.Background(), model.EntitlementUpdate{UserID: "not-a-uuid", IsPro: true, Version: 1})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.False(t, errors.Is(err, apperror.ErrStorage))
}

func TestResolveCustomer(t *testing.T) {
	repo := newFakeProfiles()
	svc := NewEntitlementService(repo, testLogger())
	ctx := context.Background()

	_, err := svc.Apply(ctx, model.EntitlementUpdate{UserID: "u1", IsPro: true, Version: 1, CustomerID: "cus_1"})
	require.NoError(t, err)

	id, err := svc.ResolveCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = svc.ResolveCustomer(ctx, "cus_unknown")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = svc.ResolveCustomer(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, id)
}
