package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =========================================================================
// FAKE PROFILE REPOSITORY
// =========================================================================
//
// fakeProfiles keeps profiles in a map and applies the same "latest event
// wins" rule as the real stores. applyErr simulates a store outage.

type fakeProfiles struct {
	mu       sync.Mutex
	rows     map[string]model.Profile
	writes   int
	applyErr error
}

var _ repository.ProfileRepository = (*fakeProfiles)(nil)

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: map[string]model.Profile{}}
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	return &p, nil
}

func (f *fakeProfiles) EnsureProfile(_ context.Context, id, email string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		now := time.Now()
		p = model.Profile{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}
		f.rows[id] = p
	}
	return &p, nil
}

func (f *fakeProfiles) ApplyEntitlement(_ context.Context, u model.EntitlementUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return false, f.applyErr
	}

	p, ok := f.rows[u.UserID]
	if ok && !p.Supersedes(u.Version, u.Rank) {
		return false, nil
	}
	if !ok {
		p = model.Profile{ID: u.UserID, Email: u.Email, CreatedAt: time.Now()}
	}
	p.IsPro = u.IsPro
	p.EntitlementVersion = u.Version
	p.EntitlementRank = u.Rank
	if u.CustomerID != "" {
		p.StripeCustomerID = u.CustomerID
	}
	p.UpdatedAt = time.Now()
	f.rows[u.UserID] = p
	f.writes++
	return true, nil
}

func (f *fakeProfiles) FindByCustomerID(_ context.Context, cus string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.StripeCustomerID == cus {
			return &p, nil
		}
	}
	return nil, apperror.NotFound("profile for customer", cus)
}

func (f *fakeProfiles) get(id string) (model.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	return p, ok
}

// =========================================================================
// FAKE EVENT LOG
// =========================================================================

type fakeEvents struct {
	mu        sync.Mutex
	rows      map[string]model.BillingEvent
	appendErr error
}

var _ repository.EventRepository = (*fakeEvents)(nil)

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: map[string]model.BillingEvent{}}
}

func (f *fakeEvents) Append(_ context.Context, e *model.BillingEvent) (*model.BillingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if existing, ok := f.rows[e.ID]; ok {
		return &existing, nil
	}
	rec := *e
	rec.ReceivedAt = time.Now()
	f.rows[e.ID] = rec
	return nil, nil
}

func (f *fakeEvents) Get(_ context.Context, id string) (*model.BillingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return nil, apperror.NotFound("billing event", id)
	}
	return &e, nil
}

func (f *fakeEvents) SetStatus(_ context.Context, id string, status model.EventStatus, userID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[id]
	if !ok {
		return apperror.NotFound("billing event", id)
	}
	e.Status = status
	e.Note = note
	e.Attempts++
	if userID != "" {
		e.UserID = userID
	}
	f.rows[id] = e
	return nil
}

func (f *fakeEvents) ListByStatus(_ context.Context, statuses []model.EventStatus, opts repository.ListOptions) ([]model.BillingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[model.EventStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []model.BillingEvent
	for _, e := range f.rows {
		if want[e.Status] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeEvents) status(id string) model.EventStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

// =========================================================================
// FAKE CHECKOUT PROVIDER
// =========================================================================

type fakeProvider struct {
	mu    sync.Mutex
	calls []billing.CheckoutParams
	err   error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*billing.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	return &billing.Session{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}
