package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

func appendEvent(t *testing.T, db *DB, id, typ string) {
	t.Helper()
	existing, err := db.Append(context.Background(), &model.BillingEvent{
		ID:        id,
		Type:      typ,
		Payload:   []byte(`{"id":"` + id + `"}`),
		CreatedAt: 1700000000,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if existing != nil {
		t.Fatalf("Append() reported %s as already logged", id)
	}
}

func TestAppend_NewAndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	appendEvent(t, db, "evt_1", "checkout.session.completed")

	existing, err := db.Append(ctx, &model.BillingEvent{
		ID:      "evt_1",
		Type:    "checkout.session.completed",
		Payload: []byte(`{"tampered":true}`),
	})
	if err != nil {
		t.Fatalf("Append() duplicate error = %v", err)
	}
	if existing == nil {
		t.Fatal("Append() should return the stored event for a duplicate id")
	}
	if string(existing.Payload) != `{"id":"evt_1"}` {
		t.Errorf("Payload = %s, the log must keep the first copy", existing.Payload)
	}
	if existing.Status != model.EventReceived {
		t.Errorf("Status = %q, want %q", existing.Status, model.EventReceived)
	}
	if existing.CreatedAt != 1700000000 {
		t.Errorf("CreatedAt = %d, want 1700000000", existing.CreatedAt)
	}
}

func TestSetStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	appendEvent(t, db, "evt_1", "checkout.session.completed")

	if err := db.SetStatus(ctx, "evt_1", model.EventFailed, "u123", "database is locked"); err != nil {
		t.Fatalf("SetStatus(failed) error = %v", err)
	}
	e, _ := db.Get(ctx, "evt_1")
	if e.Status != model.EventFailed || e.ProcessedAt != nil {
		t.Errorf("after failure: status=%q processedAt=%v", e.Status, e.ProcessedAt)
	}

	if err := db.SetStatus(ctx, "evt_1", model.EventProcessed, "", ""); err != nil {
		t.Fatalf("SetStatus(processed) error = %v", err)
	}
	e, _ = db.Get(ctx, "evt_1")
	if e.Status != model.EventProcessed {
		t.Errorf("Status = %q, want %q", e.Status, model.EventProcessed)
	}
	if e.ProcessedAt == nil {
		t.Error("ProcessedAt not set for a settled event")
	}
	if e.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", e.Attempts)
	}
	if e.UserID != "u123" {
		t.Errorf("UserID = %q, an empty update must keep %q", e.UserID, "u123")
	}
}

func TestSetStatus_UnknownEvent(t *testing.T) {
	db := newTestDB(t)

	err := db.SetStatus(context.Background(), "evt_missing", model.EventProcessed, "", "")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetStatus() error = %v, want ErrNotFound", err)
	}
}

func TestListByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	appendEvent(t, db, "evt_1", "checkout.session.completed")
	appendEvent(t, db, "evt_2", "customer.subscription.deleted")
	appendEvent(t, db, "evt_3", "invoice.paid")

	db.SetStatus(ctx, "evt_1", model.EventFailed, "", "boom")
	db.SetStatus(ctx, "evt_2", model.EventUnmatched, "", "no user id")
	db.SetStatus(ctx, "evt_3", model.EventIgnored, "", "")

	events, err := db.ListByStatus(ctx,
		[]model.EventStatus{model.EventFailed, model.EventUnmatched},
		repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListByStatus() returned %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.ID == "evt_3" {
			t.Error("ListByStatus() returned an ignored event")
		}
	}

	limited, _ := db.ListByStatus(ctx,
		[]model.EventStatus{model.EventFailed, model.EventUnmatched},
		repository.ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("ListByStatus(limit 1) returned %d events", len(limited))
	}

	none, err := db.ListByStatus(ctx, nil, repository.ListOptions{})
	if err != nil || len(none) != 0 {
		t.Errorf("ListByStatus(nil) = %v, %v; want empty", none, err)
	}
}

func TestListByStatus_FewestAttemptsFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// evt_old has been retried twice; evt_new only once.
	appendEvent(t, db, "evt_old", "checkout.session.completed")
	appendEvent(t, db, "evt_new", "checkout.session.completed")
	db.SetStatus(ctx, "evt_old", model.EventUnmatched, "", "no user id")
	db.SetStatus(ctx, "evt_old", model.EventUnmatched, "", "no user id")
	db.SetStatus(ctx, "evt_new", model.EventFailed, "", "boom")

	events, err := db.ListByStatus(ctx,
		[]model.EventStatus{model.EventFailed, model.EventUnmatched},
		repository.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt_new" {
		t.Errorf("ListByStatus() = %v, want evt_new first", events)
	}
}
