package service

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

// EventVerifier authenticates a raw webhook body. *billing.Verifier
// satisfies it.
type EventVerifier interface {
	Verify(payload []byte, signature string) (*billing.Event, error)
}

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	EventID   string            `json:"eventId"`
	Type      string            `json:"type"`
	Status    model.EventStatus `json:"status"`
	UserID    string            `json:"-"`
	Duplicate bool              `json:"duplicate,omitempty"`
}

// WebhookService is the receiving end of provider notifications.
//
// Every verified event is appended to the event log before it is acted on,
// so a delivery that cannot be applied now is kept for the reconciler.
// Concurrent deliveries of one event id share a single processing run.
type WebhookService struct {
	verifier  EventVerifier
	events    repository.EventRepository
	processor *EventProcessor
	logger    *slog.Logger
	inflight  singleflight.Group
}

func NewWebhookService(
	verifier EventVerifier,
	events repository.EventRepository,
	processor *EventProcessor,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		verifier:  verifier,
		events:    events,
		processor: processor,
		logger:    logger,
	}
}

// Receive verifies, logs and applies one delivery. Nothing is stored when
// verification fails. A returned storage error asks the provider to retry.
func (s *WebhookService) Receive(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.verifier == nil {
		return nil, apperror.MissingConfig("STRIPE_WEBHOOK_SECRET")
	}

	ev, err := s.verifier.Verify(payload, signature)
	if err != nil {
		// Rejected signatures are logged by the HTTP handler, which knows
		// the caller's address.
		if !errors.Is(err, apperror.ErrAuthenticity) {
			s.logger.Error("webhook rejected", slog.String("error", errorDetail(err)))
		}
		return nil, err
	}

	existing, err := s.events.Append(ctx, &model.BillingEvent{
		ID:        ev.ID,
		Type:      ev.Type,
		Payload:   payload,
		Status:    model.EventReceived,
		CreatedAt: ev.Created,
	})
	if err != nil {
		s.logger.Error("appending billing event failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil, storageErr("event log append", err)
	}

	if existing != nil && existing.Status.Settled() {
		s.logger.Info("duplicate billing event skipped",
			slog.String("event_id", ev.ID),
			slog.String("status", string(existing.Status)),
		)
		return &WebhookResult{
			EventID:   ev.ID,
			Type:      ev.Type,
			Status:    existing.Status,
			UserID:    existing.UserID,
			Duplicate: true,
		}, nil
	}

	return s.settle(ctx, ev)
}

// Reprocess runs a logged event through processing again. Events already
// settled are returned as they are.
func (s *WebhookService) Reprocess(ctx context.Context, rec *model.BillingEvent) (*WebhookResult, error) {
	if rec.Status.Settled() {
		return &WebhookResult{EventID: rec.ID, Type: rec.Type, Status: rec.Status, UserID: rec.UserID, Duplicate: true}, nil
	}

	ev, err := billing.DecodeEvent(rec.Payload)
	if err != nil {
		if serr := s.events.SetStatus(ctx, rec.ID, model.EventUnmatched, rec.UserID, err.Error()); serr != nil {
			return nil, storageErr("event status update", serr)
		}
		return &WebhookResult{EventID: rec.ID, Type: rec.Type, Status: model.EventUnmatched}, nil
	}
	return s.settle(ctx, ev)
}

func (s *WebhookService) settle(ctx context.Context, ev *billing.Event) (*WebhookResult, error) {
	v, err, shared := s.inflight.Do(ev.ID, func() (any, error) {
		return s.process(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*WebhookResult)
	if shared {
		s.logger.Debug("joined in-flight processing", slog.String("event_id", ev.ID))
	}
	return &res, nil
}

func (s *WebhookService) process(ctx context.Context, ev *billing.Event) (*WebhookResult, error) {
	// A delivery that finished between our Append and now already did
	// the work.
	if cur, err := s.events.Get(ctx, ev.ID); err == nil && cur.Status.Settled() {
		return &WebhookResult{EventID: ev.ID, Type: ev.Type, Status: cur.Status, UserID: cur.UserID, Duplicate: true}, nil
	}

	out, perr := s.processor.Process(ctx, ev)
	if perr != nil {
		note := errorDetail(perr)
		if err := s.events.SetStatus(ctx, ev.ID, model.EventFailed, out.UserID, note); err != nil {
			s.logger.Error("recording failed billing event",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Error("billing event processing failed",
			slog.String("event_id", ev.ID),
			slog.String("type", ev.Type),
			slog.String("error", note),
		)
		return nil, perr
	}

	if err := s.events.SetStatus(ctx, ev.ID, out.Status, out.UserID, out.Note); err != nil {
		return nil, storageErr("event status update", err)
	}

	s.logger.Info("billing event handled",
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("status", string(out.Status)),
		slog.String("user_id", out.UserID),
	)
	return &WebhookResult{EventID: ev.ID, Type: ev.Type, Status: out.Status, UserID: out.UserID}, nil
}
