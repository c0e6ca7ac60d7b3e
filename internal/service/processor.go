package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/model"
)

// Outcome is what processing decided about one event.
type Outcome struct {
	Status model.EventStatus
	UserID string
	Note   string
}

// EventProcessor turns verified provider events into entitlement writes.
// It is shared by live deliveries and the reconciler.
type EventProcessor struct {
	entitlements *EntitlementService
	logger       *slog.Logger
}

func NewEventProcessor(entitlements *EntitlementService, logger *slog.Logger) *EventProcessor {
	return &EventProcessor{entitlements: entitlements, logger: logger}
}

// Process returns an error only for failures worth a retry (storage).
// Events that can never be applied, including updates the store rejects as
// invalid data, come back as unmatched or ignored.
func (p *EventProcessor) Process(ctx context.Context, ev *billing.Event) (Outcome, error) {
	switch ev.Type {
	case billing.EventCheckoutCompleted:
		return p.checkoutCompleted(ctx, ev)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		return p.subscriptionChanged(ctx, ev, false)
	case billing.EventSubscriptionDeleted:
		return p.subscriptionChanged(ctx, ev, true)
	default:
		p.logger.Debug("billing event ignored",
			slog.String("event_id", ev.ID),
			slog.String("type", ev.Type),
		)
		return Outcome{Status: model.EventIgnored, Note: "unhandled event type"}, nil
	}
}

func (p *EventProcessor) checkoutCompleted(ctx context.Context, ev *billing.Event) (Outcome, error) {
	s, err := ev.DecodeCheckoutSession()
	if err != nil {
		return p.unmatched(ev, err.Error()), nil
	}

	userID := s.UserID()
	if userID == "" {
		return p.unmatched(ev, "checkout session carries no userId or client_reference_id"), nil
	}

	return p.apply(ctx, ev, model.EntitlementUpdate{
		UserID:     userID,
		Email:      s.Email(),
		IsPro:      true,
		Version:    ev.Created,
		Rank:       model.RankActive,
		CustomerID: s.Customer,
	})
}

func (p *EventProcessor) subscriptionChanged(ctx context.Context, ev *billing.Event, deleted bool) (Outcome, error) {
	sub, err := ev.DecodeSubscription()
	if err != nil {
		return p.unmatched(ev, err.Error()), nil
	}

	grant, rank := false, model.RankTerminal
	if !deleted {
		rank = billing.StatusRank(sub.Status)
		var known bool
		grant, known = billing.GrantsPro(sub.Status)
		if !known {
			p.logger.Warn("unknown subscription status, treating as not pro",
				slog.String("event_id", ev.ID),
				slog.String("status", sub.Status),
			)
		}
	}

	userID := sub.UserID()
	if userID == "" {
		userID, err = p.entitlements.ResolveCustomer(ctx, sub.Customer)
		if errors.Is(err, apperror.ErrValidation) {
			return p.unmatched(ev, errorDetail(err)), nil
		}
		if err != nil {
			return Outcome{}, err
		}
	}
	if userID == "" {
		return p.unmatched(ev, fmt.Sprintf("no profile linked to customer %q", sub.Customer)), nil
	}

	return p.apply(ctx, ev, model.EntitlementUpdate{
		UserID:     userID,
		Email:      sub.Email(),
		IsPro:      grant,
		Version:    ev.Created,
		Rank:       rank,
		CustomerID: sub.Customer,
	})
}

func (p *EventProcessor) apply(ctx context.Context, ev *billing.Event, update model.EntitlementUpdate) (Outcome, error) {
	applied, err := p.entitlements.Apply(ctx, update)
	if errors.Is(err, apperror.ErrValidation) {
		// The store will never accept this update; retrying cannot help.
		out := p.unmatched(ev, errorDetail(err))
		out.UserID = update.UserID
		return out, nil
	}
	if err != nil {
		return Outcome{UserID: update.UserID}, err
	}

	out := Outcome{Status: model.EventProcessed, UserID: update.UserID}
	if !applied {
		out.Note = "superseded by a newer event"
	}
	return out, nil
}

func (p *EventProcessor) unmatched(ev *billing.Event, note string) Outcome {
	p.logger.Warn("billing event could not be matched to a user",
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("reason", note),
	)
	return Outcome{Status: model.EventUnmatched, Note: note}
}
