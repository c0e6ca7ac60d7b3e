package service

import (
	"context"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sakif/proservice/internal/metrics"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

// DefaultReconcileBatch bounds the events revisited per run.
const DefaultReconcileBatch = 100

// ReconcileReport summarises one reconciler run.
type ReconcileReport struct {
	RunID   string                    `json:"runId"`
	Scanned int                       `json:"scanned"`
	Results map[model.EventStatus]int `json:"results"`
	Errors  int                       `json:"errors"`
}

// Reconciler retries logged events that were never settled: deliveries
// whose store write failed and events no user could be matched to at the
// time (e.g. the profile was linked to the customer later).
type Reconciler struct {
	events   repository.EventRepository
	webhooks *WebhookService
	logger   *slog.Logger
	batch    int
}

func NewReconciler(events repository.EventRepository, webhooks *WebhookService, logger *slog.Logger) *Reconciler {
	return &Reconciler{events: events, webhooks: webhooks, logger: logger, batch: DefaultReconcileBatch}
}

// Run revisits one batch of unsettled events. Failed events (store writes
// that never landed) come first and unmatched ones fill the rest of the
// batch, so a backlog of events no user will ever claim cannot crowd out a
// paid activation. It keeps going past individual failures and only returns
// an error when the log itself cannot be read.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{RunID: xid.New().String(), Results: map[model.EventStatus]int{}}
	log := r.logger.With(slog.String("run_id", report.RunID))

	pending, err := r.events.ListByStatus(ctx,
		[]model.EventStatus{model.EventFailed},
		repository.ListOptions{Limit: r.batch},
	)
	if err == nil && len(pending) < r.batch {
		var unmatched []model.BillingEvent
		unmatched, err = r.events.ListByStatus(ctx,
			[]model.EventStatus{model.EventUnmatched},
			repository.ListOptions{Limit: r.batch - len(pending)},
		)
		pending = append(pending, unmatched...)
	}
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		log.Error("reconcile: listing pending events failed", slog.String("error", err.Error()))
		return nil, storageErr("event log listing", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++

		res, err := r.webhooks.Reprocess(ctx, &pending[i])
		if err != nil {
			report.Errors++
			metrics.ReconcileEventsTotal.WithLabelValues(string(model.EventFailed)).Inc()
			log.Warn("reconcile: event still failing",
				slog.String("event_id", pending[i].ID),
				slog.String("error", errorDetail(err)),
			)
			continue
		}
		report.Results[res.Status]++
		metrics.ReconcileEventsTotal.WithLabelValues(string(res.Status)).Inc()
	}

	outcome := "ok"
	if report.Errors > 0 {
		outcome = "partial"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(outcome).Inc()

	log.Info("reconcile run finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("processed", report.Results[model.EventProcessed]),
		slog.Int("unmatched", report.Results[model.EventUnmatched]),
		slog.Int("errors", report.Errors),
	)
	return report, ctx.Err()
}

// Pending lists log entries in the given statuses for inspection.
func (r *Reconciler) Pending(ctx context.Context, statuses []model.EventStatus, limit int) ([]model.BillingEvent, error) {
	events, err := r.events.ListByStatus(ctx, statuses, repository.ListOptions{Limit: limit})
	if err != nil {
		return nil, storageErr("event log listing", err)
	}
	return events, nil
}
