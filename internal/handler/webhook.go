package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/billing"
	"github.com/sakif/proservice/internal/metrics"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/service"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

// WebhookReceiver is implemented by *service.WebhookService.
type WebhookReceiver interface {
	Receive(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

type WebhookHandler struct {
	webhooks WebhookReceiver
	logger   *slog.Logger
}

func NewWebhookHandler(webhooks WebhookReceiver, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

type webhookResponse struct {
	Received  bool              `json:"received"`
	Status    model.EventStatus `json:"status"`
	Duplicate bool              `json:"duplicate,omitempty"`
}

// HandleStripe receives provider notifications.
//
// HTTP: POST /api/webhook
// The body is read raw: the signature covers the exact bytes, so it must
// not be decoded or re-encoded before verification.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType, status := "unknown", "error"
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, status).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
	if err != nil {
		status = "rejected"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		writeError(w, apperror.ValidationFailed("body", "failed to read request body"))
		return
	}

	res, err := h.webhooks.Receive(r.Context(), payload, r.Header.Get(billing.SignatureHeader))
	if err != nil {
		if errors.Is(err, apperror.ErrAuthenticity) {
			status = "rejected"
			h.logger.Warn("webhook signature rejected", slog.String("remote_addr", r.RemoteAddr))
		}
		writeError(w, err)
		return
	}

	eventType, status = res.Type, string(res.Status)
	if res.Duplicate {
		status = "duplicate"
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: res.Status, Duplicate: res.Duplicate})
}
