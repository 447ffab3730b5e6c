package http

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
)

const maxCallbackBodySize = 1 << 20 // 1 MB

// CallbackTokenHeader carries the shared secret the processor sends with each
// callback. Payers hold their own gateway transaction ids, so the endpoint
// cannot be open: without the token anyone could push a forged terminal status.
const CallbackTokenHeader = "X-Callback-Token"

// WebhookHandler receives processor status callbacks and republishes them on
// the internal status fan-out subject. The reconciler consumes that subject,
// so push events have exactly one ingress regardless of where they originate.
type WebhookHandler struct {
	broker        messagebroker.Broker
	callbackToken string
	logger        *slog.Logger
	validate      *validator.Validate
}

func NewWebhookHandler(broker messagebroker.Broker, callbackToken string, logger *slog.Logger, validate *validator.Validate) *WebhookHandler {
	return &WebhookHandler{
		broker:        broker,
		callbackToken: callbackToken,
		logger:        logger.With("component", "webhook_handler"),
		validate:      validate,
	}
}

// HandleProcessorCallback accepts {transactionId, status} and fans it out.
func (h *WebhookHandler) HandleProcessorCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chiMiddleware.GetReqID(ctx))

	token := r.Header.Get(CallbackTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
		logger.WarnContext(ctx, "Processor callback with missing or invalid token")
		http.Error(w, "Invalid callback token", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read callback request body", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	var req processorCallbackRequest
	if err := json.Unmarshal(rawPayload, &req); err != nil {
		logger.WarnContext(ctx, "Malformed processor callback payload", "error", err)
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "Invalid processor callback", "error", err)
		http.Error(w, "Invalid callback", http.StatusBadRequest)
		return
	}
	status := domain.Status(req.Status)
	if !status.IsKnown() {
		logger.WarnContext(ctx, "Processor callback with unknown status", "status", req.Status)
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}

	event := app.StatusUpdateEvent{
		GatewayTransactionID: req.TransactionID,
		Status:               status,
		OccurredAt:           time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to serialize status update event", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.broker.Publish(ctx, app.StatusUpdateSubject, data); err != nil {
		logger.ErrorContext(ctx, "Failed to publish status update event", "error", err,
			"gateway_txn_id", req.TransactionID)
		// Non-2xx lets the processor retry; the reconciler is idempotent
		// under duplicate delivery.
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Processor callback fanned out",
		"gateway_txn_id", req.TransactionID, "status", status)
	w.WriteHeader(http.StatusOK)
}
