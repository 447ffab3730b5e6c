package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/platform/middleware"
)

type PaymentHandler struct {
	checkout  *app.CheckoutService
	reconcile *app.Reconciler
	approval  *app.ApprovalService
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewPaymentHandler(
	checkout *app.CheckoutService,
	reconcile *app.Reconciler,
	approval *app.ApprovalService,
	logger *slog.Logger,
	validate *validator.Validate,
) *PaymentHandler {
	return &PaymentHandler{
		checkout:  checkout,
		reconcile: reconcile,
		approval:  approval,
		logger:    logger.With("component", "payment_handler"),
		validate:  validate,
	}
}

// Routes mounts the payment API onto r. Auth middleware is applied by the
// caller; approval and pending-queue routes additionally require admin.
func (h *PaymentHandler) Routes(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.Post("/payments/checkout", h.CreateCheckout)
	r.Post("/payments/{transactionID}/process", h.ProcessMethod)
	r.Get("/payments/{transactionID}", h.GetTransaction)
	r.Post("/payments/{transactionID}/check", h.CheckStatus)
	r.Get("/payments/history", h.History)

	r.Group(func(r chi.Router) {
		r.Use(adminOnly)
		r.Put("/payments/{transactionID}/approve", h.Approve)
		r.Put("/payments/{transactionID}/reject", h.Reject)
		r.Get("/payments/pending", h.ListPending)
	})
}

func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := h.checkout.CreateCheckout(r.Context(), app.CreateCheckoutRequest{
		DocumentID: req.DocumentID,
		Amount:     req.Amount,
		Method:     domain.Method(req.Method),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, toTransactionResponse(txn))
}

func (h *PaymentHandler) ProcessMethod(w http.ResponseWriter, r *http.Request) {
	txnID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	var req processMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	submittedBy := ""
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		submittedBy = principal.ID
	}

	txn, err := h.checkout.ProcessMethod(r.Context(), txnID, app.ProcessMethodRequest{
		Phone:         req.Phone,
		ReferenceInfo: req.ReferenceInfo,
		SubmittedBy:   submittedBy,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTransactionResponse(txn))
}

func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.checkout.GetTransaction(r.Context(), txnID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTransactionResponse(txn))
}

// CheckStatus is the explicit "check status" action: it polls the processor
// and returns the reconciled record.
func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	txnID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	txn, err := h.reconcile.CheckStatus(r.Context(), txnID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTransactionResponse(txn))
}

func (h *PaymentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolveManual(w, r, h.approval.Approve)
}

func (h *PaymentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolveManual(w, r, h.approval.Reject)
}

func (h *PaymentHandler) resolveManual(
	w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, txnID uuid.UUID, approverID string) (*domain.Transaction, error),
) {
	txnID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	txn, err := action(r.Context(), txnID, principal.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTransactionResponse(txn))
}

func (h *PaymentHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	txns, err := h.approval.ListPending(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	records := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		records = append(records, toTransactionResponse(txn))
	}
	h.writeJSON(w, r, http.StatusOK, records)
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	filter := domain.HistoryFilter{Page: 1, PageSize: 20}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		filter.Status = &status
	}
	if v := q.Get("method"); v != "" {
		method := domain.Method(v)
		filter.Method = &method
	}
	if v := q.Get("page"); v != "" {
		if page, err := parsePositiveInt(v); err == nil {
			filter.Page = page
		}
	}
	if v := q.Get("page_size"); v != "" {
		if size, err := parsePositiveInt(v); err == nil {
			filter.PageSize = size
		}
	}

	records, total, err := h.checkout.History(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := historyResponse{Records: make([]transactionResponse, 0, len(records)), Total: total}
	for _, txn := range records {
		resp.Records = append(resp.Records, toTransactionResponse(txn))
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *PaymentHandler) transactionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "transactionID")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid transaction id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *PaymentHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "transaction not found")
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMissingCorrelation):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTransport):
		h.writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Unhandled error in payment handler", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, errorResponse{Error: msg})
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to encode response body", "error", err)
	}
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
