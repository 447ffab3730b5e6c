package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/adapters/gateway"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

// CreateCheckoutRequest is the method-agnostic first phase input.
type CreateCheckoutRequest struct {
	DocumentID string          `validate:"required"`
	Amount     decimal.Decimal `validate:"-"`
	Method     domain.Method   `validate:"required"`
}

// ProcessMethodRequest carries the method-specific second phase inputs.
type ProcessMethodRequest struct {
	Phone         string
	ReferenceInfo string
	SubmittedBy   string
}

// CheckoutService drives the two-phase checkout protocol: allocate a gateway
// transaction id, then run method-specific processing. It is the only
// component permitted to assign GatewayTransactionID.
type CheckoutService struct {
	repo      domain.TransactionRepository
	processor gateway.ProcessorAdapter
	scheduler *ExpiryScheduler
	validate  *validator.Validate
	clk       clock.Clock
	logger    *slog.Logger
}

func NewCheckoutService(
	repo domain.TransactionRepository,
	processor gateway.ProcessorAdapter,
	scheduler *ExpiryScheduler,
	validate *validator.Validate,
	clk clock.Clock,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		repo:      repo,
		processor: processor,
		scheduler: scheduler,
		validate:  validate,
		clk:       clk,
		logger:    logger.With("service", "checkout"),
	}
}

// CreateCheckout creates the transaction record and asks the processor for a
// transaction id. A processor failure surfaces verbatim and leaves the record
// without a correlation id; no retry is performed here — resubmission is the
// caller's decision.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*domain.Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		checkoutsCounter.WithLabelValues(string(req.Method), "validation_error").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if !req.Method.IsKnown() {
		checkoutsCounter.WithLabelValues(string(req.Method), "validation_error").Inc()
		return nil, fmt.Errorf("%w: unknown method %q", domain.ErrValidation, req.Method)
	}
	if !req.Amount.IsPositive() {
		checkoutsCounter.WithLabelValues(string(req.Method), "validation_error").Inc()
		return nil, fmt.Errorf("%w: amount must be positive, got %s", domain.ErrValidation, req.Amount)
	}

	now := s.clk.Now()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		DocumentID:      req.DocumentID,
		Amount:          req.Amount,
		Method:          req.Method,
		Status:          domain.StatusCreated,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("creating transaction record: %w", err)
	}

	resp, err := s.processor.Checkout(ctx, gateway.CheckoutRequest{
		DocumentID:        req.DocumentID,
		Amount:            req.Amount,
		Method:            req.Method,
		InternalRequestID: txn.ID.String(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Processor checkout failed",
			"transaction_id", txn.ID, "document_id", req.DocumentID, "error", err)
		checkoutsCounter.WithLabelValues(string(req.Method), "transport_error").Inc()
		return nil, fmt.Errorf("%w: checkout: %s", domain.ErrTransport, err)
	}

	txn.GatewayTransactionID = &resp.GatewayTransactionID
	txn.UpdatedAt = s.clk.Now()
	if err := s.repo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("persisting gateway transaction id: %w", err)
	}

	s.logger.InfoContext(ctx, "Checkout created",
		"transaction_id", txn.ID, "gateway_txn_id", resp.GatewayTransactionID,
		"document_id", req.DocumentID, "method", req.Method, "amount", req.Amount.String())
	checkoutsCounter.WithLabelValues(string(req.Method), "created").Inc()
	return txn, nil
}

// ProcessMethod runs the second phase. Instant methods come back PENDING with
// nothing further required from the caller; reference methods come back
// PENDING with issued reference data and an armed expiry timer; manual methods
// come back PENDING_VALIDATION and belong to the approval workflow from then on.
func (s *CheckoutService) ProcessMethod(ctx context.Context, txnID uuid.UUID, req ProcessMethodRequest) (*domain.Transaction, error) {
	txn, err := s.repo.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.GatewayTransactionID == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrMissingCorrelation, txnID)
	}
	if txn.Status != domain.StatusCreated {
		return nil, fmt.Errorf("%w: method processing requires CREATED, have %s",
			domain.ErrInvalidStateTransition, txn.Status)
	}

	gatewayID := *txn.GatewayTransactionID
	now := s.clk.Now()

	switch {
	case txn.Method == domain.MethodInstantMobile:
		if req.Phone == "" {
			return nil, fmt.Errorf("%w: phone is required for %s", domain.ErrValidation, txn.Method)
		}
		status, err := s.processor.ProcessInstant(ctx, gatewayID, gateway.InstantParams{Phone: req.Phone})
		if err != nil {
			return nil, fmt.Errorf("%w: instant processing: %s", domain.ErrTransport, err)
		}
		if _, err := txn.ApplyStatus(status, now); err != nil {
			return nil, err
		}

	case txn.Method == domain.MethodReferenceATM:
		details, err := s.processor.ProcessReference(ctx, gatewayID)
		if err != nil {
			return nil, fmt.Errorf("%w: reference issuance: %s", domain.ErrTransport, err)
		}
		if err := txn.AttachReference(domain.ReferenceData{
			Entity:    details.Entity,
			Reference: details.Reference,
			ExpiresAt: details.ExpiresAt,
		}); err != nil {
			return nil, err
		}
		if _, err := txn.ApplyStatus(domain.StatusPending, now); err != nil {
			return nil, err
		}

	case txn.Method.IsManual():
		if req.SubmittedBy == "" {
			return nil, fmt.Errorf("%w: submitter identity is required for %s", domain.ErrValidation, txn.Method)
		}
		status, err := s.processor.ProcessManual(ctx, gatewayID, req.ReferenceInfo)
		if err != nil {
			return nil, fmt.Errorf("%w: manual submission: %s", domain.ErrTransport, err)
		}
		if _, err := txn.ApplyStatus(status, now); err != nil {
			return nil, err
		}
		txn.SubmittedBy = &req.SubmittedBy
		txn.SubmittedAt = &now
		if req.ReferenceInfo != "" {
			txn.ReferenceInfo = &req.ReferenceInfo
		}

	default:
		return nil, fmt.Errorf("%w: unknown method %q", domain.ErrValidation, txn.Method)
	}

	if err := s.repo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("persisting processed transaction %s: %w", txn.ID, err)
	}

	// Arm the expiry verification only after the record is durably PENDING.
	if txn.Method == domain.MethodReferenceATM && txn.Reference != nil {
		s.scheduler.Schedule(txn.ID, txn.Reference.ExpiresAt)
	}

	s.logger.InfoContext(ctx, "Method processing completed",
		"transaction_id", txn.ID, "method", txn.Method, "status", txn.Status)
	return txn, nil
}

// GetTransaction returns the current record state.
func (s *CheckoutService) GetTransaction(ctx context.Context, txnID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.GetByID(ctx, txnID)
}

// History lists terminal and in-flight records with filters and paging.
func (s *CheckoutService) History(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Transaction, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if filter.Status != nil && !filter.Status.IsKnown() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *filter.Status)
	}
	if filter.Method != nil && !filter.Method.IsKnown() {
		return nil, 0, fmt.Errorf("%w: unknown method %q", domain.ErrValidation, *filter.Method)
	}
	return s.repo.ListHistory(ctx, filter)
}

// IsNotFound reports whether err is the repository's not-found sentinel.
// Convenience for transport adapters.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
