package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

// pendingCacheTTL bounds staleness of the pending-payments listing between
// writes; approvals invalidate it immediately.
const pendingCacheTTL = 30 * time.Second

// ApprovalService resolves manually-submitted payments. Only records in
// PENDING_VALIDATION may be approved or rejected; anything else fails with
// ErrInvalidStateTransition — a second approval is an error, never a silent
// coercion.
type ApprovalService struct {
	repo   domain.TransactionRepository
	clk    clock.Clock
	logger *slog.Logger

	cacheMu       sync.Mutex
	cachedPending []*domain.Transaction
	cachedAt      time.Time
}

func NewApprovalService(repo domain.TransactionRepository, clk clock.Clock, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{
		repo:   repo,
		clk:    clk,
		logger: logger.With("service", "approval"),
	}
}

// Approve moves a PENDING_VALIDATION record to SUCCESS and stamps the
// validator audit fields.
func (s *ApprovalService) Approve(ctx context.Context, txnID uuid.UUID, approverID string) (*domain.Transaction, error) {
	return s.resolve(ctx, txnID, approverID, domain.StatusSuccess)
}

// Reject moves a PENDING_VALIDATION record to DECLINED with the same audit
// stamping as Approve.
func (s *ApprovalService) Reject(ctx context.Context, txnID uuid.UUID, approverID string) (*domain.Transaction, error) {
	return s.resolve(ctx, txnID, approverID, domain.StatusDeclined)
}

func (s *ApprovalService) resolve(ctx context.Context, txnID uuid.UUID, approverID string, target domain.Status) (*domain.Transaction, error) {
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver identity is required", domain.ErrValidation)
	}

	txn, err := s.repo.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusPendingValidation {
		return nil, fmt.Errorf("%w: approval requires PENDING_VALIDATION, have %s",
			domain.ErrInvalidStateTransition, txn.Status)
	}

	now := s.clk.Now()
	if _, err := txn.ApplyStatus(target, now); err != nil {
		return nil, err
	}
	txn.ValidatedBy = &approverID
	txn.ValidatedAt = &now

	if err := s.repo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("persisting %s for transaction %s: %w", target, txnID, err)
	}

	approvalDurationHist.Observe(now.Sub(txn.CreatedAt).Seconds())
	s.logger.InfoContext(ctx, "Manual payment resolved",
		"transaction_id", txnID, "status", target, "validated_by", approverID)

	// The record must drop out of the pending queue right away.
	s.InvalidatePendingCache()
	return txn, nil
}

// ListPending returns the manually-submitted payments awaiting validation.
// Served from a short-lived cache that every approval invalidates.
func (s *ApprovalService) ListPending(ctx context.Context) ([]*domain.Transaction, error) {
	s.cacheMu.Lock()
	if s.cachedPending != nil && s.clk.Now().Sub(s.cachedAt) < pendingCacheTTL {
		cached := s.cachedPending
		s.cacheMu.Unlock()
		return cached, nil
	}
	s.cacheMu.Unlock()

	pending, err := s.repo.ListPendingValidation(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending payments: %w", err)
	}

	s.cacheMu.Lock()
	s.cachedPending = pending
	s.cachedAt = s.clk.Now()
	s.cacheMu.Unlock()
	return pending, nil
}

// InvalidatePendingCache drops the cached pending listing.
func (s *ApprovalService) InvalidatePendingCache() {
	s.cacheMu.Lock()
	s.cachedPending = nil
	s.cacheMu.Unlock()
}
