package app

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

// maxArmDelay bounds a single timer arm. Far-future expiries are reached by
// re-arming rather than one multi-week timer, so a reference whose validity
// exceeds the ceiling still fires at its true expiry instant.
const maxArmDelay = time.Duration(math.MaxInt32) * time.Millisecond

// checkTimeout bounds the verification fired at expiry; the scheduler's own
// context is already done or unrelated by then.
const checkTimeout = 30 * time.Second

// StatusVerifier is the poll entry point the scheduler fires into.
type StatusVerifier interface {
	CheckStatus(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// expiryArm is one armed timer. Each Schedule call creates a fresh arm so a
// replaced goroutine's teardown cannot touch its successor's handle.
type expiryArm struct {
	cancel context.CancelFunc
}

// ExpiryScheduler arms exactly one verification per transaction at its
// reference expiry instant. Timers hold explicit teardown handles: a cancelled
// timer never fires a stale check.
type ExpiryScheduler struct {
	verifier StatusVerifier
	clk      clock.Clock
	logger   *slog.Logger

	mu   sync.Mutex
	arms map[uuid.UUID]*expiryArm
	wg   sync.WaitGroup
}

func NewExpiryScheduler(verifier StatusVerifier, clk clock.Clock, logger *slog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		verifier: verifier,
		clk:      clk,
		logger:   logger.With("component", "expiry_scheduler"),
		arms:     make(map[uuid.UUID]*expiryArm),
	}
}

// Schedule arms a one-shot verification for txnID at expiresAt. An expiry
// already in the past triggers the verification immediately. Re-scheduling an
// armed transaction replaces the previous timer.
func (s *ExpiryScheduler) Schedule(txnID uuid.UUID, expiresAt time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	arm := &expiryArm{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.arms[txnID]; ok {
		prev.cancel()
	}
	s.arms[txnID] = arm
	s.mu.Unlock()

	s.logger.Info("Expiry verification armed",
		"transaction_id", txnID, "expires_at", expiresAt, "delay", expiresAt.Sub(s.clk.Now()))

	s.wg.Add(1)
	go s.run(ctx, arm, txnID, expiresAt)
}

func (s *ExpiryScheduler) run(ctx context.Context, arm *expiryArm, txnID uuid.UUID, expiresAt time.Time) {
	defer s.wg.Done()
	defer s.forget(txnID, arm)

	for {
		remaining := expiresAt.Sub(s.clk.Now())
		if remaining <= 0 {
			break
		}
		arm := remaining
		if arm > maxArmDelay {
			arm = maxArmDelay
		}
		select {
		case <-s.clk.After(arm):
		case <-ctx.Done():
			s.logger.Info("Expiry timer cancelled", "transaction_id", txnID)
			return
		}
	}

	// Last-moment cancellation check: the push path may have terminated the
	// transaction while the timer slept.
	select {
	case <-ctx.Done():
		s.logger.Info("Expiry timer cancelled before firing", "transaction_id", txnID)
		return
	default:
	}

	expiryChecksCounter.Inc()
	s.logger.Info("Expiry reached, verifying transaction status", "transaction_id", txnID)

	checkCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if _, err := s.verifier.CheckStatus(checkCtx, txnID); err != nil {
		s.logger.Error("Expiry-triggered status verification failed",
			"transaction_id", txnID, "error", err)
	}
}

// forget removes the arm's map entry only if it still owns it: a replaced
// goroutine must not drop the handle of the timer that superseded it.
func (s *ExpiryScheduler) forget(txnID uuid.UUID, arm *expiryArm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arms[txnID] == arm {
		delete(s.arms, txnID)
	}
}

// Cancel tears down the timer for txnID, if armed. Safe to call for
// transactions that were never scheduled or already fired.
func (s *ExpiryScheduler) Cancel(txnID uuid.UUID) {
	s.mu.Lock()
	arm, ok := s.arms[txnID]
	if ok {
		delete(s.arms, txnID)
	}
	s.mu.Unlock()
	if ok {
		arm.cancel()
		s.logger.Info("Expiry timer torn down", "transaction_id", txnID)
	}
}

// Shutdown cancels every armed timer and waits for their goroutines to exit.
func (s *ExpiryScheduler) Shutdown() {
	s.mu.Lock()
	for id, arm := range s.arms {
		arm.cancel()
		delete(s.arms, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Armed reports whether a timer is currently armed for txnID.
func (s *ExpiryScheduler) Armed(txnID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.arms[txnID]
	return ok
}
