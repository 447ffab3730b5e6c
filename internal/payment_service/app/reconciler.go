package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
)

// StatusUpdateSubject is the internal fan-out subject for payment status
// pushes. Delivery is at-least-once with no ordering across transactions.
const StatusUpdateSubject = "payments.status.updated"

// StatusUpdateEvent is the push-channel payload.
type StatusUpdateEvent struct {
	GatewayTransactionID string        `json:"transactionId"`
	Status               domain.Status `json:"status"`
	OccurredAt           time.Time     `json:"occurredAt"`
}

// Source identifies which channel produced a status update.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// StatusGateway is the slice of the processor contract the reconciler needs.
type StatusGateway interface {
	GetStatus(ctx context.Context, gatewayTxnID string) (domain.Status, error)
}

// Reconciler merges the two independent status sources — the NATS push channel
// and explicit polls — into the transaction record. Updates for one
// transaction are serialized in arrival order; the terminal-state guard in the
// domain makes duplicate delivery and push/poll races a no-op, so whichever
// source reaches a non-terminal record first wins.
type Reconciler struct {
	repo    domain.TransactionRepository
	gateway StatusGateway
	broker  messagebroker.Broker
	clk     clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	terminalMu    sync.Mutex
	terminalHooks []func(txn *domain.Transaction)
}

func NewReconciler(
	repo domain.TransactionRepository,
	gateway StatusGateway,
	broker messagebroker.Broker,
	clk clock.Clock,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:    repo,
		gateway: gateway,
		broker:  broker,
		clk:     clk,
		logger:  logger.With("component", "reconciler"),
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// OnTerminal registers a hook invoked after a transaction reaches a terminal
// state through the reconciler (used to cancel expiry timers and drop caches).
func (r *Reconciler) OnTerminal(hook func(txn *domain.Transaction)) {
	r.terminalMu.Lock()
	defer r.terminalMu.Unlock()
	r.terminalHooks = append(r.terminalHooks, hook)
}

func (r *Reconciler) lockFor(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Reconciler) releaseLock(id uuid.UUID, txn *domain.Transaction) {
	if txn == nil || !txn.Status.IsTerminal() {
		return
	}
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
}

// ApplyStatus is the single funnel both channels call. The check-then-set is
// atomic per transaction id: concurrent arrivals for the same record cannot
// interleave the read-modify-write.
func (r *Reconciler) ApplyStatus(ctx context.Context, id uuid.UUID, incoming domain.Status, source Source) (*domain.Transaction, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	txn, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown updates are dropped and logged, not errored: the push
			// channel may outlive the session that owned the transaction.
			r.logger.WarnContext(ctx, "Dropping status update for unknown transaction",
				"transaction_id", id, "status", incoming, "source", source)
			statusUpdatesCounter.WithLabelValues(string(source), "unknown_transaction").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	defer r.releaseLock(id, txn)

	return r.applyLocked(ctx, txn, incoming, source)
}

// applyLocked applies incoming to an already-locked record.
func (r *Reconciler) applyLocked(ctx context.Context, txn *domain.Transaction, incoming domain.Status, source Source) (*domain.Transaction, error) {
	if txn.Status.IsTerminal() {
		r.logger.InfoContext(ctx, "Status update on terminal record is a no-op",
			"transaction_id", txn.ID, "status", txn.Status, "incoming", incoming, "source", source)
		statusUpdatesCounter.WithLabelValues(string(source), "noop_terminal").Inc()
		return txn, nil
	}

	// The usual answer for an explicit check on an in-flight payment is its
	// current status; that is not an anomaly worth a warning.
	if incoming == txn.Status {
		statusUpdatesCounter.WithLabelValues(string(source), "noop").Inc()
		return txn, nil
	}

	changed, err := txn.ApplyStatus(incoming, r.clk.Now())
	if err != nil {
		// Out-of-table moves (e.g. a push racing ahead of method processing)
		// are dropped; the authoritative poll will catch the record up later.
		r.logger.WarnContext(ctx, "Dropping status update outside the transition table",
			"transaction_id", txn.ID, "from", txn.Status, "incoming", incoming, "source", source, "error", err)
		statusUpdatesCounter.WithLabelValues(string(source), "invalid_transition").Inc()
		return txn, nil
	}
	if !changed {
		statusUpdatesCounter.WithLabelValues(string(source), "noop").Inc()
		return txn, nil
	}

	if err := r.repo.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("persisting status %s for transaction %s: %w", incoming, txn.ID, err)
	}

	r.logger.InfoContext(ctx, "Transaction status reconciled",
		"transaction_id", txn.ID, "status", txn.Status, "source", source)
	statusUpdatesCounter.WithLabelValues(string(source), "applied").Inc()

	if txn.Status.IsTerminal() {
		r.fireTerminalHooks(txn)
	}
	return txn, nil
}

func (r *Reconciler) fireTerminalHooks(txn *domain.Transaction) {
	r.terminalMu.Lock()
	hooks := make([]func(*domain.Transaction), len(r.terminalHooks))
	copy(hooks, r.terminalHooks)
	r.terminalMu.Unlock()
	for _, hook := range hooks {
		hook(txn)
	}
}

// CheckStatus is the poll path: it queries the processor for the authoritative
// status and funnels the answer through ApplyStatus. Called by the expiry
// scheduler and by the explicit "check status" action.
func (r *Reconciler) CheckStatus(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.GatewayTransactionID == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrMissingCorrelation, id)
	}
	if txn.Status.IsTerminal() {
		return txn, nil
	}

	status, err := r.gateway.GetStatus(ctx, *txn.GatewayTransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: status query for %s: %s", domain.ErrTransport, id, err)
	}
	return r.ApplyStatus(ctx, id, status, SourcePoll)
}

// StartPushConsumer subscribes to the status fan-out subject. The subscription
// is torn down when ctx is cancelled.
func (r *Reconciler) StartPushConsumer(ctx context.Context, queueGroup string) (messagebroker.Subscription, error) {
	handler := func(msg messagebroker.Message) {
		var event StatusUpdateEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			r.logger.ErrorContext(ctx, "Failed to deserialize status update event",
				"error", err, "subject", msg.Subject, "data", string(msg.Data))
			return
		}
		if event.GatewayTransactionID == "" || !event.Status.IsKnown() {
			r.logger.WarnContext(ctx, "Discarding malformed status update event",
				"gateway_txn_id", event.GatewayTransactionID, "status", event.Status)
			return
		}

		txn, err := r.repo.GetByGatewayTransactionID(ctx, event.GatewayTransactionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				r.logger.WarnContext(ctx, "Dropping push event for unknown gateway transaction",
					"gateway_txn_id", event.GatewayTransactionID, "status", event.Status)
				statusUpdatesCounter.WithLabelValues(string(SourcePush), "unknown_transaction").Inc()
				return
			}
			r.logger.ErrorContext(ctx, "Failed to resolve push event", "error", err,
				"gateway_txn_id", event.GatewayTransactionID)
			return
		}

		if _, err := r.ApplyStatus(ctx, txn.ID, event.Status, SourcePush); err != nil {
			r.logger.ErrorContext(ctx, "Failed to apply pushed status", "error", err,
				"transaction_id", txn.ID, "status", event.Status)
		}
	}

	return r.broker.Subscribe(ctx, StatusUpdateSubject, queueGroup, handler)
}
