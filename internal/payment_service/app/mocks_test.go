package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryTxnRepo is an in-memory TransactionRepository for service tests.
type memoryTxnRepo struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*domain.Transaction
	updateErr  error
	updateCnt  int
	gatewayIdx map[string]uuid.UUID
}

func newMemoryTxnRepo() *memoryTxnRepo {
	return &memoryTxnRepo{
		byID:       make(map[uuid.UUID]*domain.Transaction),
		gatewayIdx: make(map[string]uuid.UUID),
	}
}

func (r *memoryTxnRepo) clone(txn *domain.Transaction) *domain.Transaction {
	cp := *txn
	return &cp
}

func (r *memoryTxnRepo) Create(ctx context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[txn.ID]; ok {
		return fmt.Errorf("duplicate transaction %s", txn.ID)
	}
	r.byID[txn.ID] = r.clone(txn)
	return nil
}

func (r *memoryTxnRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.clone(txn), nil
}

func (r *memoryTxnRepo) GetByGatewayTransactionID(ctx context.Context, gatewayTxnID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.gatewayIdx[gatewayTxnID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.clone(r.byID[id]), nil
}

func (r *memoryTxnRepo) Update(ctx context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCnt++
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.byID[txn.ID]; !ok {
		return domain.ErrNotFound
	}
	r.byID[txn.ID] = r.clone(txn)
	if txn.GatewayTransactionID != nil {
		r.gatewayIdx[*txn.GatewayTransactionID] = txn.ID
	}
	return nil
}

func (r *memoryTxnRepo) ListPendingValidation(ctx context.Context) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, txn := range r.byID {
		if txn.Status == domain.StatusPendingValidation {
			out = append(out, r.clone(txn))
		}
	}
	return out, nil
}

func (r *memoryTxnRepo) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, txn := range r.byID {
		if filter.Status != nil && txn.Status != *filter.Status {
			continue
		}
		if filter.Method != nil && txn.Method != *filter.Method {
			continue
		}
		out = append(out, r.clone(txn))
	}
	return out, len(out), nil
}

func (r *memoryTxnRepo) updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCnt
}

// stubStatusGateway scripts GetStatus answers per gateway transaction id.
type stubStatusGateway struct {
	mu       sync.Mutex
	statuses map[string]domain.Status
	err      error
	calls    int
}

func newStubStatusGateway() *stubStatusGateway {
	return &stubStatusGateway{statuses: make(map[string]domain.Status)}
}

func (g *stubStatusGateway) set(gatewayTxnID string, status domain.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[gatewayTxnID] = status
}

func (g *stubStatusGateway) GetStatus(ctx context.Context, gatewayTxnID string) (domain.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	status, ok := g.statuses[gatewayTxnID]
	if !ok {
		return "", fmt.Errorf("unknown gateway transaction %s", gatewayTxnID)
	}
	return status, nil
}

func (g *stubStatusGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// memoryBroker dispatches published messages to subscribers synchronously.
type memoryBroker struct {
	mu       sync.Mutex
	handlers map[string][]func(msg messagebroker.Message)
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{handlers: make(map[string][]func(msg messagebroker.Message))}
}

func (b *memoryBroker) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	handlers := append([]func(msg messagebroker.Message){}, b.handlers[subject]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(messagebroker.Message{Subject: subject, Data: data})
	}
	return nil
}

func (b *memoryBroker) Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg messagebroker.Message)) (messagebroker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return noopSubscription{}, nil
}

func (b *memoryBroker) Close() {}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }

// stubVerifier records expiry-triggered checks and signals each firing.
type stubVerifier struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fired chan uuid.UUID
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{fired: make(chan uuid.UUID, 16)}
}

func (v *stubVerifier) CheckStatus(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	v.mu.Lock()
	v.calls = append(v.calls, id)
	v.mu.Unlock()
	v.fired <- id
	return nil, nil
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}
