package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

// MockProcessorAdapter simulates a payment processor for local development and
// tests. Statuses can be scripted per gateway transaction id through Resolve.
type MockProcessorAdapter struct {
	logger *slog.Logger

	SimulateCheckoutFailure bool
	SimulateProcessFailure  bool
	ReferenceEntity         string
	ReferenceTTL            time.Duration

	mu       sync.Mutex
	statuses map[string]domain.Status
}

func NewMockProcessorAdapter(logger *slog.Logger) *MockProcessorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockProcessorAdapter{
		logger:          logger.With("adapter", "mock_processor"),
		ReferenceEntity: "12345",
		ReferenceTTL:    7 * 24 * time.Hour,
		statuses:        make(map[string]domain.Status),
	}
}

// Resolve scripts the status the processor will report for a transaction.
func (m *MockProcessorAdapter) Resolve(gatewayTxnID string, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[gatewayTxnID] = status
}

func (m *MockProcessorAdapter) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	m.logger.InfoContext(ctx, "Mock processor: checkout",
		"document_id", req.DocumentID, "amount", req.Amount.String(), "method", req.Method)

	if m.SimulateCheckoutFailure {
		return nil, fmt.Errorf("mock processor: simulated checkout failure")
	}

	gatewayID := "mock_txn_" + uuid.New().String()
	m.mu.Lock()
	m.statuses[gatewayID] = domain.StatusCreated
	m.mu.Unlock()
	return &CheckoutResponse{GatewayTransactionID: gatewayID}, nil
}

func (m *MockProcessorAdapter) ProcessInstant(ctx context.Context, gatewayTxnID string, params InstantParams) (domain.Status, error) {
	m.logger.InfoContext(ctx, "Mock processor: process instant", "gateway_txn_id", gatewayTxnID, "phone", params.Phone)
	if m.SimulateProcessFailure {
		return "", fmt.Errorf("mock processor: simulated instant processing failure")
	}
	m.mu.Lock()
	m.statuses[gatewayTxnID] = domain.StatusPending
	m.mu.Unlock()
	return domain.StatusPending, nil
}

func (m *MockProcessorAdapter) ProcessReference(ctx context.Context, gatewayTxnID string) (*ReferenceDetails, error) {
	m.logger.InfoContext(ctx, "Mock processor: process reference", "gateway_txn_id", gatewayTxnID)
	if m.SimulateProcessFailure {
		return nil, fmt.Errorf("mock processor: simulated reference issuance failure")
	}
	m.mu.Lock()
	m.statuses[gatewayTxnID] = domain.StatusPending
	m.mu.Unlock()
	return &ReferenceDetails{
		Entity:    m.ReferenceEntity,
		Reference: fmt.Sprintf("%09d", time.Now().UnixNano()%1_000_000_000),
		ExpiresAt: time.Now().UTC().Add(m.ReferenceTTL),
	}, nil
}

func (m *MockProcessorAdapter) ProcessManual(ctx context.Context, gatewayTxnID string, referenceInfo string) (domain.Status, error) {
	m.logger.InfoContext(ctx, "Mock processor: process manual", "gateway_txn_id", gatewayTxnID, "reference_info", referenceInfo)
	if m.SimulateProcessFailure {
		return "", fmt.Errorf("mock processor: simulated manual submission failure")
	}
	m.mu.Lock()
	m.statuses[gatewayTxnID] = domain.StatusPendingValidation
	m.mu.Unlock()
	return domain.StatusPendingValidation, nil
}

func (m *MockProcessorAdapter) GetStatus(ctx context.Context, gatewayTxnID string) (domain.Status, error) {
	m.mu.Lock()
	status, ok := m.statuses[gatewayTxnID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mock processor: unknown transaction %s", gatewayTxnID)
	}
	m.logger.InfoContext(ctx, "Mock processor: status query", "gateway_txn_id", gatewayTxnID, "status", status)
	return status, nil
}
