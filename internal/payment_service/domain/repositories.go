package domain

import (
	"context"

	"github.com/google/uuid"
)

// HistoryFilter narrows and pages the transaction history listing.
type HistoryFilter struct {
	Status   *Status
	Method   *Method
	Page     int
	PageSize int
}

// TransactionRepository persists Transaction records.
type TransactionRepository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByGatewayTransactionID(ctx context.Context, gatewayTxnID string) (*Transaction, error)
	Update(ctx context.Context, txn *Transaction) error
	ListPendingValidation(ctx context.Context) ([]*Transaction, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*Transaction, int, error)
}
