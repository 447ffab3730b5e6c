package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

// CheckoutRequest is the method-agnostic first phase sent to the processor.
type CheckoutRequest struct {
	DocumentID string
	Amount     decimal.Decimal
	Method     domain.Method
	// InternalRequestID is our transaction id, passed for idempotency and
	// correlation in processor logs.
	InternalRequestID string
}

// CheckoutResponse carries the processor-assigned transaction identifier.
type CheckoutResponse struct {
	GatewayTransactionID string
}

// InstantParams are the inputs for instant mobile payments.
type InstantParams struct {
	Phone string
}

// ReferenceDetails are the credentials issued for an ATM-reference payment.
type ReferenceDetails struct {
	Entity    string
	Reference string
	ExpiresAt time.Time
}

// ProcessorAdapter is the client-observable contract of the payment processor.
// The backend integration behind it (card networks, bank rails) is out of
// scope; implementations translate these calls onto whatever wire the
// processor speaks.
type ProcessorAdapter interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error)
	ProcessInstant(ctx context.Context, gatewayTxnID string, params InstantParams) (domain.Status, error)
	ProcessReference(ctx context.Context, gatewayTxnID string) (*ReferenceDetails, error)
	ProcessManual(ctx context.Context, gatewayTxnID string, referenceInfo string) (domain.Status, error)
	GetStatus(ctx context.Context, gatewayTxnID string) (domain.Status, error)
}
