package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

type createCheckoutRequest struct {
	DocumentID string          `json:"documentId" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Method     string          `json:"method" validate:"required"`
}

type processMethodRequest struct {
	Phone         string `json:"phone,omitempty"`
	ReferenceInfo string `json:"referenceInfo,omitempty"`
}

type referenceResponse struct {
	Entity    string    `json:"entity"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type transactionResponse struct {
	ID                   string             `json:"id"`
	DocumentID           string             `json:"documentId"`
	Amount               decimal.Decimal    `json:"amount"`
	Method               string             `json:"method"`
	Status               string             `json:"status"`
	GatewayTransactionID *string            `json:"transactionId,omitempty"`
	Reference            *referenceResponse `json:"reference,omitempty"`
	ReferenceInfo        *string            `json:"referenceInfo,omitempty"`
	SubmittedBy          *string            `json:"submittedBy,omitempty"`
	SubmittedAt          *time.Time         `json:"submittedAt,omitempty"`
	ValidatedBy          *string            `json:"validatedBy,omitempty"`
	ValidatedAt          *time.Time         `json:"validatedAt,omitempty"`
	StatusChangedAt      time.Time          `json:"statusChangedAt"`
	CreatedAt            time.Time          `json:"createdAt"`
}

func toTransactionResponse(txn *domain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                   txn.ID.String(),
		DocumentID:           txn.DocumentID,
		Amount:               txn.Amount,
		Method:               string(txn.Method),
		Status:               string(txn.Status),
		GatewayTransactionID: txn.GatewayTransactionID,
		ReferenceInfo:        txn.ReferenceInfo,
		SubmittedBy:          txn.SubmittedBy,
		SubmittedAt:          txn.SubmittedAt,
		ValidatedBy:          txn.ValidatedBy,
		ValidatedAt:          txn.ValidatedAt,
		StatusChangedAt:      txn.StatusChangedAt,
		CreatedAt:            txn.CreatedAt,
	}
	if txn.Reference != nil {
		resp.Reference = &referenceResponse{
			Entity:    txn.Reference.Entity,
			Reference: txn.Reference.Reference,
			ExpiresAt: txn.Reference.ExpiresAt,
		}
	}
	return resp
}

type historyResponse struct {
	Records []transactionResponse `json:"records"`
	Total   int                   `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type processorCallbackRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Status        string `json:"status" validate:"required"`
}
