package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/adapters/gateway"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
)

const testCallbackToken = "processor-token"

func TestWebhookHandler_FansOutCallback(t *testing.T) {
	broker := newRecordingBroker()
	h := NewWebhookHandler(broker, testCallbackToken, testLogger(), validator.New())

	body, err := json.Marshal(map[string]string{"transactionId": "gw_42", "status": "SUCCESS"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
	req.Header.Set(CallbackTokenHeader, testCallbackToken)
	rec := httptest.NewRecorder()
	h.HandleProcessorCallback(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	published := broker.messages(app.StatusUpdateSubject)
	require.Len(t, published, 1)

	var event app.StatusUpdateEvent
	require.NoError(t, json.Unmarshal(published[0].Data, &event))
	assert.Equal(t, "gw_42", event.GatewayTransactionID)
	assert.Equal(t, domain.StatusSuccess, event.Status)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestWebhookHandler_RejectsUnauthenticated(t *testing.T) {
	broker := newRecordingBroker()
	h := NewWebhookHandler(broker, testCallbackToken, testLogger(), validator.New())

	// A payer knows their own gateway transaction id; without the processor's
	// token a forged terminal status must not reach the fan-out.
	body := []byte(`{"transactionId":"gw_42","status":"SUCCESS"}`)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong token", "guessed-token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
			if tc.token != "" {
				req.Header.Set(CallbackTokenHeader, tc.token)
			}
			rec := httptest.NewRecorder()
			h.HandleProcessorCallback(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Empty(t, broker.messages(app.StatusUpdateSubject))
}

func TestWebhookHandler_RejectsMalformed(t *testing.T) {
	broker := newRecordingBroker()
	h := NewWebhookHandler(broker, testCallbackToken, testLogger(), validator.New())

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"missing status", `{"transactionId":"gw_42"}`},
		{"missing transaction id", `{"status":"SUCCESS"}`},
		{"unknown status", `{"transactionId":"gw_42","status":"SHIPPED"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewBufferString(tc.body))
			req.Header.Set(CallbackTokenHeader, testCallbackToken)
			rec := httptest.NewRecorder()
			h.HandleProcessorCallback(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, broker.messages(app.StatusUpdateSubject))
}

// The callback must reach the transaction record through the same push path
// the reconciler consumes.
func TestWebhookHandler_EndToEndReconciliation(t *testing.T) {
	logger := testLogger()
	clk := clock.NewManual(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newMemoryTxnRepo()
	broker := newRecordingBroker()
	reconciler := app.NewReconciler(repo, gateway.NewMockProcessorAdapter(logger), broker, clk, logger)

	gatewayID := "gw_e2e"
	txn := &domain.Transaction{
		ID:                   uuid.New(),
		DocumentID:           "D1",
		Amount:               decimal.NewFromInt(10),
		Method:               domain.MethodInstantMobile,
		Status:               domain.StatusPending,
		GatewayTransactionID: &gatewayID,
		StatusChangedAt:      clk.Now(),
		CreatedAt:            clk.Now(),
		UpdatedAt:            clk.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), txn))
	require.NoError(t, repo.Update(context.Background(), txn))

	_, err := reconciler.StartPushConsumer(context.Background(), "payments")
	require.NoError(t, err)

	h := NewWebhookHandler(broker, testCallbackToken, logger, validator.New())
	body := []byte(`{"transactionId":"gw_e2e","status":"DECLINED"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
	req.Header.Set(CallbackTokenHeader, testCallbackToken)
	rec := httptest.NewRecorder()
	h.HandleProcessorCallback(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, stored.Status)
}
