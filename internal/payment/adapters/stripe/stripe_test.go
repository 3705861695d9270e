package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	p, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{
		"secret_key":     "sk_test_123",
		"webhook_secret": "whsec_test",
		"base_url":       baseURL,
	}})
	require.NoError(t, err)
	return p.(*Adapter)
}

func TestFactoryRequiresSecrets(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{"secret_key": "sk"}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)

	p, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{
		"secret_key": "sk", "webhook_secret": "whsec",
	}})
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, p.(*Adapter).baseURL)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","type":"charge.refunded","data":{"object":{}}}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, "")
	adapter.now = func() time.Time { return now }

	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader("whsec_test", payload, now.Unix()))
	if err := adapter.Verify(context.Background(), payload, header); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	header.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, now.Unix()))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, header), paymentdomain.ErrInvalidSignature)

	header.Set("Stripe-Signature", buildStripeSignatureHeader("whsec_test", payload, now.Add(-10*time.Minute).Unix()))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, header), paymentdomain.ErrInvalidSignature)

	header.Set("Stripe-Signature", buildStripeSignatureHeader("whsec_test", []byte(`{"tampered":true}`), now.Unix()))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, header), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	invoiceID := node.Generate()
	txnID := node.Generate()
	created := time.Now().UTC().Unix()
	metadata := map[string]any{
		"tenant_id":      "clinic-a",
		"invoice_id":     invoiceID.String(),
		"transaction_id": txnID.String(),
	}

	tests := []struct {
		name        string
		event       any
		wantType    string
		amount      int64
		paymentID   string
		chargeID    string
		fullRefund  bool
		failureText string
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id": "evt_pi", "type": "payment_intent.succeeded", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "pi_1", "amount": 198000, "amount_received": 198000, "currency": "pyg",
				"latest_charge": "ch_1", "metadata": metadata,
			}},
		},
		wantType:  paymentdomain.EventTypePaymentSucceeded,
		amount:    198000,
		paymentID: "pi_1",
		chargeID:  "ch_1",
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id": "evt_fail", "type": "payment_intent.payment_failed", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "pi_2", "amount": 5000, "currency": "pyg",
				"last_payment_error": map[string]any{"code": "card_declined", "message": "Your card was declined."},
				"metadata":           metadata,
			}},
		},
		wantType:    paymentdomain.EventTypePaymentFailed,
		amount:      5000,
		paymentID:   "pi_2",
		failureText: "Your card was declined.",
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id": "evt_refund", "type": "charge.refunded", "created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "ch_3", "payment_intent": "pi_3", "amount": 198000, "amount_refunded": 198000,
				"refunded": true, "currency": "pyg", "metadata": metadata,
			}},
		},
		wantType:   paymentdomain.EventTypeRefunded,
		amount:     198000,
		paymentID:  "pi_3",
		chargeID:   "ch_3",
		fullRefund: true,
	}}

	adapter := newTestAdapter(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			require.NoError(t, err)

			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, event.Type)
			assert.Equal(t, tt.amount, event.Amount)
			assert.Equal(t, "PYG", event.Currency)
			assert.Equal(t, "clinic-a", event.TenantID)
			assert.Equal(t, tt.paymentID, event.ProviderPaymentID)
			assert.Equal(t, tt.chargeID, event.ProviderChargeID)
			assert.Equal(t, tt.fullRefund, event.FullyRefunded)
			assert.Equal(t, tt.failureText, event.FailureMessage)
			require.NotNil(t, event.InvoiceID)
			assert.Equal(t, invoiceID, *event.InvoiceID)
			require.NotNil(t, event.TransactionID)
			assert.Equal(t, txnID, *event.TransactionID)
		})
	}
}

func TestParseRejectsUnknownAndUnscopedEvents(t *testing.T) {
	adapter := newTestAdapter(t, "")

	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	_, err = adapter.Parse(context.Background(), []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{}}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidTenant)

	_, err = adapter.Parse(context.Background(), []byte(`not-json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestCreateCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "txn_42", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "198000", r.PostForm.Get("amount"))
		assert.Equal(t, "pyg", r.PostForm.Get("currency"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "pm_1", r.PostForm.Get("payment_method"))
		assert.Equal(t, "true", r.PostForm.Get("confirm"))
		assert.Equal(t, "true", r.PostForm.Get("off_session"))
		assert.Equal(t, "clinic-a", r.PostForm.Get("metadata[tenant_id]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"requires_action","client_secret":"pi_1_secret","latest_charge":null}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	charge, err := adapter.CreateCharge(context.Background(), paymentdomain.ChargeRequest{
		AmountMinor:      198000,
		Currency:         "PYG",
		CustomerRef:      "cus_1",
		PaymentMethodRef: "pm_1",
		Metadata:         map[string]string{"tenant_id": "clinic-a"},
		IdempotencyKey:   "txn_42",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", charge.ID)
	assert.Equal(t, paymentdomain.ChargeStatusRequiresAction, charge.Status)
	assert.Equal(t, "pi_1_secret", charge.ClientSecret)
	assert.Empty(t, charge.LatestChargeRef)
}

func TestCreateChargeDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.CreateCharge(context.Background(), paymentdomain.ChargeRequest{
		AmountMinor: 100, Currency: "usd", PaymentMethodRef: "pm_1",
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "card_declined", apiErr.Code)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func buildStripeSignatureHeader(secret string, payload []byte, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
