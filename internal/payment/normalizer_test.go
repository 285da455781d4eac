package payment

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
)

const validRef = "79927398713"

func TestNormalize_Cardpay(t *testing.T) {
	n := NewDefaultNormalizer()

	tests := []struct {
		status string
		want   model.Outcome
	}{
		{"approved", model.OutcomeApproved},
		{"pending", model.OutcomePending},
		{"in_process", model.OutcomePending},
		{"authorized", model.OutcomePending},
		{"rejected", model.OutcomeRejected},
		{"cancelled", model.OutcomeRejected},
		{"refunded", model.OutcomeRejected},
		{"charged_back", model.OutcomeRejected},
		{"APPROVED", model.OutcomeApproved},
		{"in_mediation", model.OutcomeUnhandled},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			raw := []byte(`{"id": 1234567, "status": "` + tt.status + `", "external_reference": "` + validRef + `", "payment_method_id": "visa"}`)

			out, err := n.Normalize(model.ProviderCardpay, raw)
			require.NoError(t, err)

			assert.Equal(t, model.ProviderCardpay, out.Provider)
			assert.Equal(t, validRef, out.ExternalOrderRef)
			assert.Equal(t, "1234567", out.TransactionID)
			assert.Equal(t, tt.want, out.Outcome)
			assert.Equal(t, tt.status, out.NativeStatus)
			assert.Equal(t, "visa", out.PaymentMethod)
			assert.JSONEq(t, string(raw), string(out.RawPayload))
		})
	}
}

func TestNormalize_Walletpay(t *testing.T) {
	n := NewDefaultNormalizer()

	tests := []struct {
		status string
		want   model.Outcome
	}{
		{"PAID", model.OutcomeApproved},
		{"UNPAID", model.OutcomePending},
		{"EXPIRED", model.OutcomeRejected},
		{"FAILED", model.OutcomeRejected},
		{"CANCELLED", model.OutcomeRejected},
		{"paid", model.OutcomeApproved},
		{"REFUND_REQUESTED", model.OutcomeUnhandled},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			raw := []byte(`{"order_reference": "` + validRef + `", "transaction_id": "tx-1", "status": "` + tt.status + `", "payment_method": "wallet"}`)

			out, err := n.Normalize(model.ProviderWalletpay, raw)
			require.NoError(t, err)

			assert.Equal(t, model.ProviderWalletpay, out.Provider)
			assert.Equal(t, validRef, out.ExternalOrderRef)
			assert.Equal(t, "tx-1", out.TransactionID)
			assert.Equal(t, tt.want, out.Outcome)
			assert.Equal(t, "wallet", out.PaymentMethod)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	n := NewDefaultNormalizer()

	tests := []struct {
		name     string
		provider model.Provider
		raw      string
	}{
		{"cardpay invalid json", model.ProviderCardpay, `{"id":`},
		{"cardpay missing reference", model.ProviderCardpay, `{"id": 1, "status": "approved"}`},
		{"cardpay missing id", model.ProviderCardpay, `{"status": "approved", "external_reference": "` + validRef + `"}`},
		{"cardpay bad check digit", model.ProviderCardpay, `{"id": 1, "status": "approved", "external_reference": "79927398710"}`},
		{"walletpay missing reference", model.ProviderWalletpay, `{"transaction_id": "t", "status": "PAID"}`},
		{"walletpay missing status", model.ProviderWalletpay, `{"order_reference": "` + validRef + `"}`},
		{"walletpay not json", model.ProviderWalletpay, `data=1`},
		{"unknown provider", model.Provider("paypal"), `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.provider, []byte(tt.raw))
			require.ErrorIs(t, err, model.ErrMalformedNotification)
		})
	}
}

func TestParseCardpayNotification(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		n, err := ParseCardpayNotification([]byte(`{"type":"payment","action":"payment.updated","data":{"id":"987"}}`), url.Values{})
		require.NoError(t, err)
		assert.True(t, n.IsPayment())
		assert.Equal(t, "987", n.PaymentID)
	})

	t.Run("numeric id", func(t *testing.T) {
		n, err := ParseCardpayNotification([]byte(`{"type":"payment","data":{"id":987}}`), url.Values{})
		require.NoError(t, err)
		assert.Equal(t, "987", n.PaymentID)
	})

	t.Run("query parameters", func(t *testing.T) {
		n, err := ParseCardpayNotification(nil, url.Values{"topic": {"payment"}, "id": {"42"}})
		require.NoError(t, err)
		assert.True(t, n.IsPayment())
		assert.Equal(t, "42", n.PaymentID)
	})

	t.Run("other topic", func(t *testing.T) {
		n, err := ParseCardpayNotification(nil, url.Values{"topic": {"merchant_order"}, "id": {"42"}})
		require.NoError(t, err)
		assert.False(t, n.IsPayment())
	})

	t.Run("payment without id", func(t *testing.T) {
		_, err := ParseCardpayNotification([]byte(`{"type":"payment","data":{}}`), url.Values{})
		require.ErrorIs(t, err, model.ErrMalformedNotification)
	})

	t.Run("no topic", func(t *testing.T) {
		_, err := ParseCardpayNotification(nil, url.Values{})
		require.ErrorIs(t, err, model.ErrMalformedNotification)
	})

	t.Run("broken body", func(t *testing.T) {
		_, err := ParseCardpayNotification([]byte(`{`), url.Values{})
		require.ErrorIs(t, err, model.ErrMalformedNotification)
	})
}
