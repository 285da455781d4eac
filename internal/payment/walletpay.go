package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmeshcher/storefront/internal/model"
)

var walletpayOutcomes = map[string]model.Outcome{
	"PAID":      model.OutcomeApproved,
	"UNPAID":    model.OutcomePending,
	"EXPIRED":   model.OutcomeRejected,
	"FAILED":    model.OutcomeRejected,
	"CANCELLED": model.OutcomeRejected,
}

// WalletpayNotification описывает уведомление walletpay.
type WalletpayNotification struct {
	OrderReference string `json:"order_reference"`
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	PaymentMethod  string `json:"payment_method"`
}

// WalletpayParser разбирает уведомления walletpay.
type WalletpayParser struct{}

// Provider возвращает идентификатор провайдера.
func (WalletpayParser) Provider() model.Provider {
	return model.ProviderWalletpay
}

// Parse разбирает JSON уведомления walletpay.
func (WalletpayParser) Parse(raw []byte) (model.PaymentOutcome, error) {
	var n WalletpayNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.PaymentOutcome{}, fmt.Errorf("%w: decode walletpay notification: %v", model.ErrMalformedNotification, err)
	}

	status := strings.ToUpper(strings.TrimSpace(n.Status))
	if status == "" {
		return model.PaymentOutcome{}, fmt.Errorf("%w: walletpay notification without status", model.ErrMalformedNotification)
	}

	return model.PaymentOutcome{
		ExternalOrderRef: n.OrderReference,
		TransactionID:    n.TransactionID,
		Outcome:          lookup(walletpayOutcomes, status),
		NativeStatus:     n.Status,
		PaymentMethod:    n.PaymentMethod,
		RawPayload:       raw,
	}, nil
}
