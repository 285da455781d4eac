package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmeshcher/storefront/internal/model"
)

var cardpayOutcomes = map[string]model.Outcome{
	"approved":     model.OutcomeApproved,
	"pending":      model.OutcomePending,
	"in_process":   model.OutcomePending,
	"authorized":   model.OutcomePending,
	"rejected":     model.OutcomeRejected,
	"cancelled":    model.OutcomeRejected,
	"refunded":     model.OutcomeRejected,
	"charged_back": model.OutcomeRejected,
}

// CardpayPayment описывает платёж в ответе API cardpay.
type CardpayPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	PaymentMethodID   string      `json:"payment_method_id"`
	PaymentTypeID     string      `json:"payment_type_id"`
}

// CardpayParser разбирает платёж, полученный из API cardpay.
type CardpayParser struct{}

// Provider возвращает идентификатор провайдера.
func (CardpayParser) Provider() model.Provider {
	return model.ProviderCardpay
}

// Parse разбирает JSON платежа cardpay.
func (CardpayParser) Parse(raw []byte) (model.PaymentOutcome, error) {
	var p CardpayPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.PaymentOutcome{}, fmt.Errorf("%w: decode cardpay payment: %v", model.ErrMalformedNotification, err)
	}
	if p.ID == "" {
		return model.PaymentOutcome{}, fmt.Errorf("%w: cardpay payment without id", model.ErrMalformedNotification)
	}

	status := strings.ToLower(strings.TrimSpace(p.Status))

	method := p.PaymentMethodID
	if method == "" {
		method = p.PaymentTypeID
	}

	return model.PaymentOutcome{
		ExternalOrderRef: p.ExternalReference,
		TransactionID:    p.ID.String(),
		Outcome:          lookup(cardpayOutcomes, status),
		NativeStatus:     p.Status,
		PaymentMethod:    method,
		RawPayload:       raw,
	}, nil
}

// CardpayNotification описывает уведомление cardpay. Само уведомление содержит только
// идентификатор ресурса, детали платежа запрашиваются через API.
type CardpayNotification struct {
	Topic     string
	PaymentID string
}

// IsPayment сообщает, что уведомление относится к платежу.
func (n CardpayNotification) IsPayment() bool {
	return n.Topic == "payment"
}

type cardpayEnvelope struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// ParseCardpayNotification извлекает тему и идентификатор платежа из тела
// или из параметров запроса (формат IPN: ?topic=payment&id=...).
func ParseCardpayNotification(body []byte, query url.Values) (CardpayNotification, error) {
	var n CardpayNotification

	if len(strings.TrimSpace(string(body))) > 0 {
		var env cardpayEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return n, fmt.Errorf("%w: decode cardpay notification: %v", model.ErrMalformedNotification, err)
		}
		n.Topic = env.Type
		n.PaymentID = env.Data.ID.String()
	}

	if n.Topic == "" {
		n.Topic = firstNonEmpty(query.Get("topic"), query.Get("type"))
	}
	if n.PaymentID == "" {
		n.PaymentID = firstNonEmpty(query.Get("id"), query.Get("data.id"))
	}

	if n.Topic == "" {
		return n, fmt.Errorf("%w: cardpay notification without topic", model.ErrMalformedNotification)
	}
	if n.IsPayment() && n.PaymentID == "" {
		return n, fmt.Errorf("%w: cardpay payment notification without id", model.ErrMalformedNotification)
	}

	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
