// Package payment приводит уведомления платёжных провайдеров к единому виду.
package payment

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/validation"
)

// Parser разбирает уведомление конкретного провайдера.
type Parser interface {
	Provider() model.Provider
	Parse(raw []byte) (model.PaymentOutcome, error)
}

// Normalizer выбирает парсер по провайдеру и проверяет общие поля результата.
type Normalizer struct {
	parsers map[model.Provider]Parser
}

// NewNormalizer создаёт нормализатор с указанными парсерами.
func NewNormalizer(parsers ...Parser) *Normalizer {
	n := &Normalizer{parsers: make(map[model.Provider]Parser, len(parsers))}
	for _, p := range parsers {
		n.parsers[p.Provider()] = p
	}
	return n
}

// NewDefaultNormalizer создаёт нормализатор для всех поддерживаемых провайдеров.
func NewDefaultNormalizer() *Normalizer {
	return NewNormalizer(CardpayParser{}, WalletpayParser{})
}

// Normalize разбирает полезную нагрузку провайдера в model.PaymentOutcome.
// Уведомление без ссылки на заказ или с невалидным номером заказа отклоняется
// с model.ErrMalformedNotification. Неизвестный статус даёт model.OutcomeUnhandled.
func (n *Normalizer) Normalize(provider model.Provider, raw []byte) (model.PaymentOutcome, error) {
	p, ok := n.parsers[provider]
	if !ok {
		return model.PaymentOutcome{}, fmt.Errorf("%w: unsupported provider %q", model.ErrMalformedNotification, provider)
	}

	out, err := p.Parse(raw)
	if err != nil {
		return model.PaymentOutcome{}, err
	}

	out.Provider = provider
	out.ExternalOrderRef = strings.TrimSpace(out.ExternalOrderRef)
	if out.ExternalOrderRef == "" {
		return model.PaymentOutcome{}, fmt.Errorf("%w: missing external order reference", model.ErrMalformedNotification)
	}
	if !validation.IsValidOrderNumber(out.ExternalOrderRef) {
		return model.PaymentOutcome{}, fmt.Errorf("%w: invalid order reference %q", model.ErrMalformedNotification, out.ExternalOrderRef)
	}
	if out.Outcome == "" {
		out.Outcome = model.OutcomeUnhandled
	}
	if out.RawPayload == nil {
		out.RawPayload = append([]byte(nil), raw...)
	}

	return out, nil
}

func lookup(table map[string]model.Outcome, code string) model.Outcome {
	if o, ok := table[code]; ok {
		return o
	}
	return model.OutcomeUnhandled
}
