package model

import "encoding/json"

// Outcome содержит нормализованный результат платежа.
type Outcome string

const (
	OutcomeApproved  Outcome = "APPROVED"
	OutcomePending   Outcome = "PENDING"
	OutcomeRejected  Outcome = "REJECTED"
	OutcomeUnhandled Outcome = "UNHANDLED"
)

// PaymentStatus возвращает статус оплаты, соответствующий результату.
func (o Outcome) PaymentStatus() (PaymentStatus, bool) {
	switch o {
	case OutcomeApproved:
		return PaymentStatusApproved, true
	case OutcomePending:
		return PaymentStatusPending, true
	case OutcomeRejected:
		return PaymentStatusRejected, true
	}
	return "", false
}

// PaymentOutcome хранит уведомление провайдера, приведённое к общему виду.
type PaymentOutcome struct {
	Provider         Provider
	ExternalOrderRef string
	TransactionID    string
	Outcome          Outcome
	// NativeStatus содержит код статуса в терминах провайдера, только для логов.
	NativeStatus  string
	PaymentMethod string
	RawPayload    json.RawMessage
}

// ReconcileAction описывает, что движок сделал с уведомлением.
type ReconcileAction string

const (
	// ActionApplied означает, что уведомление изменило заказ.
	ActionApplied ReconcileAction = "APPLIED"
	// ActionDuplicate означает, что уведомление уже было применено ранее.
	ActionDuplicate ReconcileAction = "DUPLICATE"
	// ActionIgnored означает, что уведомление принято, но не требует действий.
	ActionIgnored ReconcileAction = "IGNORED"
)

// ReconciliationResult описывает итог применения уведомления к заказу.
type ReconciliationResult struct {
	OrderNumber   string
	Action        ReconcileAction
	Previous      OrderStatus
	Status        OrderStatus
	PaymentStatus PaymentStatus
	StockDeducted bool
	Notify        bool
}
