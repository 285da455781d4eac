package model

import (
	"fmt"
	"time"
)

// Event описывает событие, которое может перевести заказ в другой статус.
type Event string

const (
	EventPaymentApproved Event = "payment_approved"
	EventStockShortage   Event = "stock_shortage"
	EventPaymentPending  Event = "payment_pending"
	EventPaymentRejected Event = "payment_rejected"
	EventShip            Event = "ship"
	EventDeliver         Event = "deliver"
	EventCancel          Event = "cancel"
	EventResolve         Event = "resolve"
)

// Effect задаёт побочное действие перехода.
type Effect uint8

const (
	EffectDeductStock Effect = 1 << iota
	EffectRestoreStock
	EffectNotifyConfirmed
)

// Transition описывает разрешённый переход между статусами.
type Transition struct {
	From    OrderStatus
	To      OrderStatus
	Event   Event
	Effects Effect
}

// Has сообщает, есть ли у перехода указанный эффект.
func (t Transition) Has(e Effect) bool {
	return t.Effects&e != 0
}

type transitionKey struct {
	from  OrderStatus
	event Event
}

var lifecycle = map[transitionKey]Transition{}

func allow(from OrderStatus, ev Event, to OrderStatus, effects Effect) {
	lifecycle[transitionKey{from, ev}] = Transition{From: from, To: to, Event: ev, Effects: effects}
}

func init() {
	// Уведомления провайдеров.
	allow(OrderStatusAwaitingPayment, EventPaymentApproved, OrderStatusProcessing, EffectDeductStock|EffectNotifyConfirmed)
	allow(OrderStatusAwaitingPayment, EventStockShortage, OrderStatusPaidButOutOfStock, 0)
	allow(OrderStatusAwaitingPayment, EventPaymentPending, OrderStatusAwaitingPayment, 0)
	allow(OrderStatusAwaitingPayment, EventPaymentRejected, OrderStatusCanceled, 0)

	// Административные переходы.
	allow(OrderStatusProcessing, EventShip, OrderStatusShipped, 0)
	allow(OrderStatusShipped, EventDeliver, OrderStatusDelivered, 0)
	allow(OrderStatusAwaitingPayment, EventCancel, OrderStatusCanceled, 0)
	allow(OrderStatusProcessing, EventCancel, OrderStatusCanceled, EffectRestoreStock)
	allow(OrderStatusPaidButOutOfStock, EventCancel, OrderStatusCanceled, 0)
	allow(OrderStatusPaidButOutOfStock, EventResolve, OrderStatusProcessing, EffectDeductStock|EffectNotifyConfirmed)
}

// NextTransition возвращает переход для события из статуса from, не изменяя заказ.
func NextTransition(from OrderStatus, ev Event) (Transition, error) {
	tr, ok := lifecycle[transitionKey{from, ev}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return tr, nil
}

// AdminEvent возвращает событие, переводящее заказ в целевой статус вручную.
func AdminEvent(target OrderStatus) (Event, bool) {
	switch target {
	case OrderStatusShipped:
		return EventShip, true
	case OrderStatusDelivered:
		return EventDeliver, true
	case OrderStatusCanceled:
		return EventCancel, true
	case OrderStatusProcessing:
		return EventResolve, true
	}
	return "", false
}

func (o *Order) startHistory(now time.Time) {
	o.History = []StatusEntry{{
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
		CreatedAt:     now,
	}}
}

// Init переводит новый заказ в начальное состояние.
func (o *Order) Init(provider Provider, now time.Time) {
	o.Status = OrderStatusAwaitingPayment
	o.Payment = Payment{
		Provider: provider,
		Status:   PaymentStatusPending,
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	o.startHistory(now)
}

// Apply выполняет переход. Запись в историю добавляется, только если
// изменился статус заказа или статус оплаты относительно последней записи.
func (o *Order) Apply(tr Transition, now time.Time) (bool, error) {
	if tr.From != o.Status {
		return false, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, tr.Event, o.Status)
	}
	if _, err := NextTransition(tr.From, tr.Event); err != nil {
		return false, err
	}

	o.Status = tr.To

	if n := len(o.History); n > 0 {
		last := o.History[n-1]
		if last.Status == o.Status && last.PaymentStatus == o.Payment.Status {
			return false, nil
		}
	}

	o.History = append(o.History, StatusEntry{
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
		CreatedAt:     now,
	})
	o.UpdatedAt = now
	return true, nil
}

// RecordPayment обновляет платёжную запись и сообщает, изменилось ли что-нибудь.
func (o *Order) RecordPayment(status PaymentStatus, out PaymentOutcome) bool {
	changed := false

	if o.Payment.Status != status {
		o.Payment.Status = status
		changed = true
	}
	if out.TransactionID != "" && (o.Payment.TransactionID == nil || *o.Payment.TransactionID != out.TransactionID) {
		tx := out.TransactionID
		o.Payment.TransactionID = &tx
		changed = true
	}
	if out.PaymentMethod != "" && o.Payment.Method != out.PaymentMethod {
		o.Payment.Method = out.PaymentMethod
		changed = true
	}
	if changed && len(out.RawPayload) > 0 {
		o.Payment.RawPayload = out.RawPayload
	}
	return changed
}
