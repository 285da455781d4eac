package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/repository"
)

// HandleNotification нормализует уведомление провайдера и применяет его к заказу.
func (s *Service) HandleNotification(ctx context.Context, provider model.Provider, raw []byte) (model.ReconciliationResult, error) {
	out, err := s.normalizer.Normalize(provider, raw)
	if err != nil {
		return model.ReconciliationResult{}, err
	}
	return s.Reconcile(ctx, out)
}

// HandleCardpayNotification получает детали платежа из API cardpay и применяет их к заказу.
// Уведомления о других ресурсах подтверждаются без действий.
func (s *Service) HandleCardpayNotification(ctx context.Context, n payment.CardpayNotification) (model.ReconciliationResult, error) {
	if !n.IsPayment() {
		s.logger.Debug("cardpay notification skipped", zap.String("topic", n.Topic))
		return model.ReconciliationResult{Action: model.ActionIgnored}, nil
	}
	if s.cardpay == nil {
		return model.ReconciliationResult{}, fmt.Errorf("%w: cardpay client not configured", model.ErrUpstreamUnavailable)
	}

	raw, err := s.cardpay.GetPayment(ctx, n.PaymentID)
	if err != nil {
		return model.ReconciliationResult{}, err
	}

	return s.HandleNotification(ctx, model.ProviderCardpay, raw)
}

// Reconcile применяет результат платежа к заказу. Повторная доставка того же
// результата не меняет заказ и не списывает товар повторно.
func (s *Service) Reconcile(ctx context.Context, out model.PaymentOutcome) (model.ReconciliationResult, error) {
	log := s.logger.With(
		zap.String("order", out.ExternalOrderRef),
		zap.String("provider", string(out.Provider)),
		zap.String("outcome", string(out.Outcome)),
		zap.String("native_status", out.NativeStatus),
	)

	res := model.ReconciliationResult{OrderNumber: out.ExternalOrderRef}

	if _, ok := out.Outcome.PaymentStatus(); !ok {
		log.Info("payment outcome not handled")
		res.Action = model.ActionIgnored
		return res, nil
	}

	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, out)
		if err != nil {
			log.Warn("delivery cache unavailable", zap.Error(err))
		} else if seen {
			log.Info("payment notification already processed")
			res.Action = model.ActionDuplicate
			return res, nil
		}
	}

	current, err := s.store.GetOrderByNumber(ctx, out.ExternalOrderRef)
	if err != nil {
		return res, err
	}
	if current.Payment.Status == model.PaymentStatusApproved {
		log.Info("payment already approved")
		res = duplicateResult(current)
		s.remember(ctx, log, out)
		return res, nil
	}

	var confirmed *model.Order
	err = s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.store.WithOrderLock(ctx, out.ExternalOrderRef, func(ctx context.Context, tx repository.OrderTx) error {
			var err error
			res, confirmed, err = s.applyOutcome(ctx, tx, out)
			return err
		})
	})
	if err != nil {
		log.Error("failed to reconcile payment", zap.Error(err))
		return model.ReconciliationResult{OrderNumber: out.ExternalOrderRef}, err
	}

	log.Info("payment notification reconciled",
		zap.String("action", string(res.Action)),
		zap.String("previous", string(res.Previous)),
		zap.String("status", string(res.Status)),
		zap.Bool("stock_deducted", res.StockDeducted),
	)

	if res.Action != model.ActionIgnored {
		s.remember(ctx, log, out)
	}
	if res.Notify {
		s.dispatchConfirmation(ctx, confirmed)
	}

	return res, nil
}

// applyOutcome выполняет переход под блокировкой заказа. Заказ перечитан
// внутри транзакции, поэтому проверка идемпотентности повторяется.
func (s *Service) applyOutcome(ctx context.Context, tx repository.OrderTx, out model.PaymentOutcome) (model.ReconciliationResult, *model.Order, error) {
	o := tx.Order()

	if o.Payment.Status == model.PaymentStatusApproved {
		return duplicateResult(o), nil, nil
	}
	if o.Payment.Provider != "" && o.Payment.Provider != out.Provider {
		return s.ignore(o, out, fmt.Errorf("order is paid via %s", o.Payment.Provider)), nil, nil
	}

	res := model.ReconciliationResult{
		OrderNumber: o.Number,
		Previous:    o.Status,
	}
	now := s.now()

	var (
		tr  model.Transition
		err error
	)

	switch out.Outcome {
	case model.OutcomeApproved:
		tr, err = model.NextTransition(o.Status, model.EventPaymentApproved)
		if err != nil {
			return s.ignore(o, out, err), nil, nil
		}

		err = tx.AdjustStock(ctx, o.StockItems(), model.DirectionDeduct)
		switch {
		case err == nil:
			res.StockDeducted = true
		case errors.Is(err, model.ErrInsufficientStock), errors.Is(err, model.ErrNotFound):
			s.logger.Warn("order paid but out of stock", zap.String("order", o.Number), zap.Error(err))
			tr, err = model.NextTransition(o.Status, model.EventStockShortage)
			if err != nil {
				return res, nil, err
			}
		default:
			return res, nil, err
		}
		o.RecordPayment(model.PaymentStatusApproved, out)

	case model.OutcomePending:
		tr, err = model.NextTransition(o.Status, model.EventPaymentPending)
		if err != nil {
			return s.ignore(o, out, err), nil, nil
		}
		if !o.RecordPayment(model.PaymentStatusPending, out) {
			return duplicateResult(o), nil, nil
		}
		o.UpdatedAt = now

	case model.OutcomeRejected:
		if o.Payment.Status == model.PaymentStatusRejected {
			return duplicateResult(o), nil, nil
		}
		tr, err = model.NextTransition(o.Status, model.EventPaymentRejected)
		if err != nil {
			return s.ignore(o, out, err), nil, nil
		}
		o.RecordPayment(model.PaymentStatusRejected, out)

	default:
		return s.ignore(o, out, nil), nil, nil
	}

	if _, err := o.Apply(tr, now); err != nil {
		return res, nil, err
	}
	if err := tx.SaveOrder(ctx); err != nil {
		return res, nil, err
	}

	res.Action = model.ActionApplied
	res.Status = o.Status
	res.PaymentStatus = o.Payment.Status
	res.Notify = res.StockDeducted && tr.Has(model.EffectNotifyConfirmed)

	if res.Notify {
		return res, cloneOrder(o), nil
	}
	return res, nil, nil
}

// ignore подтверждает уведомление, которое нельзя применить к текущему статусу заказа.
func (s *Service) ignore(o *model.Order, out model.PaymentOutcome, reason error) model.ReconciliationResult {
	s.logger.Warn("payment notification ignored",
		zap.String("order", o.Number),
		zap.String("status", string(o.Status)),
		zap.String("outcome", string(out.Outcome)),
		zap.Error(reason),
	)
	return model.ReconciliationResult{
		OrderNumber:   o.Number,
		Action:        model.ActionIgnored,
		Previous:      o.Status,
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
	}
}

func (s *Service) remember(ctx context.Context, log *zap.Logger, out model.PaymentOutcome) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, out); err != nil {
		log.Warn("failed to remember delivery", zap.Error(err))
	}
}

func duplicateResult(o *model.Order) model.ReconciliationResult {
	return model.ReconciliationResult{
		OrderNumber:   o.Number,
		Action:        model.ActionDuplicate,
		Previous:      o.Status,
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
	}
}
