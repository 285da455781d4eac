package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

// UpdateStatus вручную переводит заказ в целевой статус.
// Отмена оплаченного заказа возвращает товар на склад, разрешение
// PAID_BUT_OUT_OF_STOCK повторяет списание.
func (s *Service) UpdateStatus(ctx context.Context, number string, target model.OrderStatus) (*model.Order, error) {
	ev, ok := model.AdminEvent(target)
	if !ok {
		return nil, model.NewValidationError("status", "cannot be set manually to "+string(target))
	}

	var (
		updated *model.Order
		tr      model.Transition
	)
	err := s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.store.WithOrderLock(ctx, number, func(ctx context.Context, tx repository.OrderTx) error {
			o := tx.Order()

			var err error
			tr, err = model.NextTransition(o.Status, ev)
			if err != nil {
				return err
			}

			if tr.Has(model.EffectRestoreStock) {
				if err := tx.AdjustStock(ctx, o.StockItems(), model.DirectionRestore); err != nil {
					return err
				}
			}
			if tr.Has(model.EffectDeductStock) {
				if err := tx.AdjustStock(ctx, o.StockItems(), model.DirectionDeduct); err != nil {
					return err
				}
			}

			if _, err := o.Apply(tr, s.now()); err != nil {
				return err
			}
			if err := tx.SaveOrder(ctx); err != nil {
				return err
			}

			updated = cloneOrder(o)
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("failed to update order status",
			zap.String("order", number),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("order status updated",
		zap.String("order", number),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)

	if tr.Has(model.EffectNotifyConfirmed) {
		s.dispatchConfirmation(ctx, updated)
	}

	return updated, nil
}
