// Package service реализует бизнес-логику сервиса заказов витрины.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/notify"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/repository"
)

// Store описывает контракт доступа к данным, используемый сервисом.
type Store interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	FindPricesAndStock(ctx context.Context, productIDs []int64) (map[int64]model.CatalogProduct, error)
	WithOrderLock(ctx context.Context, number string, fn func(ctx context.Context, tx repository.OrderTx) error) error
}

// PaymentFetcher запрашивает детали платежа у провайдера.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, id string) ([]byte, error)
}

// DeliveryCache запоминает уже обработанные доставки уведомлений.
type DeliveryCache interface {
	Seen(ctx context.Context, out model.PaymentOutcome) (bool, error)
	Remember(ctx context.Context, out model.PaymentOutcome) error
}

// Option настраивает сервис.
type Option func(*Service)

// WithDispatcher задаёт получателя подтверждений заказов.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithDeliveryCache включает быстрый отсев повторных доставок.
func WithDeliveryCache(c DeliveryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCardpay задаёт клиент API cardpay.
func WithCardpay(f PaymentFetcher) Option {
	return func(s *Service) { s.cardpay = f }
}

// WithContentionRetries задаёт число повторов при конфликте блокировок и начальную паузу.
func WithContentionRetries(n uint64, base time.Duration) Option {
	return func(s *Service) {
		s.retries = n
		s.retryBase = base
	}
}

// Service содержит бизнес-логику сервиса заказов.
type Service struct {
	store      Store
	normalizer *payment.Normalizer
	dispatcher notify.Dispatcher
	cache      DeliveryCache
	cardpay    PaymentFetcher
	logger     *zap.Logger

	retries   uint64
	retryBase time.Duration
	now       func() time.Time
}

// NewService создаёт новый сервис поверх хранилища.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:      store,
		normalizer: payment.NewDefaultNormalizer(),
		logger:     logger,
		retries:    3,
		retryBase:  50 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.NewLogDispatcher(logger)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// withContentionRetry повторяет fn, пока заказ заблокирован параллельной операцией.
func (s *Service) withContentionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.retries, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, model.ErrContention) {
			s.logger.Debug("order is locked, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Service) dispatchConfirmation(ctx context.Context, o *model.Order) {
	if o == nil {
		return
	}
	s.dispatcher.Dispatch(ctx, notify.NewOrderConfirmation(o))
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	c.History = append([]model.StatusEntry(nil), o.History...)
	return &c
}
