// Package dedup хранит отпечатки обработанных вебхуков в Redis.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/storefront/internal/model"
)

// DefaultTTL задаёт время хранения отпечатка доставки.
const DefaultTTL = 24 * time.Hour

// Cache запоминает уже обработанные доставки уведомлений.
// Кэш только ускоряет ответ на повторы, идемпотентность обеспечивается в БД.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New создаёт кэш поверх клиента Redis.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key возвращает ключ отпечатка. Пустая строка означает, что отпечаток построить нельзя.
func Key(out model.PaymentOutcome) string {
	if out.TransactionID == "" || out.Outcome == "" || out.Outcome == model.OutcomeUnhandled {
		return ""
	}
	return fmt.Sprintf("storefront:webhook:%s:%s:%s", out.Provider, out.TransactionID, out.Outcome)
}

// Seen сообщает, обрабатывалась ли уже такая доставка, и для какого заказа.
func (c *Cache) Seen(ctx context.Context, out model.PaymentOutcome) (bool, error) {
	key := Key(out)
	if key == "" {
		return false, nil
	}

	ref, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get delivery: %w", err)
	}

	return ref == out.ExternalOrderRef, nil
}

// Remember сохраняет отпечаток доставки. Существующий отпечаток не перезаписывается.
func (c *Cache) Remember(ctx context.Context, out model.PaymentOutcome) error {
	key := Key(out)
	if key == "" {
		return nil
	}

	if err := c.rdb.SetNX(ctx, key, out.ExternalOrderRef, c.ttl).Err(); err != nil {
		return fmt.Errorf("remember delivery: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
