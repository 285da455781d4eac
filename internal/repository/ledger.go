package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/model"
)

const (
	deductVariantQuery = `
		UPDATE product_variants SET stock = stock - $1
		WHERE id = $2 AND product_id = $3 AND stock >= $1`
	deductProductQuery = `
		UPDATE products SET stock = stock - $1
		WHERE id = $2 AND stock >= $1`
	restoreVariantQuery = `
		UPDATE product_variants SET stock = stock + $1
		WHERE id = $2 AND product_id = $3 AND stock + $1 <= $4`
	restoreProductQuery = `
		UPDATE products SET stock = stock + $1
		WHERE id = $2 AND stock + $1 <= $3`
)

// adjustStock изменяет остатки всех строк внутри точки сохранения.
// Списание выполняется условным UPDATE: строка меняется, только если остатка хватает,
// поэтому параллельные списания не уводят счётчик в минус. Если хотя бы одна строка
// не прошла, точка сохранения откатывается и внешняя транзакция остаётся пригодной.
func adjustStock(ctx context.Context, tx pgx.Tx, items []model.StockItem, dir model.Direction) error {
	if dir != model.DirectionDeduct && dir != model.DirectionRestore {
		return fmt.Errorf("%w: unknown stock direction %q", model.ErrValidation, dir)
	}

	merged := model.MergeStockItems(items)
	for _, it := range merged {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for product %d must be positive", model.ErrValidation, it.ProductID)
		}
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	for _, it := range merged {
		if err := adjustItem(ctx, sp, it, dir); err != nil {
			return err
		}
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	return nil
}

func adjustItem(ctx context.Context, tx pgx.Tx, it model.StockItem, dir model.Direction) error {
	if it.VariantID != nil {
		var (
			query string
			args  []any
		)
		if dir == model.DirectionDeduct {
			query, args = deductVariantQuery, []any{it.Quantity, *it.VariantID, it.ProductID}
		} else {
			query, args = restoreVariantQuery, []any{it.Quantity, *it.VariantID, it.ProductID, model.MaxStock}
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update variant stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return rejectItem(ctx, tx, it, dir)
		}
	}

	var (
		query string
		args  []any
	)
	if dir == model.DirectionDeduct {
		query, args = deductProductQuery, []any{it.Quantity, it.ProductID}
	} else {
		query, args = restoreProductQuery, []any{it.Quantity, it.ProductID, model.MaxStock}
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rejectItem(ctx, tx, model.StockItem{ProductID: it.ProductID, Quantity: it.Quantity}, dir)
	}

	return nil
}

// rejectItem выясняет, почему строка не изменилась: товара нет или не хватает остатка.
func rejectItem(ctx context.Context, tx pgx.Tx, it model.StockItem, dir model.Direction) error {
	var exists bool
	var err error
	if it.VariantID != nil {
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1 AND product_id = $2)`,
			*it.VariantID, it.ProductID,
		).Scan(&exists)
	} else {
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, it.ProductID).Scan(&exists)
	}
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}

	if !exists {
		return fmt.Errorf("product %d: %w", it.ProductID, model.ErrNotFound)
	}
	if dir == model.DirectionRestore {
		return fmt.Errorf("restore of product %d exceeds maximum stock %d", it.ProductID, model.MaxStock)
	}
	return &model.InsufficientStockError{ProductID: it.ProductID, VariantID: it.VariantID}
}
